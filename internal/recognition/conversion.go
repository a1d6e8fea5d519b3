package recognition

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// transcribePrompt is the shared prompt used by all vision providers
// for reading basket bills.
const transcribePrompt = `You are reading a handwritten or printed bill that lists basket transactions, one per line. Each line typically contains an amount, a short alphanumeric mark identifying the party, and a date, for example:

1200 BSMR 21-07-2025
900 NR 20/07/2025

Transcribe ALL text visible in the image, exactly as written:
- One output line per line on the bill, top to bottom
- Keep the original spacing between columns where possible
- Do not correct, reorder, or interpret the values
- Do not add headers, commentary, or markdown
- If a character is unreadable, skip it rather than guessing

Return only the transcribed text.`

// pdfToImage converts a PDF to a PNG image
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Render the first page (bills are photographed one page at a time)
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// imageToPNG converts any image format to PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// HEIC/HEIF (common on iPhones) is not covered by the standard
	// image package
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") || strings.Contains(err.Error(), "unsupported") {
				return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// isHEICFormat checks if the image data is in HEIC/HEIF format.
// HEIC files carry an ftyp box at offset 4 with a HEIC-related brand.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return mimeType == "image/heic" || mimeType == "image/heif" ||
		strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// convertToPNG converts PDFs and non-PNG images to PNG format.
// Returns the PNG data and a boolean indicating if conversion occurred
func convertToPNG(imageData []byte, mimeType string) ([]byte, bool, error) {
	if mimeType == "application/pdf" {
		pngData, err := pdfToImage(imageData)
		if err != nil {
			return nil, false, fmt.Errorf("converting PDF to image: %w", err)
		}
		return pngData, true, nil
	} else if mimeType != "image/png" || isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		pngData, err := imageToPNG(imageData, mimeType)
		if err != nil {
			return nil, false, fmt.Errorf("converting image to PNG: %w", err)
		}
		return pngData, true, nil
	}
	return imageData, false, nil
}

// prepareImageData normalizes the MIME type and converts the image to
// PNG if needed. After this call the data is always PNG.
func prepareImageData(imageData []byte, contentType string) ([]byte, bool, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg" // default
	}

	finalImageData, converted, err := convertToPNG(imageData, mimeType)
	if err != nil {
		return nil, false, err
	}

	return finalImageData, converted, nil
}
