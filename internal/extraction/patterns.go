package extraction

import "regexp"

// Line shapes seen on handwritten basket bills, e.g.
// "1200 BSMR 21-07-2025 paid late".
var (
	// Full columnar line: amount, mark, date-like token (possibly a
	// range such as "21-07/2025 - 23/07/2025"), then free text.
	strictPattern = regexp.MustCompile(`^\s*(\d+[\d,.]*)\s+([A-Za-z0-9]+)\s+([\d./-]+\s*-?\s*[\d./-]*)\s*(.*)$`)

	// Loose scan pieces, matched independently anywhere in the line.
	amountPattern = regexp.MustCompile(`\d+[\d,.]*`)
	markPattern   = regexp.MustCompile(`[A-Za-z0-9]{2,}`)
	datePattern   = regexp.MustCompile(`\d{1,2}[./-]\d{1,2}[./-]\d{2,4}`)

	// Positional fallback shape checks, applied per token.
	amountToken = regexp.MustCompile(`^\d+[\d,.]*$`)
	markToken   = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	dateToken   = regexp.MustCompile(`[\d./-]+`)
)
