package recognition

// Recognizer defines the interface for image-to-text recognition.
type Recognizer interface {
	// Recognize reads a bill image/PDF and returns the transcribed
	// text, one line per entry as written on the bill.
	Recognize(imageData []byte, contentType string) (string, error)
	// Close closes the recognizer and releases resources
	Close() error
}
