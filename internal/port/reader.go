package port

import "io"

// Source is a byte stream plus the filename used to pick an extraction rule.
type Source struct {
	Name string
	Data io.Reader
}

// Reader extracts raw text from an uploaded source. Supported formats and
// their extraction rules are the reader's concern, not the pipeline's.
type Reader interface {
	// Extract returns the plain text of the source, or ErrUnsupportedFormat
	// for a file type it cannot handle.
	Extract(src Source) (string, error)
}
