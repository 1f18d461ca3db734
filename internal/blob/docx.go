package blob

import (
	"bytes"
	"errors"
)

var ErrNotDOCX = errors.New("payload is not a DOCX archive")

var (
	zipHeader       = []byte("PK")
	contentTypesRef = []byte("[Content_Types].xml")
	documentPartRef = []byte("word/document.xml")
)

// ValidateDOCX is a shape check, not a full zip parse: the payload must
// carry the zip magic and reference the two entries every well-formed DOCX
// contains. Corrupt-but-plausible files are the desktop client's problem;
// this guard exists to reject base64 of something else entirely.
func ValidateDOCX(data []byte) error {
	if len(data) < len(zipHeader) || !bytes.HasPrefix(data, zipHeader) {
		return ErrNotDOCX
	}
	if !bytes.Contains(data, contentTypesRef) || !bytes.Contains(data, documentPartRef) {
		return ErrNotDOCX
	}
	return nil
}
