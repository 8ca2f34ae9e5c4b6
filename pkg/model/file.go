package model

import (
	"fmt"
	"strings"
	"time"
)

// DocumentFile is a named binary attachment owned by a document.
type DocumentFile struct {
	DocumentID string    `json:"documentId"`
	Name       string    `json:"name"`
	Encoding   string    `json:"encoding,omitempty"`
	MimeType   string    `json:"mimeType,omitempty"`
	UploadedAt time.Time `json:"uploadedAt,omitzero"`
	Data       []byte    `json:"data,omitempty"`
}

// CheckFileName rejects names that cannot be used as an object key segment.
func CheckFileName(name string) error {
	if name == "" || len(name) > 255 {
		return fmt.Errorf("%w: file name must be 1-255 characters", ErrMalformedInput)
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("%w: invalid file name %q", ErrMalformedInput, name)
	}
	return nil
}
