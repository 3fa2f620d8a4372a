package executor

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrNotPDF           = errors.New("document does not have a PDF")
	ErrPageOutOfRange   = errors.New("page out of range")
)

// MergeError reports which part of a plan could not be assembled.
type MergeError struct {
	Group    int
	Document string
	Err      error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("group %d, document %s: %v", e.Group, e.Document, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }
