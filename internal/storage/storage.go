package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

var (
	// ErrNotFound means the source document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidID rejects identifiers that cannot be mapped to a storage key.
	ErrInvalidID = errors.New("invalid document id")
)

// Document is a source document with the catalog metadata an output may inherit.
type Document struct {
	ID            string     `json:"id"`
	Title         string     `json:"title,omitempty"`
	Correspondent string     `json:"correspondent,omitempty"`
	DocumentType  string     `json:"document_type,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	Created       *time.Time `json:"created,omitempty"`
	Data          []byte     `json:"-"`
}

// Source resolves document ids to their PDF bytes and catalog metadata.
type Source interface {
	Fetch(ctx context.Context, id string) (*Document, error)
	Delete(ctx context.Context, id string) error
}

// Publisher stores committed outputs at their final location.
type Publisher interface {
	Publish(ctx context.Context, name string, body io.Reader, meta map[string]string) (string, error)
	Unpublish(ctx context.Context, location string) error
}

func checkID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return ErrInvalidID
	}
	return nil
}
