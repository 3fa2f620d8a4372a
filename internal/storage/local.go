package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// LocalSource reads documents from a directory: <dir>/<id>.pdf, falling back
// to the archived rendition <dir>/archive/<id>.pdf, with optional catalog
// metadata in <dir>/<id>.json.
type LocalSource struct {
	Dir string
}

func NewLocalSource(dir string) *LocalSource { return &LocalSource{Dir: dir} }

func (s *LocalSource) candidates(id string) []string {
	return []string{
		filepath.Join(s.Dir, id+".pdf"),
		filepath.Join(s.Dir, "archive", id+".pdf"),
	}
}

func (s *LocalSource) Fetch(ctx context.Context, id string) (*Document, error) {
	if err := checkID(id); err != nil {
		return nil, fmt.Errorf("%w: %q", err, id)
	}
	doc := &Document{ID: id}
	if b, err := os.ReadFile(filepath.Join(s.Dir, id+".json")); err == nil {
		if err := json.Unmarshal(b, doc); err != nil {
			log.Warn().Err(err).Str("document", id).Msg("ignoring unreadable document metadata")
		}
		doc.ID = id
	}
	for _, p := range s.candidates(id) {
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		doc.Data = data
		return doc, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Delete removes every stored file of the document.
func (s *LocalSource) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return fmt.Errorf("%w: %q", err, id)
	}
	for _, p := range append(s.candidates(id), filepath.Join(s.Dir, id+".json")) {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// LocalPublisher writes committed outputs into a directory.
type LocalPublisher struct {
	Dir string
}

func NewLocalPublisher(dir string) *LocalPublisher { return &LocalPublisher{Dir: dir} }

func (p *LocalPublisher) Publish(ctx context.Context, name string, body io.Reader, meta map[string]string) (string, error) {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(p.Dir, filepath.Base(name))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	if len(meta) > 0 {
		b, _ := json.Marshal(meta)
		if err := os.WriteFile(path+".json", b, 0o644); err != nil {
			_ = os.Remove(path)
			return "", err
		}
	}
	return path, nil
}

func (p *LocalPublisher) Unpublish(ctx context.Context, location string) error {
	for _, f := range []string{location, location + ".json"} {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
