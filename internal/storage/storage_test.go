package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSourceFetch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "12.pdf"), []byte("%PDF-1.4 a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "12.json"),
		[]byte(`{"title":"Invoice","tags":["tax","2021"],"created":"2021-03-04T00:00:00Z"}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "archive"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "archive", "13.pdf"), []byte("%PDF-1.4 b"), 0o644))

	src := NewLocalSource(dir)
	ctx := context.Background()

	doc, err := src.Fetch(ctx, "12")
	require.NoError(t, err)
	assert.Equal(t, "12", doc.ID)
	assert.Equal(t, "Invoice", doc.Title)
	assert.Equal(t, []string{"tax", "2021"}, doc.Tags)
	require.NotNil(t, doc.Created)
	assert.Equal(t, 2021, doc.Created.Year())
	assert.Equal(t, "%PDF-1.4 a", string(doc.Data))

	doc, err = src.Fetch(ctx, "13")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 b", string(doc.Data))

	_, err = src.Fetch(ctx, "14")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = src.Fetch(ctx, "../12")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestLocalSourceDelete(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.pdf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.json"), []byte("{}"), 0o644))

	src := NewLocalSource(dir)
	require.NoError(t, src.Delete(context.Background(), "1"))
	require.NoError(t, src.Delete(context.Background(), "1"))
	_, err := src.Fetch(context.Background(), "1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalPublisher(t *testing.T) {
	p := NewLocalPublisher(filepath.Join(t.TempDir(), "out"))
	ctx := context.Background()

	loc, err := p.Publish(ctx, "job_0.pdf", strings.NewReader("%PDF"), map[string]string{"title": "A"})
	require.NoError(t, err)
	b, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(b))
	assert.FileExists(t, loc+".json")

	require.NoError(t, p.Unpublish(ctx, loc))
	assert.NoFileExists(t, loc)
	assert.NoFileExists(t, loc+".json")
}

func TestDocumentFromMetadata(t *testing.T) {
	doc := documentFromMetadata("7", map[string]string{
		"Title":         "Contract",
		"correspondent": "ACME",
		"document-type": "letter",
		"tags":          "a, b,,c",
		"created":       "2020-01-02T03:04:05Z",
	})
	assert.Equal(t, "Contract", doc.Title)
	assert.Equal(t, "ACME", doc.Correspondent)
	assert.Equal(t, "letter", doc.DocumentType)
	assert.Equal(t, []string{"a", "b", "c"}, doc.Tags)
	require.NotNil(t, doc.Created)
}

func TestSplitS3URL(t *testing.T) {
	b, k, err := splitS3URL("s3://bucket/split_merge/x.pdf")
	require.NoError(t, err)
	assert.Equal(t, "bucket", b)
	assert.Equal(t, "split_merge/x.pdf", k)

	for _, bad := range []string{"bucket/key", "s3://bucket", "s3:///key"} {
		_, _, err := splitS3URL(bad)
		assert.Error(t, err, bad)
	}
}
