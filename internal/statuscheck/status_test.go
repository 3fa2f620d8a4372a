package statuscheck

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

func TestSummary(t *testing.T) {
	c := New(Options{Redis: pinger{}, SpoolDir: t.TempDir()})
	s := c.Summary(context.Background())
	assert.True(t, s.OK())
	assert.Equal(t, "Local", s.Storage.Message)

	c = New(Options{
		Redis:    pinger{err: errors.New(strings.Repeat("x", 200))},
		Storage:  pinger{err: errors.New("forbidden")},
		SpoolDir: filepath.Join(t.TempDir(), "missing"),
	})
	s = c.Summary(context.Background())
	assert.False(t, s.OK())
	assert.Len(t, s.Redis.Message, 120)
	assert.Equal(t, "forbidden", s.Storage.Message)
	assert.False(t, s.Spool.OK)

	assert.False(t, New(Options{SpoolDir: t.TempDir()}).Summary(context.Background()).Redis.OK)
}
