package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrResultNotFound means the result id is unknown or its TTL has passed.
var ErrResultNotFound = errors.New("result not found")

// Result describes one generated output document.
type Result struct {
	ID       string            `json:"id"`
	Path     string            `json:"-"`
	Title    string            `json:"title"`
	Group    int               `json:"group"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ResultStore indexes generated PDFs in Redis (splitmerge:result:<id>) while
// the bytes live in a spool directory on local disk.
type ResultStore struct {
	client *redis.Client
	dir    string
	keyNS  string
}

func NewResultStore(c *redis.Client, spoolDir string) (*ResultStore, error) {
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &ResultStore{client: c, dir: spoolDir, keyNS: "splitmerge:result"}, nil
}

func (s *ResultStore) key(id string) string { return s.keyNS + ":" + id }

func (s *ResultStore) path(id string) string { return filepath.Join(s.dir, id+".pdf") }

// Put stores data under r.ID. A zero ttl keeps the result until Delete.
func (s *ResultStore) Put(ctx context.Context, r Result, data []byte, ttl time.Duration) (Result, error) {
	if r.ID == "" || strings.ContainsAny(r.ID, `/\`) {
		return Result{}, fmt.Errorf("invalid result id %q", r.ID)
	}
	r.Path = s.path(r.ID)
	if err := os.WriteFile(r.Path, data, 0o644); err != nil {
		return Result{}, fmt.Errorf("write result: %w", err)
	}
	m := map[string]interface{}{
		"path":  r.Path,
		"title": r.Title,
		"group": r.Group,
	}
	if r.Metadata != nil {
		b, _ := json.Marshal(r.Metadata)
		m["metadata"] = string(b)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(r.ID), m)
	if ttl > 0 {
		pipe.Expire(ctx, s.key(r.ID), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		_ = os.Remove(r.Path)
		return Result{}, fmt.Errorf("index result: %w", err)
	}
	return r, nil
}

// Get returns the index entry of a live result.
func (s *ResultStore) Get(ctx context.Context, id string) (Result, error) {
	res, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return Result{}, err
	}
	if len(res) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrResultNotFound, id)
	}
	r := Result{ID: id, Path: res["path"], Title: res["title"]}
	r.Group, _ = strconv.Atoi(res["group"])
	if v := res["metadata"]; v != "" {
		_ = json.Unmarshal([]byte(v), &r.Metadata)
	}
	if _, err := os.Stat(r.Path); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrResultNotFound, id)
	}
	return r, nil
}

// Read returns the stored bytes of a live result.
func (s *ResultStore) Read(ctx context.Context, id string) (Result, []byte, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return Result{}, nil, err
	}
	data, err := os.ReadFile(r.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Result{}, nil, fmt.Errorf("%w: %s", ErrResultNotFound, id)
	}
	return r, data, err
}

func (s *ResultStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Sweep removes spooled files older than maxAge whose index entry has expired.
func (s *ResultStore) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".pdf") {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			continue
		}
		id := strings.TrimSuffix(name, ".pdf")
		n, err := s.client.Exists(ctx, s.key(id)).Result()
		if err != nil {
			return removed, err
		}
		if n > 0 {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err == nil {
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Str("dir", s.dir).Msg("swept expired results")
	}
	return removed, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *ResultStore) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, maxAge); err != nil {
				log.Warn().Err(err).Msg("result sweep failed")
			}
		}
	}
}
