package statuscheck

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// Pinger models the minimal capability we need for a reachability check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker aggregates health checks for the services a split/merge node uses.
type Checker struct {
	redis    Pinger
	storage  Pinger
	spoolDir string
}

// Options configures the Checker. A nil Storage means local storage.
type Options struct {
	Redis    Pinger
	Storage  Pinger
	SpoolDir string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis   Status `json:"redis"`
	Storage Status `json:"storage"`
	Spool   Status `json:"spool"`
}

// OK reports whether every subsystem is ready.
func (s Summary) OK() bool { return s.Redis.OK && s.Storage.OK && s.Spool.OK }

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	return &Checker{redis: opts.Redis, storage: opts.Storage, spoolDir: opts.SpoolDir}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis:   c.checkRedis(ctx),
		Storage: c.checkStorage(ctx),
		Spool:   c.checkSpool(),
	}
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{OK: false, Message: "client unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkStorage(ctx context.Context) Status {
	if c.storage == nil {
		return Status{OK: true, Message: "Local"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.storage.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkSpool() Status {
	f, err := os.CreateTemp(c.spoolDir, ".probe-*")
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	name := f.Name()
	f.Close()
	_ = os.Remove(name)
	return Status{OK: true, Message: "Writable " + filepath.Clean(c.spoolDir)}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
