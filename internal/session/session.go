// Package session owns the per-render resources: a temp directory, the frame
// surface and any child processes. Everything acquired is released in reverse
// order by Close, whatever the outcome of the render.
package session

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/ivlev/animatic/internal/logging"
	"github.com/ivlev/animatic/internal/system"
)

// ErrBusy is returned by Acquire when the session is already in use.
var ErrBusy = errors.New("session: already in use")

// ErrClosed is returned when a closed session is used.
var ErrClosed = errors.New("session: closed")

// Session is a single render or mux run.
type Session struct {
	id     string
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	busy     bool
	closed   bool
	releases []release
}

type release struct {
	name string
	fn   func() error
}

// New creates a session with its own temp directory under baseDir
// (os.TempDir when empty).
func New(baseDir string, logger *slog.Logger) (*Session, error) {
	id := uuid.NewString()
	dir, err := os.MkdirTemp(baseDir, "animatic-"+id[:8]+"-")
	if err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	s := &Session{
		id:     id,
		dir:    dir,
		logger: logging.OrNop(logger).With(slog.String("session", id)),
	}
	s.Defer("temp dir", func() error { return os.RemoveAll(dir) })
	s.logger.Debug("session opened", slog.String("dir", dir))
	return s, nil
}

// ID is the session's unique id.
func (s *Session) ID() string { return s.id }

// Dir is the session's private temp directory.
func (s *Session) Dir() string { return s.dir }

// Logger returns the session-scoped logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// TempPath returns a path inside the session dir.
func (s *Session) TempPath(name string) string {
	return filepath.Join(s.dir, name)
}

// Acquire marks the session in use. A second caller gets ErrBusy until the
// returned release func runs.
func (s *Session) Acquire() (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.busy {
		return nil, ErrBusy
	}
	s.busy = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
		})
	}, nil
}

// Defer registers fn to run on Close. Releases run last-in first-out.
// Registering on a closed session runs fn immediately.
func (s *Session) Defer(name string, fn func() error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if err := fn(); err != nil {
			s.logger.Warn("late release failed", slog.String("resource", name), logging.Err(err))
		}
		return
	}
	s.releases = append(s.releases, release{name: name, fn: fn})
	s.mu.Unlock()
}

// Surface borrows a width x height frame surface from the shared pool and
// returns it to the pool on Close.
func (s *Session) Surface(width, height int) *image.RGBA {
	img := system.GetSurface(width, height)
	s.Defer("surface", func() error {
		system.PutSurface(img)
		return nil
	})
	return img
}

// Close runs every registered release. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	releases := s.releases
	s.releases = nil
	s.mu.Unlock()

	var errs []error
	for i := len(releases) - 1; i >= 0; i-- {
		r := releases[i]
		if err := r.fn(); err != nil {
			s.logger.Warn("release failed", slog.String("resource", r.name), logging.Err(err))
			errs = append(errs, fmt.Errorf("release %s: %w", r.name, err))
		}
	}
	s.logger.Debug("session closed", slog.Int("released", len(releases)))
	return errors.Join(errs...)
}
