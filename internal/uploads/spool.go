// Package uploads keeps uploaded files on disk while they are processed.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrTooLarge is returned when an upload exceeds the spool limit.
var ErrTooLarge = errors.New("upload too large")

const (
	DefaultMaxBytes = 10 << 20
	DefaultMaxAge   = time.Hour
)

type Spool struct {
	dir      string
	maxBytes int64
	logger   zerolog.Logger
}

// New creates dir if needed.
func New(dir string, maxBytes int64, logger zerolog.Logger) (*Spool, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("upload dir is required")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Spool{
		dir:      dir,
		maxBytes: maxBytes,
		logger:   logger.With().Str("component", "uploads").Logger(),
	}, nil
}

func (s *Spool) Dir() string {
	return s.dir
}

func (s *Spool) MaxBytes() int64 {
	return s.maxBytes
}

// File is a spooled upload. Release removes it; calling Release more than
// once is harmless.
type File struct {
	Path         string
	OriginalName string
	Size         int64

	once   sync.Once
	logger zerolog.Logger
}

// Save copies r into a new spool file named after a random id, keeping the
// extension of originalName.
func (s *Spool) Save(r io.Reader, originalName string) (*File, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	if len(ext) > 8 {
		ext = ""
	}
	name := uuid.NewString() + ext
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > s.maxBytes {
		err = fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes)
	}
	if err != nil {
		_ = os.Remove(path)
		if errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("write spool file: %w", err)
	}

	spooledTotal.Inc()
	s.logger.Debug().Str("file", name).Int64("bytes", n).Msg("upload spooled")
	return &File{Path: path, OriginalName: originalName, Size: n, logger: s.logger}, nil
}

func (f *File) Release() {
	f.once.Do(func() {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn().Err(err).Str("file", f.Path).Msg("failed to remove upload")
			return
		}
		f.logger.Debug().Str("file", f.Path).Msg("upload released")
	})
}

// Sweep removes regular files older than maxAge. Failures are logged and
// skipped; it returns the number of files removed.
func (s *Spool) Sweep(now time.Time, maxAge time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn().Err(err).Msg("reading upload dir failed")
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn().Err(err).Str("file", path).Msg("failed to remove stale upload")
			continue
		}
		removed++
	}
	if removed > 0 {
		sweptTotal.Add(float64(removed))
		s.logger.Info().Int("removed", removed).Dur("max_age", maxAge).Msg("stale uploads cleaned")
	}
	return removed
}
