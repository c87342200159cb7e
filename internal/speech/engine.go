// Package speech provides the speech capability the announcement queue talks
// to. Engines initialize asynchronously and report through the ready callback.
package speech

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"paybell/internal/announce"
	"paybell/internal/log"
)

const (
	EngineLog    = "log"
	EngineGoogle = "google"
)

var (
	// ErrEngineUnavailable is returned when an engine was not compiled in.
	ErrEngineUnavailable = errors.New("speech engine not available in this build")
	ErrEngineClosed      = errors.New("speech engine is closed")
)

// Engine is a speech capability with an asynchronous start.
type Engine interface {
	announce.Speaker
	// Start begins initialization and returns at once. ready is called
	// exactly once, with nil on success.
	Start(ready func(error))
	// Close stops playback and releases the engine.
	Close() error
	Name() string
}

// Options configures the synthesizing engines.
type Options struct {
	Language string
	Speed    float32
	CacheDir string
}

// DefaultCacheDir is where synthesized audio is cached between runs.
func DefaultCacheDir() string {
	return filepath.Join(os.TempDir(), "paybell-tts")
}

// New builds the engine called name.
func New(name string, opts Options, logger *log.Logger) (Engine, error) {
	if logger == nil {
		logger = log.Discard()
	}
	switch strings.ToLower(name) {
	case "", EngineLog:
		return NewLogEngine(logger), nil
	case EngineGoogle:
		return NewGoogleEngine(opts, logger)
	default:
		return nil, fmt.Errorf("unknown speech engine %q", name)
	}
}
