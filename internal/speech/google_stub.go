//go:build !extra

package speech

import "paybell/internal/log"

// NewGoogleEngine is only available in builds with the extra tag, which pulls
// in the audio stack.
func NewGoogleEngine(_ Options, _ *log.Logger) (Engine, error) {
	return nil, ErrEngineUnavailable
}
