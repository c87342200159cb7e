package speech

import (
	"io"
	"time"

	"github.com/sony/gobreaker/v2"

	"paybell/internal/log"
)

// Synthesizer turns text into encoded audio.
type Synthesizer interface {
	Synthesize(text string) (io.Reader, error)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(text string) (io.Reader, error)

func (f SynthesizerFunc) Synthesize(text string) (io.Reader, error) { return f(text) }

// BreakerConfig controls when a failing synthesizer is short-circuited.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "tts",
		FailureThreshold: 3,
		OpenTimeout:      30 * time.Second,
	}
}

// GuardedSynthesizer stops calling a synthesizer that keeps failing until
// OpenTimeout has passed, then lets a single probe through.
type GuardedSynthesizer struct {
	next Synthesizer
	cb   *gobreaker.CircuitBreaker[io.Reader]
}

func NewGuardedSynthesizer(next Synthesizer, cfg BreakerConfig, logger *log.Logger) *GuardedSynthesizer {
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	threshold := cfg.FailureThreshold
	logger = logger.WithComponent(log.ComponentSpeech)
	cb := gobreaker.NewCircuitBreaker[io.Reader](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("synthesizer circuit changed state",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	})
	return &GuardedSynthesizer{next: next, cb: cb}
}

func (g *GuardedSynthesizer) Synthesize(text string) (io.Reader, error) {
	return g.cb.Execute(func() (io.Reader, error) {
		return g.next.Synthesize(text)
	})
}

// State reports the breaker state.
func (g *GuardedSynthesizer) State() gobreaker.State {
	return g.cb.State()
}
