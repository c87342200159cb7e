package speech

import (
	"sync"
	"time"

	"paybell/internal/log"
)

// LogEngine writes utterances to the log instead of speaking them. It is the
// default when no audio engine is configured.
type LogEngine struct {
	logger *log.Logger
	// InitDelay postpones readiness, which is handy to watch the queue wait.
	InitDelay time.Duration

	mu     sync.Mutex
	closed bool
	spoken int
}

func NewLogEngine(logger *log.Logger) *LogEngine {
	if logger == nil {
		logger = log.Discard()
	}
	return &LogEngine{logger: logger.WithComponent(log.ComponentSpeech).With(log.FieldEngine, EngineLog)}
}

func (e *LogEngine) Name() string { return EngineLog }

func (e *LogEngine) Start(ready func(error)) {
	e.logger.Info("speech engine connected")
	go func() {
		if e.InitDelay > 0 {
			time.Sleep(e.InitDelay)
		}
		e.mu.Lock()
		closed := e.closed
		e.mu.Unlock()
		if closed {
			ready(ErrEngineClosed)
			return
		}
		e.logger.Info("speech engine initialized")
		ready(nil)
	}()
}

func (e *LogEngine) Speak(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	// Logging is instant, so there is never an utterance left to interrupt.
	e.spoken++
	e.logger.Info("speaking", log.FieldUtterance, text)
	return nil
}

func (e *LogEngine) Stop() {
	e.logger.Debug("speech stopped")
}

func (e *LogEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.logger.Info("speech engine released", "spoken", e.spoken)
	return nil
}

// Spoken returns how many utterances were accepted.
func (e *LogEngine) Spoken() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spoken
}
