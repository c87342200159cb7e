// Package announce holds spoken announcements until the speech capability is
// ready and then hands each one to it exactly once.
package announce

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"paybell/internal/log"
)

// DefaultRetryDelay is how long a request waits before re-checking readiness.
const DefaultRetryDelay = time.Second

var (
	ErrQueueClosed  = errors.New("announcement queue is closed")
	ErrSpeakerPanic = errors.New("speaker panicked")
)

// Speaker is the speech capability. Speak must not wait for playback and
// interrupts whatever is currently being spoken.
type Speaker interface {
	Speak(text string) error
	Stop()
}

// Request is one utterance owned by the queue until it is spoken.
type Request struct {
	ID          uuid.UUID
	Utterance   string
	SubmittedAt time.Time

	attempts int
}

// Attempts is the number of readiness re-checks the request went through.
func (r *Request) Attempts() int {
	return r.attempts
}

// Stats is a snapshot of the queue counters.
type Stats struct {
	Submitted   uint64
	Emitted     uint64
	Retries     uint64
	SpeakErrors uint64
	Pending     int
}

type entry struct {
	req   *Request
	timer Timer
}

// Queue defers requests while the speaker is not ready. Each pending request
// re-checks readiness on its own timer with a fixed delay and no retry limit,
// so nothing is dropped while waiting. Requests queued before readiness have
// no ordering guarantee between them.
type Queue struct {
	speaker    Speaker
	readiness  Readiness
	scheduler  Scheduler
	retryDelay time.Duration
	now        func() time.Time
	logger     *log.Logger

	// speakMu serializes Speak with the speaker.Stop in Close, so no
	// utterance reaches the speaker once Close has stopped it.
	speakMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	pending map[uuid.UUID]*entry
	stats   Stats
}

// Option configures a Queue.
type Option func(*Queue)

// WithRetryDelay overrides DefaultRetryDelay.
func WithRetryDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.retryDelay = d
		}
	}
}

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(s Scheduler) Option {
	return func(q *Queue) {
		if s != nil {
			q.scheduler = s
		}
	}
}

// WithClock replaces time.Now for SubmittedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithLogger sets the queue logger.
func WithLogger(l *log.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l.WithComponent(log.ComponentAnnounce)
		}
	}
}

// NewQueue creates a queue in front of speaker. The queue starts not ready.
func NewQueue(speaker Speaker, opts ...Option) *Queue {
	q := &Queue{
		speaker:    speaker,
		scheduler:  ClockScheduler(),
		retryDelay: DefaultRetryDelay,
		now:        time.Now,
		logger:     log.Discard(),
		pending:    make(map[uuid.UUID]*entry),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit hands utterance to the queue. When the speaker is ready it is spoken
// right away, otherwise a retry is scheduled and Submit returns immediately.
func (q *Queue) Submit(utterance string) (*Request, error) {
	req := &Request{
		ID:          uuid.New(),
		Utterance:   utterance,
		SubmittedAt: q.now(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	q.stats.Submitted++
	if q.readiness.IsReady() {
		q.mu.Unlock()
		q.emit(req)
		return req, nil
	}
	e := &entry{req: req}
	q.pending[req.ID] = e
	e.timer = q.scheduler.AfterFunc(q.retryDelay, func() { q.retry(req.ID) })
	q.mu.Unlock()

	q.logger.Debug("speech not ready, announcement deferred",
		log.FieldRequestID, req.ID.String(),
		log.FieldRetryDelay, q.retryDelay)
	return req, nil
}

func (q *Queue) retry(id uuid.UUID) {
	q.mu.Lock()
	e, ok := q.pending[id]
	if !ok || q.closed {
		q.mu.Unlock()
		return
	}
	e.req.attempts++
	q.stats.Retries++
	if !q.readiness.IsReady() {
		attempts := e.req.attempts
		e.timer = q.scheduler.AfterFunc(q.retryDelay, func() { q.retry(id) })
		q.mu.Unlock()
		q.logger.Debug("speech still not ready",
			log.NewFields().WithRequest(id.String(), attempts).WithOperation(log.OpRetry).ToSlice()...)
		return
	}
	delete(q.pending, id)
	q.mu.Unlock()

	q.emit(e.req)
}

// emit is the only place the speaker is asked to talk. The request is
// discarded afterwards whether or not Speak succeeded. It runs on timer
// goroutines, so a panicking speaker is recovered here.
func (q *Queue) emit(req *Request) {
	q.speakMu.Lock()
	defer q.speakMu.Unlock()

	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		q.logger.Debug("queue closed, announcement dropped",
			log.FieldRequestID, req.ID.String())
		return
	}

	err := q.speak(req)

	q.mu.Lock()
	q.stats.Emitted++
	if err != nil {
		q.stats.SpeakErrors++
	}
	q.mu.Unlock()

	fields := log.NewFields().
		WithRequest(req.ID.String(), req.attempts).
		WithOperation(log.OpSpeak)
	fields[log.FieldUtterance] = req.Utterance
	fields[log.FieldWaited] = q.now().Sub(req.SubmittedAt).Milliseconds()
	if err != nil {
		q.logger.Warn("speak failed", fields.WithError(err).ToSlice()...)
		return
	}
	q.logger.Info("announcement spoken", fields.ToSlice()...)
}

func (q *Queue) speak(req *Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("speaker panicked, announcement dropped",
				log.FieldRequestID, req.ID.String(),
				log.FieldError, fmt.Sprint(r),
				"stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrSpeakerPanic, r)
		}
	}()
	return q.speaker.Speak(req.Utterance)
}

// SetReady records that the speaker finished initializing. Pending requests
// pick this up on their next retry. It reports whether readiness changed.
func (q *Queue) SetReady() bool {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return false
	}
	if !q.readiness.SetReady() {
		return false
	}
	q.logger.Info("speech ready", "pending", q.Pending())
	return true
}

// IsReady reports whether announcements are spoken immediately.
func (q *Queue) IsReady() bool {
	return q.readiness.IsReady()
}

// OnSpeechReady is the callback handed to the speech engine's start. A
// failure leaves the queue pending for good; announcements are then never
// spoken but nothing else breaks.
func (q *Queue) OnSpeechReady(err error) {
	if err != nil {
		q.logger.Error("speech initialization failed, announcements will stay pending",
			log.FieldError, err)
		return
	}
	q.SetReady()
}

// Pending returns the number of requests waiting for readiness.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stats returns a snapshot of the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	return s
}

// Drain blocks until no request is pending or ctx is done, checking every
// poll interval.
func (q *Queue) Drain(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = q.retryDelay
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if q.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops every pending timer, drops the pending requests, resets
// readiness and stops the speaker. Submit fails with ErrQueueClosed afterwards.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	dropped := len(q.pending)
	for id, e := range q.pending {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(q.pending, id)
	}
	q.mu.Unlock()

	q.readiness.reset()
	q.speakMu.Lock()
	q.speaker.Stop()
	q.speakMu.Unlock()

	q.logger.Info("announcement queue closed",
		log.FieldOperation, log.OpShutdown,
		"dropped", dropped)
	return nil
}
