package announce

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// manualScheduler only runs callbacks when the test calls Fire.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

// Fire runs every timer that is live at the time of the call.
func (s *manualScheduler) Fire() int {
	s.mu.Lock()
	due := make([]*fakeTimer, 0, len(s.timers))
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
	return len(due)
}

func (s *manualScheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (s *manualScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t.delay)
	}
	return out
}

type recordingSpeaker struct {
	mu     sync.Mutex
	spoken []string
	stops  int
	err    error
}

func (s *recordingSpeaker) Speak(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return s.err
}

func (s *recordingSpeaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
}

func (s *recordingSpeaker) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

func newTestQueue(t *testing.T) (*Queue, *manualScheduler, *recordingSpeaker) {
	t.Helper()
	sched := &manualScheduler{}
	speaker := &recordingSpeaker{}
	return NewQueue(speaker, WithScheduler(sched)), sched, speaker
}

func TestQueue_SubmitWhenReadySpeaksImmediately(t *testing.T) {
	q, sched, speaker := newTestQueue(t)
	require.True(t, q.SetReady())

	req, err := q.Submit("收到支付宝付款88元")
	require.NoError(t, err)
	require.NotNil(t, req)

	assert.Equal(t, []string{"收到支付宝付款88元"}, speaker.Spoken())
	assert.Equal(t, 0, q.Pending())
	assert.Equal(t, 0, sched.Live(), "no retry should be scheduled")
	assert.Equal(t, 0, req.Attempts())
}

func TestQueue_RetriesUntilReady(t *testing.T) {
	q, sched, speaker := newTestQueue(t)

	req, err := q.Submit("收到微信付款12元")
	require.NoError(t, err)
	assert.Equal(t, 1, q.Pending())
	assert.Empty(t, speaker.Spoken())

	for i := 0; i < 5; i++ {
		require.Equal(t, 1, sched.Fire())
		assert.Empty(t, speaker.Spoken(), "nothing is spoken before readiness")
		assert.Equal(t, 1, q.Pending())
	}

	q.SetReady()
	assert.Empty(t, speaker.Spoken(), "readiness alone does not emit; the next retry does")

	require.Equal(t, 1, sched.Fire())
	assert.Equal(t, []string{"收到微信付款12元"}, speaker.Spoken())
	assert.Equal(t, 0, q.Pending())
	assert.Equal(t, 6, req.Attempts())

	// Terminal: further firing does nothing.
	assert.Equal(t, 0, sched.Fire())
	assert.Len(t, speaker.Spoken(), 1)

	for _, d := range sched.Delays() {
		assert.Equal(t, DefaultRetryDelay, d, "retry delay is fixed, no backoff")
	}
}

func TestQueue_NoLostRequestsBeforeReadiness(t *testing.T) {
	q, sched, speaker := newTestQueue(t)

	_, err := q.Submit("first")
	require.NoError(t, err)
	_, err = q.Submit("second")
	require.NoError(t, err)
	assert.Equal(t, 2, q.Pending())

	sched.Fire()
	q.SetReady()
	sched.Fire()

	assert.ElementsMatch(t, []string{"first", "second"}, speaker.Spoken())
	stats := q.Stats()
	assert.Equal(t, uint64(2), stats.Submitted)
	assert.Equal(t, uint64(2), stats.Emitted)
	assert.Equal(t, uint64(4), stats.Retries)
	assert.Equal(t, 0, stats.Pending)
}

func TestQueue_IdenticalSubmissionsAreIndependent(t *testing.T) {
	q, _, speaker := newTestQueue(t)
	q.SetReady()

	a, err := q.Submit("same")
	require.NoError(t, err)
	b, err := q.Submit("same")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, []string{"same", "same"}, speaker.Spoken())
}

func TestQueue_SpeakErrorIsTerminal(t *testing.T) {
	q, sched, speaker := newTestQueue(t)
	speaker.err = errors.New("engine busy")
	q.SetReady()

	_, err := q.Submit("x")
	require.NoError(t, err, "speak failures are not surfaced to the submitter")
	assert.Equal(t, 0, sched.Live())
	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.Emitted)
	assert.Equal(t, uint64(1), stats.SpeakErrors)
}

func TestQueue_SetReadyFlipsOnce(t *testing.T) {
	q, _, _ := newTestQueue(t)
	assert.False(t, q.IsReady())
	assert.True(t, q.SetReady())
	assert.False(t, q.SetReady())
	assert.True(t, q.IsReady())
}

func TestQueue_OnSpeechReady(t *testing.T) {
	q, sched, speaker := newTestQueue(t)
	_, err := q.Submit("waiting")
	require.NoError(t, err)

	q.OnSpeechReady(errors.New("language not supported"))
	assert.False(t, q.IsReady())
	sched.Fire()
	assert.Empty(t, speaker.Spoken())
	assert.Equal(t, 1, q.Pending(), "failed init leaves the request pending")

	q.OnSpeechReady(nil)
	sched.Fire()
	assert.Equal(t, []string{"waiting"}, speaker.Spoken())
}

func TestQueue_CloseCancelsPendingTimers(t *testing.T) {
	q, sched, speaker := newTestQueue(t)
	_, err := q.Submit("a")
	require.NoError(t, err)
	_, err = q.Submit("b")
	require.NoError(t, err)
	q.SetReady()

	require.NoError(t, q.Close())

	assert.Equal(t, 0, sched.Live(), "all timers are stopped")
	assert.Equal(t, 0, sched.Fire())
	assert.Empty(t, speaker.Spoken())
	assert.Equal(t, 0, q.Pending())
	assert.False(t, q.IsReady(), "readiness resets on shutdown")
	assert.Equal(t, 1, speaker.stops)

	_, err = q.Submit("late")
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.False(t, q.SetReady())

	require.NoError(t, q.Close(), "closing twice is a no-op")
	assert.Equal(t, 1, speaker.stops)
}

func TestQueue_RetryAfterCloseIsIgnored(t *testing.T) {
	q, sched, speaker := newTestQueue(t)
	_, err := q.Submit("a")
	require.NoError(t, err)

	// Grab the callback before Close stops the timer, as if it had already fired.
	sched.mu.Lock()
	fn := sched.timers[0].fn
	sched.mu.Unlock()

	require.NoError(t, q.Close())
	fn()
	assert.Empty(t, speaker.Spoken())
}

func TestQueue_Options(t *testing.T) {
	sched := &manualScheduler{}
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	q := NewQueue(&recordingSpeaker{},
		WithScheduler(sched),
		WithRetryDelay(250*time.Millisecond),
		WithClock(func() time.Time { return fixed }),
		WithRetryDelay(0),
	)

	req, err := q.Submit("x")
	require.NoError(t, err)
	assert.Equal(t, fixed, req.SubmittedAt)
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, sched.Delays())
}

func TestQueue_WallClockRetry(t *testing.T) {
	speaker := &recordingSpeaker{}
	q := NewQueue(speaker, WithRetryDelay(10*time.Millisecond))
	defer q.Close()

	_, err := q.Submit("real timer")
	require.NoError(t, err)
	q.SetReady()

	assert.Eventually(t, func() bool {
		return len(speaker.Spoken()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestQueue_Drain(t *testing.T) {
	q, sched, _ := newTestQueue(t)
	require.NoError(t, q.Drain(context.Background(), time.Millisecond), "empty queue drains at once")

	_, err := q.Submit("a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Drain(ctx, time.Millisecond), context.DeadlineExceeded)

	q.SetReady()
	sched.Fire()
	assert.NoError(t, q.Drain(context.Background(), time.Millisecond))
}

type panickingSpeaker struct {
	recordingSpeaker
}

func (s *panickingSpeaker) Speak(text string) error {
	if text == "crash" {
		panic("engine crashed")
	}
	return s.recordingSpeaker.Speak(text)
}

func TestQueue_SpeakerPanicOnRetryIsContained(t *testing.T) {
	sched := &manualScheduler{}
	speaker := &panickingSpeaker{}
	q := NewQueue(speaker, WithScheduler(sched))

	_, err := q.Submit("crash")
	require.NoError(t, err)
	_, err = q.Submit("after")
	require.NoError(t, err)

	q.SetReady()
	require.NotPanics(t, func() { sched.Fire() })

	assert.Equal(t, []string{"after"}, speaker.Spoken())
	stats := q.Stats()
	assert.Equal(t, uint64(2), stats.Emitted)
	assert.Equal(t, uint64(1), stats.SpeakErrors)
	assert.Equal(t, 0, stats.Pending, "the panicking request is discarded")
	assert.Equal(t, 0, sched.Live())

	_, err = q.Submit("crash")
	assert.NoError(t, err, "an inline panic is contained as well")
	assert.Equal(t, uint64(2), q.Stats().SpeakErrors)
}

func TestQueue_EmitAfterCloseDoesNotSpeak(t *testing.T) {
	q, _, speaker := newTestQueue(t)
	q.SetReady()
	req, err := q.Submit("before")
	require.NoError(t, err)

	require.NoError(t, q.Close())
	// A retry that already left the pending map when Close ran.
	q.emit(&Request{ID: req.ID, Utterance: "late"})

	assert.Equal(t, []string{"before"}, speaker.Spoken())
	assert.Equal(t, uint64(1), q.Stats().Emitted)
}
