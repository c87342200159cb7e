package speech

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paybell/internal/log"
)

func waitReady(t *testing.T, e Engine) error {
	t.Helper()
	ch := make(chan error, 1)
	e.Start(func(err error) { ch <- err })
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("ready callback was never called")
		return nil
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		engine  string
		want    string
		wantErr bool
	}{
		{name: "empty defaults to log", engine: "", want: EngineLog},
		{name: "log", engine: "log", want: EngineLog},
		{name: "case insensitive", engine: "LOG", want: EngineLog},
		{name: "unknown", engine: "espeak", wantErr: true},
		{name: "alias not accepted", engine: "google-translate", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.engine, Options{}, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.Name())
		})
	}
}

func TestLogEngine_StartReportsReady(t *testing.T) {
	e := NewLogEngine(nil)
	assert.NoError(t, waitReady(t, e))
}

func TestLogEngine_InitDelay(t *testing.T) {
	e := NewLogEngine(nil)
	e.InitDelay = 20 * time.Millisecond
	start := time.Now()
	require.NoError(t, waitReady(t, e))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestLogEngine_SpeakLogsUtterance(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEngine(log.New(log.Config{Level: slog.LevelDebug, Output: &buf}))

	require.NoError(t, e.Speak("收到支付宝付款88元"))
	require.NoError(t, e.Speak("收到微信付款1元"))

	out := buf.String()
	assert.Contains(t, out, "收到支付宝付款88元")
	assert.Contains(t, out, "收到微信付款1元")
	assert.Equal(t, 2, strings.Count(out, "msg=speaking"), "each utterance is logged once")
	assert.Contains(t, out, "engine=log")
	assert.Equal(t, 2, e.Spoken())
}

func TestLogEngine_Close(t *testing.T) {
	e := NewLogEngine(nil)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	err := e.Speak("late")
	assert.ErrorIs(t, err, ErrEngineClosed)
	assert.Equal(t, 0, e.Spoken())
}

func TestLogEngine_StartAfterCloseFails(t *testing.T) {
	e := NewLogEngine(nil)
	require.NoError(t, e.Close())
	assert.True(t, errors.Is(waitReady(t, e), ErrEngineClosed))
}
