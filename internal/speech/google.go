//go:build extra

package speech

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	google_translate_tts "github.com/GrailFinder/google-translate-tts"
	"github.com/GrailFinder/google-translate-tts/handlers"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"

	"paybell/internal/log"
)

const outputSampleRate = beep.SampleRate(44100)

// GoogleEngine speaks through Google Translate TTS and the default audio
// device. A new utterance cuts off the one currently playing.
type GoogleEngine struct {
	logger *log.Logger
	speech *google_translate_tts.Speech
	synth  Synthesizer
	cache  *CachingSynthesizer
	speed  float64

	mu         sync.Mutex
	seq        uint64
	closed     bool
	current    *beep.Ctrl
	currentSrc beep.StreamSeekCloser
}

func NewGoogleEngine(opts Options, logger *log.Logger) (Engine, error) {
	if logger == nil {
		logger = log.Discard()
	}
	language := opts.Language
	if language == "" {
		language = "zh"
	}
	folder := opts.CacheDir
	if folder == "" {
		folder = DefaultCacheDir()
	}
	speed := opts.Speed
	if speed <= 0 {
		speed = 1.0
	}
	logger = logger.WithComponent(log.ComponentSpeech).With(log.FieldEngine, EngineGoogle)
	speech := &google_translate_tts.Speech{
		Folder:   folder,
		Language: language,
		Proxy:    "",
		Speed:    speed,
		Handler:  &handlers.Beep{},
	}
	e := &GoogleEngine{
		logger: logger,
		speech: speech,
		speed:  float64(speed),
	}
	guarded := NewGuardedSynthesizer(SynthesizerFunc(e.generate), DefaultBreakerConfig(), logger)
	e.cache = NewCachingSynthesizer(guarded, DefaultCacheEntries, DefaultCacheTTL)
	e.synth = e.cache
	return e, nil
}

func (e *GoogleEngine) Name() string { return EngineGoogle }

func (e *GoogleEngine) generate(text string) (io.Reader, error) {
	reader, err := e.speech.GenerateSpeech(text)
	if err != nil {
		return nil, fmt.Errorf("generate speech: %w", err)
	}
	return reader, nil
}

func (e *GoogleEngine) Start(ready func(error)) {
	e.logger.Info("speech engine connected", log.FieldLanguage, e.speech.Language)
	go func() {
		if err := os.MkdirAll(e.speech.Folder, 0o755); err != nil {
			ready(fmt.Errorf("create tts cache dir: %w", err))
			return
		}
		if err := speaker.Init(outputSampleRate, outputSampleRate.N(time.Second/10)); err != nil {
			ready(fmt.Errorf("init speaker: %w", err))
			return
		}
		e.logger.Info("speech engine initialized")
		ready(nil)
	}()
}

// Speak returns once synthesis is scheduled. Playback happens in the
// background.
func (e *GoogleEngine) Speak(text string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	e.seq++
	seq := e.seq
	prev, prevSrc := e.current, e.currentSrc
	e.current, e.currentSrc = nil, nil
	e.mu.Unlock()

	silence(prev, prevSrc)
	go e.play(seq, text)
	return nil
}

func (e *GoogleEngine) play(seq uint64, text string) {
	reader, err := e.synth.Synthesize(text)
	if err != nil {
		e.logger.Error("generate speech failed", log.FieldError, err)
		return
	}
	streamer, format, err := mp3.Decode(io.NopCloser(reader))
	if err != nil {
		e.logger.Error("mp3 decode failed", log.FieldError, err)
		return
	}
	playback := beep.Streamer(streamer)
	if format.SampleRate != outputSampleRate {
		playback = beep.Resample(4, format.SampleRate, outputSampleRate, playback)
	}
	if e.speed != 1.0 {
		playback = beep.ResampleRatio(3, e.speed, playback)
	}

	e.mu.Lock()
	if e.closed || seq != e.seq {
		// A newer utterance or Stop arrived during synthesis.
		e.mu.Unlock()
		_ = streamer.Close()
		return
	}
	ctrl := &beep.Ctrl{}
	ctrl.Streamer = beep.Seq(playback, beep.Callback(func() { e.finished(ctrl) }))
	e.current, e.currentSrc = ctrl, streamer
	e.mu.Unlock()

	speaker.Play(ctrl)
}

// finished runs on the speaker goroutine with the speaker lock held.
func (e *GoogleEngine) finished(ctrl *beep.Ctrl) {
	e.mu.Lock()
	if e.current != ctrl {
		e.mu.Unlock()
		return
	}
	src := e.currentSrc
	e.current, e.currentSrc = nil, nil
	e.mu.Unlock()
	if src != nil {
		_ = src.Close()
	}
}

func silence(ctrl *beep.Ctrl, src beep.StreamSeekCloser) {
	if ctrl != nil {
		speaker.Lock()
		ctrl.Streamer = nil
		speaker.Unlock()
	}
	if src != nil {
		_ = src.Close()
	}
}

func (e *GoogleEngine) Stop() {
	e.mu.Lock()
	e.seq++
	prev, prevSrc := e.current, e.currentSrc
	e.current, e.currentSrc = nil, nil
	e.mu.Unlock()

	silence(prev, prevSrc)
	if err := e.speech.Stop(); err != nil {
		e.logger.Debug("stop speech handler", log.FieldError, err)
	}
}

func (e *GoogleEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.Stop()
	speaker.Close()
	hits, misses := e.cache.HitRate()
	e.logger.Info("speech engine released", "cache_hits", hits, "cache_misses", misses)
	return nil
}
