package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"paybell/internal/amqp"
	"paybell/internal/announce"
	"paybell/internal/cli"
	"paybell/internal/config"
	"paybell/internal/core"
	"paybell/internal/events"
	"paybell/internal/log"
	"paybell/internal/pipeline"
	"paybell/internal/speech"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	logger.Info("Starting paybell",
		log.FieldOperation, log.OpStartup,
		log.FieldEngine, cfg.SpeechEngine,
		log.FieldLanguage, cfg.Language,
		"event_source", cfg.EventSource)

	if err := run(cfg, logger); err != nil {
		logger.Error("paybell stopped", log.FieldError, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *log.Logger) error {
	classifier, err := core.NewSourceClassifier(cfg.AlipaySourceID, cfg.WeChatSourceID)
	if err != nil {
		return err
	}

	engine := newEngine(cfg, logger)
	queue := announce.NewQueue(engine,
		announce.WithRetryDelay(cfg.RetryDelay),
		announce.WithLogger(logger))
	p := pipeline.New(classifier, core.PhrasebookFor(cfg.Language), queue, logger)

	ctx, cancel := cli.SignalContext(context.Background(), logger)
	defer cancel()

	engine.Start(queue.OnSpeechReady)

	g, gctx := errgroup.WithContext(ctx)
	switch cfg.EventSource {
	case config.EventSourceAMQP:
		client := amqp.New(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		defer client.Close()
		g.Go(func() error {
			return client.Run(gctx, p.Handle)
		})
	default:
		ch := make(chan core.NotificationEvent)
		src := events.NewLineSource(os.Stdin, logger)
		g.Go(func() error {
			defer close(ch)
			return src.Run(gctx, ch)
		})
		g.Go(func() error {
			return events.Dispatch(gctx, ch, p.OnEvent)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	// End of input: let requests waiting for readiness be spoken unless
	// shutdown was requested.
	if err == nil && ctx.Err() == nil && queue.Pending() > 0 {
		logger.Info("Input finished, waiting for pending announcements", "pending", queue.Pending())
		drainCtx, drainCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
		if derr := queue.Drain(drainCtx, 0); derr != nil {
			logger.Warn("Pending announcements not spoken", log.FieldError, derr)
		}
		drainCancel()
	}

	stats := queue.Stats()
	logger.Info("Announcement totals",
		"submitted", stats.Submitted,
		"emitted", stats.Emitted,
		"retries", stats.Retries,
		"speak_errors", stats.SpeakErrors,
		"pending", stats.Pending)

	if serr := cli.Shutdown(logger, cfg.ShutdownTimeout,
		func(context.Context) error { return queue.Close() },
		func(context.Context) error { return engine.Close() },
	); serr != nil && err == nil {
		err = serr
	}
	return err
}

// newEngine builds the configured engine, falling back to the log engine when
// the configured one is not compiled in.
func newEngine(cfg *config.Config, logger *log.Logger) speech.Engine {
	cacheDir := cfg.SpeechCacheDir
	if cacheDir == "" {
		cacheDir = speech.DefaultCacheDir()
	}
	engine, err := speech.New(cfg.SpeechEngine, speech.Options{
		Language: cfg.Language,
		Speed:    cfg.SpeechSpeed,
		CacheDir: cacheDir,
	}, logger)
	if err != nil {
		logger.Warn("Speech engine unavailable, falling back to log engine",
			log.FieldEngine, cfg.SpeechEngine,
			log.FieldError, err)
		return speech.NewLogEngine(logger)
	}
	return engine
}
