// paybell-notify publishes a single notification to the broker, standing in
// for a device-side listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"paybell/internal/amqp"
	"paybell/internal/cli"
	"paybell/internal/core"
	"paybell/internal/log"
)

func main() {
	sourceFlag := flag.String("source", core.DefaultAlipaySourceID, "Source identifier of the notifying app")
	textFlag := flag.String("text", "", "Notification text [required]")
	kindFlag := flag.String("kind", core.KindNotification, "Event kind")
	timeoutFlag := flag.Duration("timeout", 10*time.Second, "Publish timeout")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: paybell-notify -text <notification text> [options]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *textFlag == "" {
		flag.Usage()
		os.Exit(2)
	}

	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	ev := core.NotificationEvent{SourceID: *sourceFlag, Text: *textFlag, Kind: *kindFlag}
	if err := client.PublishNotification(ctx, ev); err != nil {
		logger.Error("Failed to publish notification", log.FieldError, err)
		os.Exit(1)
	}
}
