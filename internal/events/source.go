// Package events feeds host notifications into the pipeline.
package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"paybell/internal/core"
	"paybell/internal/log"
)

// maxLineSize bounds a single JSON line. Notification texts are short.
const maxLineSize = 64 * 1024

var errLineTooLong = fmt.Errorf("line exceeds %d bytes", maxLineSize)

// Source produces notification events from a host channel.
type Source interface {
	Run(ctx context.Context, out chan<- core.NotificationEvent) error
}

// LineSource reads one JSON-encoded notification per line:
//
//	{"source_id":"com.eg.android.AlipayGphone","text":"支付宝到账88元"}
//
// Blank lines and lines starting with # are skipped. Lines that do not decode
// or exceed maxLineSize are logged and skipped.
type LineSource struct {
	r      io.Reader
	logger *log.Logger
}

func NewLineSource(r io.Reader, logger *log.Logger) *LineSource {
	if logger == nil {
		logger = log.Discard()
	}
	return &LineSource{r: r, logger: logger.WithComponent(log.ComponentEvents)}
}

type scanResult struct {
	line    string
	tooLong bool
	err     error
}

// Run sends decoded events to out until the reader is exhausted or ctx is
// cancelled. It returns nil at end of input. Reads that are blocked when ctx
// is cancelled are abandoned.
func (s *LineSource) Run(ctx context.Context, out chan<- core.NotificationEvent) error {
	lines := make(chan scanResult)
	go func() {
		defer close(lines)
		br := bufio.NewReaderSize(s.r, maxLineSize)
		for {
			line, tooLong, err := readLine(br)
			res := scanResult{line: line, tooLong: tooLong}
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				res = scanResult{err: err}
			}
			select {
			case lines <- res:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	lineNo := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-lines:
			if !ok {
				s.logger.Info("event input exhausted", "lines", lineNo)
				return nil
			}
			if res.err != nil {
				return fmt.Errorf("read events: %w", res.err)
			}
			lineNo++
			if res.tooLong {
				s.logger.Warn("skipping malformed event line",
					"line", lineNo,
					log.FieldError, errLineTooLong)
				continue
			}
			ev, ok, err := ParseLine(res.line)
			if err != nil {
				s.logger.Warn("skipping malformed event line",
					"line", lineNo,
					log.FieldError, err)
				continue
			}
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// readLine returns the next line without its terminator. A line longer than
// the reader's buffer is consumed up to its newline and reported as tooLong.
func readLine(br *bufio.Reader) (line string, tooLong bool, err error) {
	chunk, isPrefix, err := br.ReadLine()
	if err != nil {
		return "", false, err
	}
	if !isPrefix {
		return string(chunk), false, nil
	}
	for isPrefix {
		_, isPrefix, err = br.ReadLine()
		if errors.Is(err, io.EOF) {
			return "", true, nil
		}
		if err != nil {
			return "", true, err
		}
	}
	return "", true, nil
}

var errMissingFields = errors.New("event has neither source_id nor text")

// ParseLine decodes one input line. ok is false for lines that carry no event.
func ParseLine(line string) (ev core.NotificationEvent, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return ev, false, nil
	}
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return ev, false, fmt.Errorf("decode event: %w", err)
	}
	if ev.SourceID == "" && ev.Text == "" {
		return ev, false, errMissingFields
	}
	return ev, true, nil
}

// Dispatch hands events from in to handle one at a time until in is closed or
// ctx is cancelled.
func Dispatch(ctx context.Context, in <-chan core.NotificationEvent, handle func(core.NotificationEvent)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			handle(ev)
		}
	}
}
