// Package pipeline turns host notifications into payment announcements.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"

	"paybell/internal/announce"
	"paybell/internal/core"
	"paybell/internal/log"
)

// Outcome says how an event left the pipeline.
type Outcome string

const (
	OutcomeIgnoredKind   Outcome = "ignored_kind"
	OutcomeUnknownSource Outcome = "unknown_source"
	OutcomeNoAmount      Outcome = "no_amount"
	OutcomeNotIncome     Outcome = "not_income"
	OutcomeAnnounced     Outcome = "announced"
	OutcomeSubmitFailed  Outcome = "submit_failed"
	OutcomeFault         Outcome = "fault"
)

// Announcer accepts utterances for speaking. *announce.Queue implements it.
type Announcer interface {
	Submit(utterance string) (*announce.Request, error)
}

// Pipeline holds no per-event state, so back-to-back calls do not interact
// except through the announcer.
type Pipeline struct {
	classifier core.SourceClassifier
	phrasebook core.Phrasebook
	announcer  Announcer
	logger     *log.Logger
}

// New builds a pipeline. A nil logger discards diagnostics.
func New(classifier core.SourceClassifier, phrasebook core.Phrasebook, announcer Announcer, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Discard()
	}
	return &Pipeline{
		classifier: classifier,
		phrasebook: phrasebook,
		announcer:  announcer,
		logger:     logger.WithComponent(log.ComponentPipeline),
	}
}

// OnEvent processes one notification. It never panics and never returns an
// error: every rejection is a normal no-op.
func (p *Pipeline) OnEvent(ev core.NotificationEvent) {
	p.Process(ev)
}

// Handle adapts OnEvent to consumers that expect an error-returning handler.
// It always returns nil so the delivery is acknowledged. The outcome is logged
// with the logger carried by ctx, if any.
func (p *Pipeline) Handle(ctx context.Context, ev core.NotificationEvent) error {
	outcome := p.Process(ev)
	log.FromContext(ctx).Debug("delivery handled", log.FieldOutcome, string(outcome))
	return nil
}

// Process is OnEvent returning the outcome, for callers that count them.
func (p *Pipeline) Process(ev core.NotificationEvent) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline fault, event dropped",
				log.FieldSourceID, ev.SourceID,
				log.FieldError, fmt.Sprint(r),
				"stack", string(debug.Stack()))
			outcome = OutcomeFault
		}
	}()
	return p.process(ev)
}

func (p *Pipeline) process(ev core.NotificationEvent) Outcome {
	fields := log.NewFields().WithEvent(ev.SourceID, len(ev.Text))
	if ev.Kind != "" {
		fields[log.FieldKind] = ev.Kind
	}
	p.logger.Debug("event received", fields.ToSlice()...)

	if !ev.IsNotification() {
		p.logger.Debug("event ignored", log.FieldOutcome, string(OutcomeIgnoredKind))
		return OutcomeIgnoredKind
	}

	source := p.classifier.Classify(ev.SourceID)
	if !source.Known() {
		p.logger.Debug("event ignored",
			log.FieldSourceID, ev.SourceID,
			log.FieldOutcome, string(OutcomeUnknownSource))
		return OutcomeUnknownSource
	}

	amount, ok := core.ExtractAmount(ev.Text)
	if !ok {
		p.logger.Debug("no amount found",
			log.FieldSource, source.String(),
			log.FieldOperation, log.OpExtract)
		return OutcomeNoAmount
	}

	income := core.IsIncomingPayment(source, ev.Text)
	fen, err := core.ParseAmountToFen(amount)
	if err != nil {
		fen = -1
	}
	p.logger.Info("notification classified",
		log.NewFields().
			WithOperation(log.OpClassify).
			WithPayment(source.String(), amount, fen, income).
			ToSlice()...)
	if !income {
		return OutcomeNotIncome
	}

	utterance := p.phrasebook.Utterance(source, amount)
	req, err := p.announcer.Submit(utterance)
	if err != nil {
		p.logger.Warn("announcement not submitted",
			log.FieldUtterance, utterance,
			log.FieldError, err)
		return OutcomeSubmitFailed
	}
	fields = log.NewFields().WithOperation(log.OpSubmit)
	fields[log.FieldUtterance] = utterance
	if req != nil {
		fields[log.FieldRequestID] = req.ID.String()
	}
	p.logger.Info("announcement submitted", fields.ToSlice()...)
	return OutcomeAnnounced
}
