package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldSourceID   = "source_id"
	FieldSource     = "source"
	FieldKind       = "kind"
	FieldTextLen    = "text_len"
	FieldAmount     = "amount"
	FieldAmountFen  = "amount_fen"
	FieldIncome     = "income"
	FieldOutcome    = "outcome"
	FieldRequestID  = "request_id"
	FieldAttempt    = "attempt"
	FieldUtterance  = "utterance"
	FieldWaited     = "waited_ms"
	FieldEngine     = "engine"
	FieldLanguage   = "language"
	FieldQueue      = "queue"
	FieldExchange   = "exchange"
	FieldRetryDelay = "retry_delay"
)

// Components defines standard component names
const (
	ComponentApp      = "app"
	ComponentPipeline = "pipeline"
	ComponentAnnounce = "announce"
	ComponentSpeech   = "speech"
	ComponentAMQP     = "amqp"
	ComponentEvents   = "events"
)

// Operations defines standard operation names
const (
	OpClassify = "classify"
	OpExtract  = "extract"
	OpSubmit   = "submit"
	OpRetry    = "retry"
	OpSpeak    = "speak"
	OpConsume  = "consume"
	OpPublish  = "publish"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithEvent adds the identifying fields of an inbound notification
func (f LogFields) WithEvent(sourceID string, textLen int) LogFields {
	f[FieldSourceID] = sourceID
	f[FieldTextLen] = textLen
	return f
}

// WithPayment adds classification result fields
func (f LogFields) WithPayment(source, amount string, amountFen int64, income bool) LogFields {
	f[FieldSource] = source
	f[FieldAmount] = amount
	f[FieldAmountFen] = amountFen
	f[FieldIncome] = income
	return f
}

// WithRequest adds announcement request fields
func (f LogFields) WithRequest(requestID string, attempt int) LogFields {
	f[FieldRequestID] = requestID
	f[FieldAttempt] = attempt
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
