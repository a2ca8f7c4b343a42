package wizard

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"tmfiling-backend/internal/components/assert"
	"tmfiling-backend/internal/components/telemetry"
	"tmfiling-backend/internal/filing"
	"tmfiling-backend/internal/termsearch"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_engine_bootstrap = "engine.bootstrap"
	report_engine_step      = "engine.step"
	report_engine_run       = "engine.run"
)

var (
	tracer = otel.Tracer("tmfiling/wizard")
	meter  = otel.Meter("tmfiling/wizard")

	roundTripCounter, _ = meter.Int64Counter(
		"wizard.round_trips",
		metric.WithDescription("partial update round trips sent to the wizard"),
	)
	stepDuration, _ = meter.Float64Histogram(
		"wizard.step.duration",
		metric.WithDescription("time spent in one wizard step"),
		metric.WithUnit("s"),
	)
)

// State is the position of the engine in the wizard.
type State int

const (
	STATE_BOOTSTRAP State = iota
	STATE_APPLICANT
	STATE_REPRESENTATIVE
	STATE_DELIVERY
	STATE_TRADEMARK
	STATE_CLASSIFICATION
	STATE_DECLARATIONS
	STATE_PAYMENT
	STATE_FINAL
	STATE_FINALIZED
	STATE_FAILED
)

func (s State) String() string {
	switch s {
	case STATE_BOOTSTRAP:
		return "bootstrap"
	case STATE_APPLICANT:
		return "applicant"
	case STATE_REPRESENTATIVE:
		return "representative"
	case STATE_DELIVERY:
		return "delivery"
	case STATE_TRADEMARK:
		return "trademark"
	case STATE_CLASSIFICATION:
		return "classification"
	case STATE_DECLARATIONS:
		return "declarations"
	case STATE_PAYMENT:
		return "payment"
	case STATE_FINAL:
		return "final"
	case STATE_FINALIZED:
		return "finalized"
	case STATE_FAILED:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// TermValidator checks explicit goods and services terms before the
// classification step searches for them.
type TermValidator interface {
	Validate(ctx context.Context, term string, class int) (termsearch.Validation, error)
}

type Options struct {
	Transport *Transport
	Endpoints Endpoints
	AttemptID string
	// Terms is optional, explicit terms are not pre-checked without it.
	Terms TermValidator
	// HeaderFallback supplies candidate ids when the class heading checkbox
	// cannot be found in the expanded tree. nil disables the fallback.
	HeaderFallback HeaderFallback
}

// Engine drives one registration attempt through the wizard. An engine runs
// exactly once, a new attempt needs a new engine (and a new transport).
type Engine struct {
	transport      *Transport
	endpoints      Endpoints
	attemptID      string
	terms          TermValidator
	headerFallback HeaderFallback
	tel            telemetry.API

	used        atomic.Bool
	state       State
	currentStep string
}

func NewEngine(opts Options, tel telemetry.API) *Engine {
	assert.NotNil(opts.Transport)
	assert.NotNil(tel)

	endpoints := opts.Endpoints
	if endpoints == (Endpoints{}) {
		endpoints = DefaultEndpoints()
	}

	return &Engine{
		transport:      opts.Transport,
		endpoints:      endpoints,
		attemptID:      opts.AttemptID,
		terms:          opts.Terms,
		headerFallback: opts.HeaderFallback,
		tel:            telemetry.NewScopedAPI("wizard", tel),
		state:          STATE_BOOTSTRAP,
		currentStep:    STATE_BOOTSTRAP.String(),
	}
}

// State returns where the engine currently is.
func (e *Engine) State() State {
	return e.state
}

// step is one state of the wizard together with the work that moves it
// forward.
type step struct {
	state   State
	execute func(ctx context.Context, s Session, req filing.Request) (Session, error)
}

func (e *Engine) steps() []step {
	return []step{
		{state: STATE_APPLICANT, execute: e.applicantStep},
		{state: STATE_REPRESENTATIVE, execute: e.representativeStep},
		{state: STATE_DELIVERY, execute: e.deliveryStep},
		{state: STATE_TRADEMARK, execute: e.trademarkStep},
		{state: STATE_CLASSIFICATION, execute: e.classificationStep},
		{state: STATE_DECLARATIONS, execute: e.declarationsStep},
		{state: STATE_PAYMENT, execute: e.paymentStep},
		{state: STATE_FINAL, execute: e.finalStep},
	}
}

// Run bootstraps a session and walks every wizard step in order. On success
// the returned session carries the transaction reference. On failure the
// error is a *StepError and the returned session is the last one reached,
// its cursor counts the steps that were accepted.
func (e *Engine) Run(ctx context.Context, req filing.Request) (Session, error) {
	if !e.used.CompareAndSwap(false, true) {
		return Session{}, ErrEngineUsed
	}

	ctx, span := tracer.Start(ctx, "wizard.Run", trace.WithAttributes(
		attribute.String("wizard.attempt", e.attemptID),
	))
	defer span.End()

	s, err := e.bootstrap(ctx)
	if err != nil {
		e.state = STATE_FAILED
		stepErr := classify(int(STATE_BOOTSTRAP), STATE_BOOTSTRAP.String(), err)
		if stepErr.Kind == KIND_TRANSPORT || stepErr.Kind == KIND_SERVER {
			// bootstrap has no partial responses to blame, whatever went wrong
			// on the HTTP level is a transport problem
			stepErr.Kind = KIND_TRANSPORT
		}
		e.tel.ReportBroken(report_engine_bootstrap, stepErr)
		span.RecordError(stepErr)
		span.SetStatus(codes.Error, "bootstrap failed")
		return s, stepErr
	}

	for _, st := range e.steps() {
		e.state = st.state
		e.currentStep = st.state.String()

		start := time.Now()
		stepCtx, stepSpan := tracer.Start(ctx, "wizard.step", trace.WithAttributes(
			attribute.String("wizard.step", e.currentStep),
			attribute.Int("wizard.cursor", s.Cursor),
		))
		next, err := st.execute(stepCtx, s, req)
		stepDuration.Record(stepCtx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("wizard.step", e.currentStep),
		))
		if err != nil {
			stepErr := classify(int(st.state), st.state.String(), err)
			e.state = STATE_FAILED
			e.tel.ReportBroken(report_engine_step, stepErr, e.attemptID)
			stepSpan.RecordError(stepErr)
			stepSpan.SetStatus(codes.Error, string(stepErr.Kind))
			stepSpan.End()
			span.SetStatus(codes.Error, "step failed")
			// steps never touch the cursor, so it still counts the accepted steps
			return next, stepErr
		}
		stepSpan.End()

		next.Cursor = s.Cursor + 1
		s = next
		e.tel.ReportDebug(report_engine_step, e.currentStep, "accepted", s.Cursor)
	}

	e.state = STATE_FINALIZED
	e.tel.ReportCount(report_engine_run, int64(s.RoundTrips))
	return s, nil
}

// bootstrap opens a new wizard session: landing page for the cookies, start
// resource for the window id redirect, one manual follow of that redirect
// and finally the entry page, which is the only full page of the protocol.
func (e *Engine) bootstrap(ctx context.Context) (Session, error) {
	ctx, span := tracer.Start(ctx, "wizard.bootstrap")
	defer span.End()

	_, err := e.transport.Get(ctx, e.endpoints.Landing, nil)
	if err != nil {
		return Session{}, fmt.Errorf("landing: %w", err)
	}

	startQuery := url.Values{}
	startQuery.Set(param_flow_instance, "")
	startQuery.Set(param_flow_id, e.endpoints.FlowID)
	start, err := e.transport.Get(ctx, e.endpoints.Start, startQuery)
	if err != nil {
		return Session{}, fmt.Errorf("start: %w", err)
	}
	if !start.IsRedirect() || start.Location == "" {
		return Session{}, &TransportError{
			Method: "GET",
			Url:    e.endpoints.Start,
			Status: start.Status,
			Err:    fmt.Errorf("expected a redirect carrying the window id"),
		}
	}
	location, err := e.transport.ResolveLocation(start.Location)
	if err != nil {
		return Session{}, fmt.Errorf("start: parse redirect: %w", err)
	}
	redirectWindowID := location.Query().Get(param_window_id)
	if redirectWindowID == "" {
		return Session{}, fmt.Errorf("start: redirect without %s: %w", param_window_id, ErrMissingWindowID)
	}

	_, err = e.transport.Get(ctx, location.String(), nil)
	if err != nil {
		return Session{}, fmt.Errorf("follow redirect: %w", err)
	}

	entryQuery := url.Values{}
	entryQuery.Set(param_flow_instance, "")
	entryQuery.Set(param_flow_id, e.endpoints.FlowID)
	entryQuery.Set(param_window_id, redirectWindowID)
	entry, err := e.transport.Get(ctx, e.endpoints.Entry, entryQuery)
	if err != nil {
		return Session{}, fmt.Errorf("entry: %w", err)
	}

	base, full := splitWindowID(redirectWindowID)
	tokens, err := ExtractBootstrapTokens(entry.Body, Hints{
		FallbackWindowID: full,
		SessionBaseID:    base,
	})
	if err != nil {
		return Session{}, fmt.Errorf("entry: %w", err)
	}

	e.tel.ReportDebug(report_engine_bootstrap, "window", tokens.WindowID, "nonce", tokens.Nonce != "")

	return Session{
		AttemptID:        e.attemptID,
		Tokens:           tokens,
		LastResponseBody: entry.Body,
	}, nil
}

// warn records a non fatal problem both in telemetry and on the session.
func (e *Engine) warn(s Session, id string, format string, args ...any) Session {
	message := fmt.Sprintf(format, args...)
	e.tel.ReportWarning(id, message, e.attemptID)
	return s.withWarning(message)
}
