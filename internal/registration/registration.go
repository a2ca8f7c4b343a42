// Package registration runs one complete trademark registration attempt:
// the wizard walk, the dispatch and the document download. Whatever
// happens, the caller gets back a Result.
package registration

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"tmfiling-backend/internal/components/assert"
	"tmfiling-backend/internal/components/chrono"
	"tmfiling-backend/internal/components/telemetry"
	"tmfiling-backend/internal/dispatch"
	"tmfiling-backend/internal/filing"
	"tmfiling-backend/internal/wizard"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_service_register = "service.register"
	report_service_panic    = "service.panic"
	report_service_record   = "service.record"
)

var tracer = otel.Tracer("tmfiling/registration")

type FailureCode string

const (
	CODE_INVALID_REQUEST          FailureCode = "INVALID_REQUEST"
	CODE_TRANSPORT_ERROR          FailureCode = "TRANSPORT_ERROR"
	CODE_PROTOCOL_ERROR           FailureCode = "PROTOCOL_ERROR"
	CODE_SERVER_ERROR             FailureCode = "SERVER_ERROR"
	CODE_NO_TRANSACTION_REFERENCE FailureCode = "NO_TRANSACTION_REFERENCE"
	CODE_FINALIZATION_FAILED      FailureCode = "FINALIZATION_FAILED"
	CODE_INTERNAL                 FailureCode = "INTERNAL"
)

// STEP_NONE marks failures that did not happen inside the wizard.
const STEP_NONE = -1

type Failure struct {
	Code    FailureCode
	Message string
	// Step is 0 for the bootstrap, 1-8 for the wizard steps and STEP_NONE
	// otherwise.
	Step int
}

type Success struct {
	FileNumber      string
	DocumentRef     string
	TransactionID   string
	TransactionType string
	CreationTime    time.Time
	Fees            filing.FeeSummary
	// Archive is the raw document archive, nil when it could not be
	// downloaded.
	Archive   []byte
	Documents []dispatch.Document
}

// Result is the outcome of one attempt, exactly one of Success and Failure
// is set.
type Result struct {
	AttemptID  string
	StartedAt  time.Time
	FinishedAt time.Time
	Success    *Success
	Failure    *Failure
	Warnings   []string
}

func (r Result) Ok() bool {
	return r.Success != nil
}

// Validator checks a request before anything is sent.
type Validator interface {
	Validate(req filing.Request) error
}

type ValidatorFunc func(req filing.Request) error

func (f ValidatorFunc) Validate(req filing.Request) error {
	return f(req)
}

// Recorder is handed every finished result.
type Recorder interface {
	Record(ctx context.Context, result Result) error
}

type Options struct {
	BaseUrl string
	// Timeout bounds each wizard request.
	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string
	// BrowserFingerprint applies to the wizard and the dispatch client.
	BrowserFingerprint bool

	WizardEndpoints   wizard.Endpoints
	DispatchEndpoints dispatch.Endpoints
	DispatchTimeout   time.Duration

	Terms          wizard.TermValidator
	HeaderFallback wizard.HeaderFallback

	// OutputDir receives every HTTP exchange of an attempt under a
	// subdirectory named after the attempt id. Empty disables it.
	OutputDir string
	// Validator defaults to filing.Validate.
	Validator Validator
	Recorder  Recorder
	Time      chrono.API
}

// Service runs registration attempts. It holds no per-attempt state, so
// Register may be called concurrently.
type Service struct {
	opts Options
	tel  telemetry.API
}

func NewService(opts Options, tel telemetry.API) *Service {
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.BaseUrl)

	if opts.Validator == nil {
		opts.Validator = ValidatorFunc(filing.Validate)
	}
	if opts.Time == nil {
		std, _ := chrono.NewStandardImpl()
		opts.Time = std
	}

	return &Service{
		opts: opts,
		tel:  telemetry.NewScopedAPI("registration", tel),
	}
}

// attempt collects the warnings of one run, it never leaves Register.
type attempt struct {
	id       string
	warnings []string
}

func (a *attempt) warn(format string, args ...any) {
	a.warnings = append(a.warnings, fmt.Sprintf(format, args...))
}

// Register runs a full attempt for req. It never returns an error and never
// panics, every outcome is in the Result.
func (s *Service) Register(ctx context.Context, req filing.Request) (result Result) {
	a := &attempt{id: uuid.NewString()}
	result = Result{
		AttemptID: a.id,
		StartedAt: s.opts.Time.Now(),
	}

	ctx, span := tracer.Start(ctx, "registration.Register")
	span.SetAttributes(attribute.String("registration.attempt", a.id))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.tel.ReportBroken(report_service_panic, r, a.id, string(debug.Stack()))
			result.Success = nil
			result.Failure = &Failure{
				Code:    CODE_INTERNAL,
				Message: fmt.Sprint(r),
				Step:    STEP_NONE,
			}
		}
		result.Warnings = a.warnings
		result.FinishedAt = s.opts.Time.Now()
		if result.Failure != nil {
			span.SetStatus(codes.Error, string(result.Failure.Code))
		}
		s.record(ctx, &result)
	}()

	success, failure := s.run(ctx, a, req)
	result.Success = success
	result.Failure = failure
	if failure != nil {
		s.tel.ReportBroken(report_service_register, a.id, failure.Code, failure.Message)
	} else {
		s.tel.ReportDebug("attempt finished", "attempt", a.id, "file_number", success.FileNumber)
	}
	return result
}

func (s *Service) record(ctx context.Context, result *Result) {
	if s.opts.Recorder == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.tel.ReportBroken(report_service_panic, r, result.AttemptID)
			result.Warnings = append(result.Warnings, fmt.Sprintf("result not recorded: %v", r))
		}
	}()
	err := s.opts.Recorder.Record(ctx, *result)
	if err != nil {
		s.tel.ReportWarning(report_service_record, err, result.AttemptID)
		result.Warnings = append(result.Warnings, fmt.Sprintf("result not recorded: %s", err.Error()))
	}
}

func (s *Service) output(a *attempt) telemetry.Output {
	if s.opts.OutputDir == "" {
		return telemetry.NopOutput{}
	}
	out, err := telemetry.NewFilesystemOutput(filepath.Join(s.opts.OutputDir, a.id))
	if err != nil {
		a.warn("debug output disabled: %s", err.Error())
		return telemetry.NopOutput{}
	}
	return out
}

func (s *Service) run(ctx context.Context, a *attempt, req filing.Request) (*Success, *Failure) {
	err := s.opts.Validator.Validate(req)
	if err != nil {
		return nil, &Failure{Code: CODE_INVALID_REQUEST, Message: err.Error(), Step: STEP_NONE}
	}

	output := s.output(a)

	transport, err := wizard.NewTransport(wizard.TransportOptions{
		BaseUrl:            s.opts.BaseUrl,
		Timeout:            s.opts.Timeout,
		RequestsPerSecond:  s.opts.RequestsPerSecond,
		UserAgent:          s.opts.UserAgent,
		BrowserFingerprint: s.opts.BrowserFingerprint,
		Output:             output,
	}, s.tel)
	if err != nil {
		return nil, &Failure{Code: CODE_INTERNAL, Message: err.Error(), Step: STEP_NONE}
	}

	engine := wizard.NewEngine(wizard.Options{
		Transport:      transport,
		Endpoints:      s.opts.WizardEndpoints,
		AttemptID:      a.id,
		Terms:          s.opts.Terms,
		HeaderFallback: s.opts.HeaderFallback,
	}, s.tel)

	session, err := engine.Run(ctx, req)
	a.warnings = append(a.warnings, session.Warnings...)
	if err != nil {
		return nil, stepFailure(err)
	}

	client, err := dispatch.NewClient(dispatch.Options{
		BaseUrl:            s.opts.BaseUrl,
		Endpoints:          s.opts.DispatchEndpoints,
		Timeout:            s.opts.DispatchTimeout,
		UserAgent:          s.opts.UserAgent,
		BrowserFingerprint: s.opts.BrowserFingerprint,
		Output:             output,
		Time:               s.opts.Time,
	}, s.tel)
	if err != nil {
		return nil, &Failure{Code: CODE_INTERNAL, Message: err.Error(), Step: STEP_NONE}
	}

	receipt, err := client.Finalize(ctx, session.TransactionReference)
	if err != nil {
		return nil, finalizationFailure(err)
	}

	success := &Success{
		FileNumber:      receipt.FileNumber,
		DocumentRef:     receipt.DocumentRef,
		TransactionID:   receipt.TransactionID,
		TransactionType: receipt.TransactionType,
		CreationTime:    receipt.CreationTime,
		Fees:            filing.Fees(req),
	}
	if success.FileNumber == "" {
		a.warn("dispatch succeeded without a file number")
	}

	// the filing is committed at this point, a missing archive must not
	// turn it into a failure
	artifacts, err := client.Collect(ctx, session.TransactionReference)
	if err != nil {
		a.warn("document archive not retrieved: %s", err.Error())
		return success, nil
	}
	success.Archive = artifacts.Archive
	success.Documents = artifacts.Documents
	if len(artifacts.Documents) == 0 {
		a.warn("document archive contained no readable documents")
	}
	return success, nil
}

func stepFailure(err error) *Failure {
	var stepErr *wizard.StepError
	if !errors.As(err, &stepErr) {
		return &Failure{Code: CODE_INTERNAL, Message: err.Error(), Step: STEP_NONE}
	}

	failure := &Failure{Message: stepErr.Message, Step: stepErr.Step}
	switch stepErr.Kind {
	case wizard.KIND_TRANSPORT:
		failure.Code = CODE_TRANSPORT_ERROR
	case wizard.KIND_SERVER:
		failure.Code = CODE_SERVER_ERROR
	case wizard.KIND_REQUEST:
		failure.Code = CODE_INVALID_REQUEST
	default:
		failure.Code = CODE_PROTOCOL_ERROR
		if errors.Is(stepErr, wizard.ErrNoTransactionReference) {
			failure.Code = CODE_NO_TRANSACTION_REFERENCE
		}
	}
	return failure
}

func finalizationFailure(err error) *Failure {
	failure := &Failure{Code: CODE_FINALIZATION_FAILED, Message: err.Error(), Step: STEP_NONE}
	var statusErr *dispatch.StatusError
	if errors.As(err, &statusErr) && statusErr.Message != "" {
		failure.Message = statusErr.Message
	}
	return failure
}

// Recorders hands a result to every recorder in order. All of them are
// called even when one fails.
type Recorders []Recorder

func (r Recorders) Record(ctx context.Context, result Result) error {
	var errs []error
	for _, recorder := range r {
		err := recorder.Record(ctx, result)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
