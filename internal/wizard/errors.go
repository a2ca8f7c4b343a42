package wizard

import (
	"errors"
	"fmt"
)

var (
	ErrNoTransactionReference = errors.New("no transaction reference in final response")
	ErrEngineUsed             = errors.New("engine already ran an attempt")
)

type FailureKind string

const (
	KIND_TRANSPORT FailureKind = "transport"
	KIND_PROTOCOL  FailureKind = "protocol"
	KIND_SERVER    FailureKind = "server"
	KIND_REQUEST   FailureKind = "request"
)

// ServerError is a response that came back fine on the HTTP level but
// carries one of the server's failure markers.
type ServerError struct {
	Marker  string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server reported failure (%s)", e.Marker)
	}
	return fmt.Sprintf("server reported failure (%s): %s", e.Marker, e.Message)
}

// StepError is the failure of an attempt at a specific step. Step 0 is the
// bootstrap, 1-8 are the wizard steps.
type StepError struct {
	Step    int
	Name    string
	Kind    FailureKind
	Message string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed [%s]: %s", e.Step, e.Name, e.Kind, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func classify(step int, name string, err error) *StepError {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr
	}

	result := &StepError{
		Step:    step,
		Name:    name,
		Message: err.Error(),
		Err:     err,
	}

	var transportErr *TransportError
	var serverErr *ServerError
	var requestErr *requestError
	switch {
	case errors.As(err, &transportErr):
		result.Kind = KIND_TRANSPORT
	case errors.As(err, &serverErr):
		result.Kind = KIND_SERVER
		if serverErr.Message != "" {
			result.Message = serverErr.Message
		}
	case errors.As(err, &requestErr):
		result.Kind = KIND_REQUEST
	default:
		result.Kind = KIND_PROTOCOL
	}
	return result
}

// requestError is a filing request the engine cannot map onto fields.
type requestError struct {
	msg string
}

func (e *requestError) Error() string {
	return e.msg
}

func newRequestError(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}
