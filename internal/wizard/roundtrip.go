package wizard

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"tmfiling-backend/pkg/htmlutil"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_round_trip = "engine.round-trip"
)

const marker_partial_redirect = "partial-redirect"

// envelope describes one partial update exchange. Every exchange with the
// wizard, from step submissions to tree expansions and the file upload, is
// built from one.
type envelope struct {
	// source is the id of the component that fires the request.
	source  string
	execute string
	render  string
	// event is the client behavior event (change, expand, ...), if any.
	event  string
	fields url.Values

	// file turns the exchange into a multipart request to the upload resource.
	file *FilePart
	// expectRedirect accepts a 3xx answer or a partial response <redirect>
	// instead of treating it as a failure.
	expectRedirect bool
	// lenient downgrades failure markers to warnings.
	lenient bool
}

// exchange is the outcome of a round trip.
type exchange struct {
	reply Reply
	doc   *Document
}

func (e *Engine) form(s Session, env envelope) url.Values {
	form := url.Values{}
	for key, values := range env.fields {
		for _, v := range values {
			form.Add(key, v)
		}
	}

	form.Set(form_id, form_id)
	form.Set(field_partial_ajax, "true")
	form.Set(field_source, env.source)
	form.Set(field_execute, env.execute)
	form.Set(field_render, env.render)
	if env.event != "" {
		form.Set(field_behavior_event, env.event)
		form.Set(field_partial_event, env.event)
	}
	form.Set(field_step, e.currentStep)
	form.Set(field_view_state, s.Tokens.ViewState)
	form.Set(field_client_window, s.Tokens.WindowID)
	form.Set(field_nonce, s.Tokens.Nonce)

	return form
}

// roundTrip sends one envelope with the session's current tokens, checks the
// answer for failure markers and returns the session with refreshed tokens.
// The session is returned unchanged when the exchange fails.
func (e *Engine) roundTrip(ctx context.Context, s Session, env envelope) (Session, exchange, error) {
	ctx, span := tracer.Start(ctx, "wizard.roundTrip", trace.WithAttributes(
		attribute.String("wizard.step", e.currentStep),
		attribute.String("wizard.source", env.source),
		attribute.String("wizard.event", env.event),
	))
	defer span.End()

	query := url.Values{}
	query.Set(param_window_id, s.WindowID())

	form := e.form(s, env)

	var reply Reply
	var err error
	path := e.endpoints.Wizard
	if env.file != nil {
		path = e.endpoints.Upload
		reply, err = e.transport.PostMultipart(ctx, path, query, form, *env.file)
	} else {
		reply, err = e.transport.PostForm(ctx, path, query, form)
	}
	roundTripCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("wizard.step", e.currentStep)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failed")
		return s, exchange{}, err
	}
	if reply.IsRedirect() && !env.expectRedirect {
		err = &TransportError{
			Method: "POST",
			Url:    path,
			Status: reply.Status,
			Err:    fmt.Errorf("%w to %q", errUnexpectedRedirect, reply.Location),
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected redirect")
		return s, exchange{}, err
	}

	doc := ParseDocument(reply.Body)
	if doc.DecodeError != nil {
		e.tel.ReportWarning(report_round_trip, doc.DecodeError, e.currentStep, env.source)
	}
	// the ajax form of a 3xx, sent when the view expired or the server shows
	// an error page instead of the next step
	if doc.RedirectUrl != "" && !env.expectRedirect {
		err = &ServerError{
			Marker:  marker_partial_redirect,
			Message: fmt.Sprintf("the server left the wizard for %s", doc.RedirectUrl),
		}
		e.tel.ReportBroken(report_round_trip, err, e.currentStep, env.source)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected partial redirect")
		return s, exchange{}, err
	}
	if marker, message, failed := detectFailure(doc); failed {
		serverErr := &ServerError{Marker: marker, Message: message}
		if !env.lenient {
			e.tel.ReportBroken(report_round_trip, serverErr, e.currentStep, env.source)
			span.RecordError(serverErr)
			span.SetStatus(codes.Error, "server failure marker")
			return s, exchange{}, serverErr
		}
		e.tel.ReportWarning(report_round_trip, serverErr, e.currentStep, env.source)
		s = s.withWarning(fmt.Sprintf("%s: %s", e.currentStep, serverErr.Error()))
	}

	if doc.DecodeError != nil {
		s = s.withWarning(fmt.Sprintf("%s: %s, tokens kept", e.currentStep, doc.DecodeError))
	}

	before := s.Tokens
	s.Tokens = RefreshFromDocument(doc, s.Tokens)
	s.LastResponseBody = reply.Body
	s.RoundTrips++

	e.tel.ReportDebug(
		report_round_trip,
		e.currentStep,
		env.source,
		reply.Status,
		before.WindowID,
		s.Tokens.WindowID,
	)
	return s, exchange{reply: reply, doc: doc}, nil
}

// failureMarker recognizes one kind of server side failure in a response.
type failureMarker struct {
	name   string
	detect func(doc *Document) (message string, found bool)
}

var failureMarkers = []failureMarker{
	{
		name: "partial-response-error",
		detect: func(doc *Document) (string, bool) {
			if doc.Fault == nil {
				return "", false
			}
			if doc.Fault.Message != "" {
				return doc.Fault.Message, true
			}
			return doc.Fault.Name, true
		},
	},
	{
		name: "view-expired",
		detect: func(doc *Document) (string, bool) {
			if strings.Contains(doc.Raw, "ViewExpiredException") {
				return "the wizard session has expired", true
			}
			return "", false
		},
	},
	{
		name: "error-page",
		detect: func(doc *Document) (string, bool) {
			page := doc.Markup.Find("#errorPage, .dpma-error-page")
			if page.Length() == 0 {
				return "", false
			}
			return htmlutil.SelectionText(page.Find("h1, .error-message").First()), true
		},
	},
	{
		name: "validation-messages",
		detect: func(doc *Document) (string, bool) {
			summaries := doc.Markup.Find(".ui-messages-error-summary, .ui-message-error-detail")
			if summaries.Length() == 0 {
				return "", false
			}
			var messages []string
			for i := range summaries.Nodes {
				text := htmlutil.SelectionText(summaries.Eq(i))
				if text != "" {
					messages = append(messages, text)
				}
			}
			return strings.Join(messages, "; "), true
		},
	},
}

func detectFailure(doc *Document) (marker string, message string, failed bool) {
	for _, m := range failureMarkers {
		msg, found := m.detect(doc)
		if found {
			return m.name, msg, true
		}
	}
	return "", "", false
}
