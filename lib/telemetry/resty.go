package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/semconv/v1.13.0/httpconv"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxBody = 16 << 10

// headers carrying the session or credentials, their values never reach a span
var redactedHeaders = map[string]bool{
	"Cookie":        true,
	"Set-Cookie":    true,
	"Authorization": true,
}

type TraceOptions struct {
	// Tracer names the otel tracer the spans are started on.
	Tracer string
	// MaxBody caps how many bytes of a body are attached, 0 means 16KiB and
	// a negative value disables body capture.
	MaxBody int
	// Provider defaults to the global tracer provider.
	Provider trace.TracerProvider
}

// TraceResty opens one span per request made by client, named after the
// method and path. Headers and (truncated, textual) bodies are attached as
// attributes.
func TraceResty(client *resty.Client, opts TraceOptions) {
	if opts.MaxBody == 0 {
		opts.MaxBody = defaultMaxBody
	}
	if opts.Provider == nil {
		opts.Provider = otel.GetTracerProvider()
	}
	t := restyTracer{tracer: opts.Provider.Tracer(opts.Tracer), maxBody: opts.MaxBody}

	client.OnBeforeRequest(t.start)
	client.OnAfterResponse(t.finish)
	client.OnError(t.fail)
}

type restyTracer struct {
	tracer  trace.Tracer
	maxBody int
}

type spanKeyType struct{}

var spanKey spanKeyType

func (t restyTracer) start(_ *resty.Client, req *resty.Request) error {
	ctx, span := t.tracer.Start(req.Context(), req.Method, trace.WithSpanKind(trace.SpanKindClient))
	req.SetContext(context.WithValue(ctx, spanKey, span))
	return nil
}

// requestSpan returns the span opened by start for this request. It is absent
// when an earlier hook failed the request, the context then only carries
// the caller's span, which is not ours to end.
func requestSpan(ctx context.Context) (trace.Span, bool) {
	span, ok := ctx.Value(spanKey).(trace.Span)
	return span, ok
}

func spanName(method string, raw *http.Request) string {
	if raw == nil || raw.URL == nil {
		return "HTTP " + method
	}
	return fmt.Sprintf("HTTP %s %s", method, raw.URL.Path)
}

func headerAttributes(prefix string, headers http.Header) []attribute.KeyValue {
	var out []attribute.KeyValue
	for name, values := range headers {
		if redactedHeaders[http.CanonicalHeaderKey(name)] {
			out = append(out, attribute.Int(fmt.Sprintf("%s.header.%s.count", prefix, name), len(values)))
			continue
		}
		key := attribute.Key(fmt.Sprintf("%s.header.%s", prefix, name))
		if len(values) == 1 {
			out = append(out, key.String(values[0]))
			continue
		}
		out = append(out, key.StringSlice(values))
	}
	return out
}

// textual reports whether a body of this content type is worth keeping,
// multipart uploads and zips are not.
func textual(contentType string) bool {
	if contentType == "" {
		return true
	}
	for _, prefix := range []string{"text/", "application/xml", "application/json", "application/x-www-form-urlencoded"} {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

func (t restyTracer) bodyAttribute(key string, contentType string, body []byte) attribute.KeyValue {
	if !textual(contentType) {
		return attribute.String(key, fmt.Sprintf("<%d bytes of %s>", len(body), contentType))
	}
	if len(body) > t.maxBody {
		return attribute.String(key, string(body[:t.maxBody])+"...")
	}
	return attribute.String(key, string(body))
}

func (t restyTracer) requestBody(span trace.Span, req *http.Request) {
	if t.maxBody < 0 || req == nil || req.GetBody == nil {
		return
	}
	reader, err := req.GetBody()
	if err != nil || reader == nil {
		return
	}
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		span.SetAttributes(attribute.String("request.body.error", err.Error()))
		return
	}
	span.SetAttributes(t.bodyAttribute("request.body", req.Header.Get("Content-Type"), body))
}

func (t restyTracer) finish(_ *resty.Client, res *resty.Response) error {
	span, ok := requestSpan(res.Request.Context())
	if !ok {
		return nil
	}
	defer span.End()

	// RawRequest only exists once the request was sent
	raw := res.Request.RawRequest
	span.SetName(spanName(res.Request.Method, raw))
	if raw != nil {
		span.SetAttributes(httpconv.ClientRequest(raw)...)
	}
	if res.RawResponse != nil {
		span.SetAttributes(httpconv.ClientResponse(res.RawResponse)...)
	}
	span.SetAttributes(headerAttributes("request", res.Request.Header)...)
	span.SetAttributes(headerAttributes("response", res.Header())...)

	t.requestBody(span, raw)
	if t.maxBody >= 0 {
		span.SetAttributes(t.bodyAttribute("response.body", res.Header().Get("Content-Type"), res.Body()))
	}
	if res.StatusCode() >= 500 {
		span.SetStatus(codes.Error, res.Status())
	}
	return nil
}

func (t restyTracer) fail(req *resty.Request, err error) {
	span, ok := requestSpan(req.Context())
	if !ok {
		return
	}
	defer span.End()

	span.SetName(spanName(req.Method, req.RawRequest))
	span.SetAttributes(headerAttributes("request", req.Header)...)
	if req.RawRequest != nil {
		span.SetAttributes(httpconv.ClientRequest(req.RawRequest)...)
		t.requestBody(span, req.RawRequest)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
