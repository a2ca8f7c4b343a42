package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOtlpConnConfig(t *testing.T) {
	require.False(t, OtlpConnConfig{}.enabled())

	c := OtlpConnConfig{HttpEndpoint: "http://collector:4318"}
	require.True(t, c.enabled())
	require.Equal(t, "http", c.protocol())
	require.Equal(t, "http://collector:4318", c.endpoint())

	c.GrpcEndpoint = "http://collector:4317"
	require.Equal(t, "grpc", c.protocol())
	require.Equal(t, "http://collector:4317", c.endpoint())
}

func TestSampler(t *testing.T) {
	require.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	require.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestSetupWithoutEndpoints(t *testing.T) {
	tel, err := Setup(context.Background(), "test", Config{})
	require.NoError(t, err)
	require.Nil(t, tel.TracerProvider)
	require.Nil(t, tel.MeterProvider)
	require.NoError(t, tel.Shutdown(context.Background()))
}

func recordSpans(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() {
		provider.Shutdown(context.Background())
	})
	return recorder, provider
}

func attributes(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTraceResty(t *testing.T) {
	recorder, provider := recordSpans(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "secret"})
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>" + strings.Repeat("x", 64) + "</html>"))
	}))
	defer server.Close()

	client := resty.New()
	TraceResty(client, TraceOptions{Tracer: "test", MaxBody: 16, Provider: provider})

	_, err := client.R().
		SetHeader("Cookie", "JSESSIONID=secret").
		SetFormData(map[string]string{"a": "1"}).
		Post(server.URL + "/anmeldung")
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	require.Equal(t, "HTTP POST /anmeldung", span.Name())

	attrs := attributes(span)
	require.Equal(t, "a=1", attrs["request.body"].AsString())
	require.Equal(t, "<html>xxxxxxxxxx...", attrs["response.body"].AsString())
	require.Equal(t, int64(1), attrs["request.header.Cookie.count"].AsInt64())
	require.Equal(t, int64(1), attrs["response.header.Set-Cookie.count"].AsInt64())
	_, leaked := attrs["request.header.Cookie"]
	require.False(t, leaked)
}

func TestTraceRestyError(t *testing.T) {
	recorder, provider := recordSpans(t)

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := resty.New()
	TraceResty(client, TraceOptions{Tracer: "test", Provider: provider})

	_, err := client.R().Get(url + "/gone")
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestTraceRestyWithoutBodies(t *testing.T) {
	recorder, provider := recordSpans(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte("<partial-response/>"))
	}))
	defer server.Close()

	client := resty.New()
	TraceResty(client, TraceOptions{Tracer: "test", MaxBody: -1, Provider: provider})

	_, err := client.R().SetFormData(map[string]string{"iban": "DE89370400440532013000"}).Post(server.URL)
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	attrs := attributes(spans[0])
	require.NotContains(t, attrs, attribute.Key("request.body"))
	require.NotContains(t, attrs, attribute.Key("response.body"))
}

func TestTraceRestyEarlierHookFails(t *testing.T) {
	recorder, provider := recordSpans(t)

	client := resty.New()
	client.OnBeforeRequest(func(*resty.Client, *resty.Request) error {
		return context.Canceled
	})
	TraceResty(client, TraceOptions{Tracer: "test", Provider: provider})

	ctx, parent := provider.Tracer("caller").Start(context.Background(), "wizard.roundTrip")
	_, err := client.R().SetContext(ctx).Get("http://127.0.0.1:1/never")
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, recorder.Ended())

	parent.End()
	require.Len(t, recorder.Ended(), 1)
	require.Equal(t, "wizard.roundTrip", recorder.Ended()[0].Name())
}

func TestTextual(t *testing.T) {
	require.True(t, textual("text/html; charset=UTF-8"))
	require.True(t, textual("application/xml"))
	require.True(t, textual(""))
	require.False(t, textual("multipart/form-data; boundary=x"))
	require.False(t, textual("application/zip"))
}
