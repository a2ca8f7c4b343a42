package wizard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"tmfiling-backend/internal/components/assert"
	"tmfiling-backend/internal/components/telemetry"
	libtelemetry "tmfiling-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	report_transport_request = "transport.request"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

type TransportOptions struct {
	BaseUrl string
	// Timeout bounds every single request, 60 seconds when zero.
	Timeout time.Duration
	// RequestsPerSecond limits the request rate, 4 when zero.
	RequestsPerSecond float64
	UserAgent         string
	// BrowserFingerprint wraps the http transport so the TLS handshake and
	// default headers look like a desktop browser.
	BrowserFingerprint bool
	// Output receives a rendering of every HTTP exchange, may be nil.
	Output telemetry.Output
	// TracerProvider receives the request spans, the global provider when
	// nil.
	TracerProvider trace.TracerProvider
}

// Transport is the HTTP client of one registration attempt. It owns its
// cookie jar, so it must never be shared between attempts.
type Transport struct {
	baseUrl *url.URL
	http    *resty.Client
	tel     telemetry.API
}

// Reply is a response that made it back from the server.
type Reply struct {
	Status   int
	Location string
	Header   http.Header
	Body     string
}

// IsRedirect reports whether the reply is a 3xx response.
func (r Reply) IsRedirect() bool {
	return r.Status >= 300 && r.Status < 400
}

// TransportError is a request that did not produce a usable response, either
// because it never completed or because the server answered with a failure
// status.
type TransportError struct {
	Method string
	Url    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s", e.Method, e.Url, e.Err.Error())
	}
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Url, e.Status)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

var errUnexpectedRedirect = errors.New("unexpected redirect")

func NewTransport(opts TransportOptions, tel telemetry.API) (*Transport, error) {
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.BaseUrl)

	tel = telemetry.NewScopedAPI("transport", tel)

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Minute
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 4
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	assert.Positive(opts.RequestsPerSecond)

	httpClient := resty.New()
	httpClient.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	if opts.BrowserFingerprint {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}

	httpClient.SetHeader("user-agent", opts.UserAgent)
	httpClient.SetHeader("accept-language", "de-DE,de;q=0.9,en;q=0.8")
	httpClient.SetHeader("accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	// redirects carry the window id and the transaction reference, they are
	// handed back to the caller instead of being followed
	httpClient.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}))
	httpClient.SetTimeout(opts.Timeout)

	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, "wizard", tel, opts.Output)
	// form bodies carry the applicant's personal data and the session
	// tokens, spans only get the request line and headers
	libtelemetry.TraceResty(httpClient, libtelemetry.TraceOptions{
		Tracer:   "tmfiling/wizard/http",
		MaxBody:  -1,
		Provider: opts.TracerProvider,
	})

	return &Transport{
		baseUrl: baseUrl,
		http:    httpClient,
		tel:     tel,
	}, nil
}

// BaseUrl returns the url every path is resolved against.
func (t *Transport) BaseUrl() *url.URL {
	return t.baseUrl
}

func (t *Transport) request(ctx context.Context, query url.Values) *resty.Request {
	req := t.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	return req
}

func (t *Transport) ajax(req *resty.Request) *resty.Request {
	return req.
		SetHeader("Faces-Request", "partial/ajax").
		SetHeader("X-Requested-With", "XMLHttpRequest").
		SetHeader("accept", "application/xml, text/xml, */*; q=0.01")
}

func (t *Transport) reply(method, path string, res *resty.Response, err error) (Reply, error) {
	if err != nil {
		t.tel.ReportBroken(report_transport_request, err, method, path)
		return Reply{}, &TransportError{Method: method, Url: path, Err: err}
	}
	reply := Reply{
		Status:   res.StatusCode(),
		Location: res.Header().Get("Location"),
		Header:   res.Header(),
		Body:     string(res.Body()),
	}
	if reply.Status >= 400 {
		t.tel.ReportBroken(report_transport_request, fmt.Errorf("status %d", reply.Status), method, path)
		return reply, &TransportError{Method: method, Url: path, Status: reply.Status}
	}
	return reply, nil
}

// Get fetches path, redirects are returned as they are.
func (t *Transport) Get(ctx context.Context, path string, query url.Values) (Reply, error) {
	res, err := t.request(ctx, query).Get(path)
	return t.reply(http.MethodGet, path, res, err)
}

// PostForm submits a form-urlencoded partial update request.
func (t *Transport) PostForm(ctx context.Context, path string, query url.Values, form url.Values) (Reply, error) {
	res, err := t.ajax(t.request(ctx, query)).
		SetFormDataFromValues(form).
		Post(path)
	return t.reply(http.MethodPost, path, res, err)
}

// FilePart is the binary part of a multipart request.
type FilePart struct {
	Field       string
	FileName    string
	ContentType string
	Data        []byte
}

// PostMultipart submits fields and file as multipart/form-data.
func (t *Transport) PostMultipart(ctx context.Context, path string, query url.Values, fields url.Values, file FilePart) (Reply, error) {
	formData := make(map[string]string, len(fields))
	for key := range fields {
		formData[key] = fields.Get(key)
	}
	res, err := t.ajax(t.request(ctx, query)).
		SetMultipartFormData(formData).
		SetMultipartField(file.Field, file.FileName, file.ContentType, bytes.NewReader(file.Data)).
		Post(path)
	return t.reply(http.MethodPost, path, res, err)
}

// ResolveLocation resolves a redirect target against the base url.
func (t *Transport) ResolveLocation(location string) (*url.URL, error) {
	parsed, err := url.Parse(location)
	if err != nil {
		return nil, err
	}
	return t.baseUrl.ResolveReference(parsed), nil
}
