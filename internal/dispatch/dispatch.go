// Package dispatch turns the transaction reference of a completed wizard
// run into a committed filing: it triggers the dispatch, checks its status
// and fetches the document archive.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"time"

	"tmfiling-backend/internal/components/assert"
	"tmfiling-backend/internal/components/chrono"
	"tmfiling-backend/internal/components/telemetry"
	libtelemetry "tmfiling-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_client_finalize = "client.finalize"
	report_client_download = "client.download"
)

var tracer = otel.Tracer("tmfiling/dispatch")

// STATUS_SUCCESS is the only dispatch status that commits a filing.
const STATUS_SUCCESS = "VERSAND_SUCCESS"

const (
	param_flow_id     = "flowId"
	param_transaction = "transactionId"
)

type Endpoints struct {
	// Landing opens the dispatch context for a transaction.
	Landing string
	// Complete triggers the dispatch and answers with its status.
	Complete string
	// Documents serves the zip archive of the filed documents.
	Documents string
	FlowID    string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Landing:   "/DpmaDirektWebEditoren/versand",
		Complete:  "/DpmaDirektWebEditoren/versand/senden",
		Documents: "/DpmaDirektWebEditoren/versand/dokumente",
		FlowID:    "w7005",
	}
}

type Options struct {
	BaseUrl   string
	Endpoints Endpoints
	// Timeout bounds every request, 2 minutes when zero. The archive can
	// take a while to be assembled.
	Timeout            time.Duration
	UserAgent          string
	BrowserFingerprint bool
	Output             telemetry.Output
	Time               chrono.API
}

// Receipt holds the identifiers the office assigned to a dispatched filing.
type Receipt struct {
	// FileNumber is the official file number (Aktenzeichen).
	FileNumber string
	// DocumentRef is the document reference number (DRN).
	DocumentRef     string
	TransactionID   string
	TransactionType string
	CreationTime    time.Time
}

// StatusError is a dispatch that was answered with anything but
// STATUS_SUCCESS.
type StatusError struct {
	Status  string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("dispatch status %q", e.Status)
	}
	return fmt.Sprintf("dispatch status %q: %s", e.Status, e.Message)
}

// RequestError is a dispatch request that failed on the HTTP level.
type RequestError struct {
	Method string
	Url    string
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s", e.Method, e.Url, e.Err.Error())
	}
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Url, e.Status)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

var ErrMalformedResponse = errors.New("malformed dispatch response")

// Client talks to the dispatch resources. It keeps its own cookies, the
// dispatch context is independent of the wizard session.
type Client struct {
	http      *resty.Client
	endpoints Endpoints
	time      chrono.API
	tel       telemetry.API
}

func NewClient(opts Options, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.BaseUrl)

	tel = telemetry.NewScopedAPI("dispatch", tel)

	if opts.Endpoints == (Endpoints{}) {
		opts.Endpoints = DefaultEndpoints()
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Time == nil {
		// without tzdata the zero value falls back to the local zone
		std, _ := chrono.NewStandardImpl()
		opts.Time = std
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(opts.BaseUrl)
	httpClient.SetCookieJar(jar)
	httpClient.SetTimeout(opts.Timeout)
	httpClient.SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
	if opts.UserAgent != "" {
		httpClient.SetHeader("user-agent", opts.UserAgent)
	}
	if opts.BrowserFingerprint {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}
	telemetry.InstrumentResty(httpClient, "dispatch", tel, opts.Output)
	libtelemetry.TraceResty(httpClient, libtelemetry.TraceOptions{Tracer: "tmfiling/dispatch/http", MaxBody: -1})

	return &Client{
		http:      httpClient,
		endpoints: opts.Endpoints,
		time:      opts.Time,
		tel:       tel,
	}, nil
}

func (c *Client) query(ref string) map[string]string {
	return map[string]string{
		param_flow_id:     c.endpoints.FlowID,
		param_transaction: ref,
	}
}

func checkResponse(method, path string, res *resty.Response, err error) error {
	if err != nil {
		return &RequestError{Method: method, Url: path, Err: err}
	}
	if res.StatusCode() >= 400 {
		return &RequestError{Method: method, Url: path, Status: res.StatusCode()}
	}
	return nil
}

type validationMessage struct {
	Text     string `json:"text"`
	Severity string `json:"severity"`
}

type completionResponse struct {
	Status           string `json:"status"`
	ValidationResult *struct {
		UserMessage string              `json:"userMessage"`
		Messages    []validationMessage `json:"messages"`
	} `json:"validationResult"`
	Drn             string          `json:"drn"`
	Akz             string          `json:"akz"`
	TransactionId   string          `json:"transactionId"`
	TransactionType string          `json:"transactionType"`
	CreationTime    json.RawMessage `json:"creationTime"`
}

func (r completionResponse) userMessage() string {
	if r.ValidationResult == nil {
		return ""
	}
	if r.ValidationResult.UserMessage != "" {
		return r.ValidationResult.UserMessage
	}
	var texts []string
	for _, m := range r.ValidationResult.Messages {
		if m.Text != "" {
			texts = append(texts, m.Text)
		}
	}
	return strings.Join(texts, "; ")
}

var creationTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
}

// parseCreationTime accepts epoch milliseconds or one of the textual
// layouts the dispatch service has been seen to use. Layouts without a zone
// are read in the office's time zone.
func parseCreationTime(raw json.RawMessage, loc *time.Location) (time.Time, bool) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(text, 10, 64)
	if err == nil {
		return time.UnixMilli(millis).In(loc), true
	}

	var value string
	err = json.Unmarshal(raw, &value)
	if err != nil {
		return time.Time{}, false
	}
	for _, layout := range creationTimeLayouts {
		parsed, err := time.ParseInLocation(layout, value, loc)
		if err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// Finalize dispatches the filing behind ref. Only a STATUS_SUCCESS answer
// yields a receipt, every other status is a *StatusError.
func (c *Client) Finalize(ctx context.Context, ref string) (Receipt, error) {
	assert.NotEmptyStr(ref)

	ctx, span := tracer.Start(ctx, "dispatch.Finalize")
	defer span.End()
	span.SetAttributes(attribute.String("dispatch.transaction", ref))

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(c.query(ref)).
		Get(c.endpoints.Landing)
	err = checkResponse(http.MethodGet, c.endpoints.Landing, res, err)
	if err != nil {
		c.tel.ReportBroken(report_client_finalize, err, ref)
		span.RecordError(err)
		span.SetStatus(codes.Error, "landing failed")
		return Receipt{}, fmt.Errorf("landing: %w", err)
	}

	res, err = c.http.R().
		SetContext(ctx).
		SetQueryParams(c.query(ref)).
		SetHeader("accept", "application/json").
		SetHeader("content-type", "application/json").
		Post(c.endpoints.Complete)
	err = checkResponse(http.MethodPost, c.endpoints.Complete, res, err)
	if err != nil {
		c.tel.ReportBroken(report_client_finalize, err, ref)
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return Receipt{}, fmt.Errorf("complete: %w", err)
	}

	var completion completionResponse
	err = json.Unmarshal(res.Body(), &completion)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		c.tel.ReportBroken(report_client_finalize, err, ref)
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed completion")
		return Receipt{}, err
	}

	if completion.Status != STATUS_SUCCESS {
		statusErr := &StatusError{
			Status:  completion.Status,
			Message: completion.userMessage(),
		}
		c.tel.ReportBroken(report_client_finalize, statusErr, ref)
		span.RecordError(statusErr)
		span.SetStatus(codes.Error, "dispatch rejected")
		return Receipt{}, statusErr
	}

	receipt := Receipt{
		FileNumber:      completion.Akz,
		DocumentRef:     completion.Drn,
		TransactionID:   completion.TransactionId,
		TransactionType: completion.TransactionType,
	}
	if receipt.TransactionID == "" {
		receipt.TransactionID = ref
	}
	creation, ok := parseCreationTime(completion.CreationTime, c.time.Location())
	if !ok {
		creation = c.time.Now()
		if len(completion.CreationTime) > 0 {
			c.tel.ReportWarning(report_client_finalize, "unparsable creation time", string(completion.CreationTime))
		}
	}
	receipt.CreationTime = creation
	if receipt.FileNumber == "" {
		c.tel.ReportWarning(report_client_finalize, "successful dispatch without file number", ref)
	}

	return receipt, nil
}

// DownloadArtifacts fetches the raw document archive of a dispatched filing.
func (c *Client) DownloadArtifacts(ctx context.Context, ref string) ([]byte, error) {
	assert.NotEmptyStr(ref)

	ctx, span := tracer.Start(ctx, "dispatch.DownloadArtifacts")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(c.query(ref)).
		SetHeader("accept", "application/zip, application/octet-stream").
		Get(c.endpoints.Documents)
	err = checkResponse(http.MethodGet, c.endpoints.Documents, res, err)
	if err != nil {
		c.tel.ReportBroken(report_client_download, err, ref)
		span.RecordError(err)
		span.SetStatus(codes.Error, "download failed")
		return nil, err
	}

	archive := res.Body()
	span.SetAttributes(attribute.Int("dispatch.archive_size", len(archive)))
	return archive, nil
}

// Artifacts is the document archive of a filing and its unpacked entries.
type Artifacts struct {
	Archive   []byte
	Documents []Document
}

// Collect downloads and unpacks the archive. An archive that cannot be
// unpacked still comes back as raw bytes, with no documents.
func (c *Client) Collect(ctx context.Context, ref string) (Artifacts, error) {
	archive, err := c.DownloadArtifacts(ctx, ref)
	if err != nil {
		return Artifacts{}, err
	}
	documents, err := Unpack(archive)
	if err != nil {
		c.tel.ReportWarning(report_client_download, err, ref, len(archive))
		return Artifacts{Archive: archive}, nil
	}
	c.tel.ReportCount(report_client_download, int64(len(documents)))
	return Artifacts{Archive: archive, Documents: documents}, nil
}
