package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	report_resty_request  = "resty.request"
	report_resty_response = "resty.response"
)

type restyHooks struct {
	name   string
	tel    API
	output Output
	ids    *atomic.Uint64
}

// InstrumentResty reports every request made by client to tel. When output
// is not nil each exchange is also written to it as
// `<name>-<seq>-<method>-<last path segment>`.
func InstrumentResty(client *resty.Client, name string, tel API, output Output) {
	h := restyHooks{name: name, tel: tel, output: output, ids: &atomic.Uint64{}}

	client.OnBeforeRequest(h.before)
	client.OnAfterResponse(h.after)
	client.OnError(h.failed)
}

type exchangeKeyType struct{}

var exchangeKey exchangeKeyType

type exchange struct {
	seq uint64
	// monotonic, only used for the duration
	started time.Time
}

func (h restyHooks) before(_ *resty.Client, req *resty.Request) error {
	ex := exchange{seq: h.ids.Add(1), started: time.Now()}
	h.tel.ReportDebug(report_resty_request, h.name, ex.seq, req.Method, req.URL)
	req.SetContext(context.WithValue(req.Context(), exchangeKey, ex))
	return nil
}

func (h restyHooks) outputID(ex exchange, method, rawURL string, suffix string) string {
	var segment string
	if u, err := url.Parse(rawURL); err == nil {
		segment = strings.Trim(path.Base(u.Path), "/.")
	}
	if segment == "" {
		segment = "root"
	}
	id := fmt.Sprintf("%s-%04d-%s-%s", h.name, ex.seq, strings.ToLower(method), segment)
	if suffix != "" {
		id += "-" + suffix
	}
	return id
}

func (h restyHooks) after(_ *resty.Client, res *resty.Response) error {
	ex, ok := res.Request.Context().Value(exchangeKey).(exchange)
	if !ok {
		return nil
	}
	h.tel.ReportDebug(
		report_resty_response,
		h.name,
		ex.seq,
		time.Since(ex.started).String(),
		res.Status(),
	)
	if h.output != nil {
		var b strings.Builder
		writeRequest(&b, res.Request)
		writeResponse(&b, res)
		h.output.Write(h.outputID(ex, res.Request.Method, res.Request.URL, ""), b.String())
	}
	return nil
}

func (h restyHooks) failed(req *resty.Request, err error) {
	ex, ok := req.Context().Value(exchangeKey).(exchange)
	if !ok {
		// failed before the request hook ran
		h.tel.ReportBroken(report_resty_response, h.name, err, req.Method, req.URL)
		return
	}
	h.tel.ReportBroken(report_resty_response, h.name, err, req.Method, req.URL, time.Since(ex.started))
	if h.output != nil {
		var b strings.Builder
		writeRequest(&b, req)
		fmt.Fprintf(&b, "\n==> error\n\n%s\n", err)
		h.output.Write(h.outputID(ex, req.Method, req.URL, "error"), b.String())
	}
}

func writeHeaders(b *strings.Builder, headers http.Header) {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range headers[name] {
			fmt.Fprintf(b, "%s: %s\n", name, v)
		}
	}
}

func writeBody(b *strings.Builder, contentType string, body []byte) {
	switch {
	case len(body) == 0:
		b.WriteString("(empty body)\n")
	case strings.HasPrefix(contentType, "multipart/") || strings.HasPrefix(contentType, "application/zip") ||
		strings.HasPrefix(contentType, "application/octet-stream"):
		fmt.Fprintf(b, "(%d bytes of %s)\n", len(body), contentType)
	default:
		b.Write(body)
		b.WriteString("\n")
	}
}

func requestBody(raw *http.Request) []byte {
	if raw == nil || raw.GetBody == nil {
		return nil
	}
	reader, err := raw.GetBody()
	if err != nil || reader == nil {
		return nil
	}
	defer reader.Close()
	body, _ := io.ReadAll(reader)
	return body
}

func writeRequest(b *strings.Builder, req *resty.Request) {
	fmt.Fprintf(b, "==> %s %s\n\n", req.Method, req.URL)
	headers := req.Header
	if req.RawRequest != nil {
		headers = req.RawRequest.Header
	}
	writeHeaders(b, headers)
	b.WriteString("\n")
	writeBody(b, headers.Get("Content-Type"), requestBody(req.RawRequest))
}

func writeResponse(b *strings.Builder, res *resty.Response) {
	fmt.Fprintf(b, "\n<== %s\n", res.Status())
	if res.RawResponse != nil {
		location, err := res.RawResponse.Location()
		if err == nil {
			fmt.Fprintf(b, "location: %s\n", location)
		}
	}
	b.WriteString("\n")
	writeHeaders(b, res.Header())
	b.WriteString("\n")
	writeBody(b, res.Header().Get("Content-Type"), res.Body())
}
