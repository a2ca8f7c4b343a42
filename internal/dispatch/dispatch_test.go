package dispatch

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tmfiling-backend/internal/components/chrono"
	"tmfiling-backend/internal/components/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fakeOffice struct {
	completion string
	archive    []byte
	landings   int
	completes  int
	archiveErr bool
}

func (f *fakeOffice) serve(t *testing.T) *httptest.Server {
	t.Helper()

	endpoints := DefaultEndpoints()
	mux := http.NewServeMux()
	mux.HandleFunc(endpoints.Landing, func(w http.ResponseWriter, r *http.Request) {
		f.landings++
		require.Equal(t, endpoints.FlowID, r.URL.Query().Get(param_flow_id))
		http.SetCookie(w, &http.Cookie{Name: "VERSAND", Value: "ctx-1", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(endpoints.Complete, func(w http.ResponseWriter, r *http.Request) {
		f.completes++
		cookie, err := r.Cookie("VERSAND")
		if err != nil || cookie.Value != "ctx-1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("content-type", "application/json")
		_, _ = w.Write([]byte(f.completion))
	})
	mux.HandleFunc(endpoints.Documents, func(w http.ResponseWriter, r *http.Request) {
		if f.archiveErr {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("content-type", "application/zip")
		_, _ = w.Write(f.archive)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

var pinned = time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, office *fakeOffice, tel telemetry.API) *Client {
	server := office.serve(t)
	client, err := NewClient(Options{
		BaseUrl: server.URL,
		Timeout: 5 * time.Second,
		Output:  telemetry.NopOutput{},
		Time:    chrono.FixedImpl{At: pinned},
	}, tel)
	require.NoError(t, err)
	return client
}

func buildZip(t *testing.T, files map[string]string, order ...string) []byte {
	t.Helper()
	buf := bytes.Buffer{}
	writer := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := writer.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return buf.Bytes()
}

func TestFinalizeSuccess(t *testing.T) {
	office := &fakeOffice{completion: `{
		"status": "VERSAND_SUCCESS",
		"akz": "30 2024 012 345.6",
		"drn": "DRN-77",
		"transactionType": "W7005",
		"creationTime": "2024-09-01T14:02:03"
	}`}
	tel := telemetry.NewRecorderAPI()
	client := newTestClient(t, office, tel)

	receipt, err := client.Finalize(context.Background(), "TX-1")
	require.NoError(t, err)

	expected := Receipt{
		FileNumber:      "30 2024 012 345.6",
		DocumentRef:     "DRN-77",
		TransactionID:   "TX-1",
		TransactionType: "W7005",
		CreationTime:    time.Date(2024, 9, 1, 14, 2, 3, 0, time.UTC),
	}
	if diff := cmp.Diff(expected, receipt); diff != "" {
		t.Fatalf("receipt mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 1, office.landings)
	require.Equal(t, 1, office.completes)
	require.False(t, tel.Has("warning", report_client_finalize))
}

func TestFinalizeStatusGate(t *testing.T) {
	cases := []struct {
		name       string
		completion string
		status     string
		message    string
	}{
		{
			name:       "validation failure",
			completion: `{"status":"VALIDATION_ERROR","validationResult":{"userMessage":"Gebühr fehlt"}}`,
			status:     "VALIDATION_ERROR",
			message:    "Gebühr fehlt",
		},
		{
			name: "joined messages",
			completion: `{"status":"VERSAND_FAILED","validationResult":{"messages":[` +
				`{"text":"Anmelder unvollständig","severity":"ERROR"},{"text":"Klasse fehlt","severity":"ERROR"}]}}`,
			status:  "VERSAND_FAILED",
			message: "Anmelder unvollständig; Klasse fehlt",
		},
		{
			name:       "no status",
			completion: `{"akz":"30 2024 000 001.1"}`,
		},
		{
			name:       "lower case success",
			completion: `{"status":"versand_success","akz":"30 2024 000 001.1"}`,
			status:     "versand_success",
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			office := &fakeOffice{completion: test.completion}
			tel := telemetry.NewRecorderAPI()
			client := newTestClient(t, office, tel)

			_, err := client.Finalize(context.Background(), "TX-2")
			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr), "expected status error, got %v", err)
			require.Equal(t, test.status, statusErr.Status)
			require.Equal(t, test.message, statusErr.Message)
			require.True(t, tel.Has("broken", report_client_finalize))
		})
	}
}

func TestFinalizeMalformed(t *testing.T) {
	office := &fakeOffice{completion: `<html>maintenance</html>`}
	client := newTestClient(t, office, telemetry.NewRecorderAPI())

	_, err := client.Finalize(context.Background(), "TX-3")
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestFinalizeWithoutFileNumber(t *testing.T) {
	office := &fakeOffice{completion: `{"status":"VERSAND_SUCCESS","transactionId":"TX-OTHER","creationTime":1725192000000}`}
	tel := telemetry.NewRecorderAPI()
	client := newTestClient(t, office, tel)

	receipt, err := client.Finalize(context.Background(), "TX-4")
	require.NoError(t, err)
	require.Empty(t, receipt.FileNumber)
	require.Equal(t, "TX-OTHER", receipt.TransactionID)
	require.True(t, receipt.CreationTime.Equal(time.UnixMilli(1725192000000)))
	require.True(t, tel.Has("warning", report_client_finalize))
}

func TestParseCreationTime(t *testing.T) {
	cases := []struct {
		raw      string
		expected time.Time
		ok       bool
	}{
		{raw: `1725192000000`, expected: time.UnixMilli(1725192000000), ok: true},
		{raw: `"2024-09-01T14:02:03+02:00"`, expected: time.Date(2024, 9, 1, 12, 2, 3, 0, time.UTC), ok: true},
		{raw: `"2024-09-01T14:02:03.250"`, expected: time.Date(2024, 9, 1, 14, 2, 3, 250_000_000, time.UTC), ok: true},
		{raw: `"01.09.2024 14:02"`, expected: time.Date(2024, 9, 1, 14, 2, 0, 0, time.UTC), ok: true},
		{raw: `"yesterday"`},
		{raw: `null`},
		{raw: ``},
	}

	for _, test := range cases {
		parsed, ok := parseCreationTime(json.RawMessage(test.raw), time.UTC)
		require.Equal(t, test.ok, ok, test.raw)
		if test.ok {
			require.True(t, test.expected.Equal(parsed), "%s: got %s", test.raw, parsed)
		}
	}
}

func TestFinalizeUnparsableCreationTime(t *testing.T) {
	office := &fakeOffice{completion: `{"status":"VERSAND_SUCCESS","akz":"30 2024 1","creationTime":"soon"}`}
	tel := telemetry.NewRecorderAPI()
	client := newTestClient(t, office, tel)

	receipt, err := client.Finalize(context.Background(), "TX-5")
	require.NoError(t, err)
	require.Equal(t, pinned, receipt.CreationTime)
	require.True(t, tel.Has("warning", report_client_finalize))
}

func TestCollect(t *testing.T) {
	files := map[string]string{
		"docs/":                  "",
		"docs/Empfangsbeleg.pdf": "%PDF-1.4 receipt",
		"docs/antrag.xml":        "<antrag/>",
		"marke.jpg":              "jpeg",
		"README":                 "plain",
	}
	office := &fakeOffice{
		archive: buildZip(t, files, "docs/", "docs/Empfangsbeleg.pdf", "docs/antrag.xml", "marke.jpg", "README"),
	}
	client := newTestClient(t, office, telemetry.NewRecorderAPI())

	artifacts, err := client.Collect(context.Background(), "TX-6")
	require.NoError(t, err)
	require.Equal(t, office.archive, artifacts.Archive)

	expected := []Document{
		{Name: "Empfangsbeleg.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4 receipt")},
		{Name: "antrag.xml", ContentType: "application/xml", Data: []byte("<antrag/>")},
		{Name: "marke.jpg", ContentType: "image/jpeg", Data: []byte("jpeg")},
		{Name: "README", ContentType: "application/octet-stream", Data: []byte("plain")},
	}
	if diff := cmp.Diff(expected, artifacts.Documents); diff != "" {
		t.Fatalf("documents mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectCorruptArchive(t *testing.T) {
	office := &fakeOffice{archive: []byte("PK\x03\x04 not really a zip")}
	tel := telemetry.NewRecorderAPI()
	client := newTestClient(t, office, tel)

	artifacts, err := client.Collect(context.Background(), "TX-7")
	require.NoError(t, err)
	require.Empty(t, artifacts.Documents)
	require.Equal(t, office.archive, artifacts.Archive)
	require.True(t, tel.Has("warning", report_client_download))
}

func TestCollectDownloadFailure(t *testing.T) {
	office := &fakeOffice{archiveErr: true}
	client := newTestClient(t, office, telemetry.NewRecorderAPI())

	_, err := client.Collect(context.Background(), "TX-8")
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	require.Equal(t, http.StatusInternalServerError, reqErr.Status)
}

func TestUnpackEmpty(t *testing.T) {
	_, err := Unpack(nil)
	require.ErrorIs(t, err, ErrArchiveUnreadable)
}
