// Package wizardtest simulates the remote filing wizard for tests. The
// server checks that every request carries the latest tokens and answers
// with canned partial responses.
package wizardtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"tmfiling-backend/internal/wizard"
)

type FinalMode int

const (
	// FINAL_REDIRECT answers the final step with a redirect carrying the
	// transaction reference.
	FINAL_REDIRECT FinalMode = iota
	// FINAL_INLINE embeds the reference in the response body.
	FINAL_INLINE
	// FINAL_NONE answers without any reference.
	FINAL_NONE
)

type FailMode int

const (
	// FAIL_MESSAGES renders FailMessage as a validation error.
	FAIL_MESSAGES FailMode = iota
	// FAIL_PARTIAL_REDIRECT sends the ajax redirect to the expired view page.
	FAIL_PARTIAL_REDIRECT
	// FAIL_HTTP_REDIRECT answers with a 302 to the expired view page.
	FAIL_HTTP_REDIRECT
)

const expiredPage = "/DpmaDirektWebEditoren/sessionExpired.xhtml"

const (
	SessionBase = "6f1e2d3c-4b5a-4978-8695-a4b3c2d1e0f9"
	cookieName  = "JSESSIONID"
	cookieValue = "fake-session"
)

type Options struct {
	// FailStep makes the submission of the named step fail with
	// FailMessage.
	FailStep    string
	FailMessage string
	FailMode    FailMode
	// HeaderIDs maps a class to the generated segment of its heading
	// checkbox. Classes without an entry render no heading checkbox.
	HeaderIDs map[int]string
	// SearchResults maps a search query to the titles it returns.
	SearchResults map[string][]string
	// OmitNonce lists the round trips whose response carries no nonce.
	OmitNonce map[int]bool
	FinalMode FinalMode
	// TransactionID defaults to "TX-20240901-0001".
	TransactionID string
	UploadFailure bool

	BootstrapWithoutViewState    bool
	BootstrapWithoutClientWindow bool
}

// File is the file part of an upload.
type File struct {
	Name        string
	ContentType string
	Size        int
}

// Request is one POST the server received.
type Request struct {
	Round  int
	Path   string
	Query  url.Values
	Form   url.Values
	Step   string
	Source string
	Event  string
	Sent   wizard.Tokens
	// Issued are the tokens the response carried, an empty nonce means the
	// response did not define one.
	Issued wizard.Tokens
	File   *File
}

type Server struct {
	*httptest.Server
	Endpoints wizard.Endpoints

	opts Options
	mux  *http.ServeMux

	mutex    sync.Mutex
	round    int
	counter  int
	current  wizard.Tokens
	requests []Request
	selected []string
}

func New(t testing.TB, opts Options) *Server {
	if opts.TransactionID == "" {
		opts.TransactionID = "TX-20240901-0001"
	}

	s := &Server{
		Endpoints: wizard.DefaultEndpoints(),
		opts:      opts,
		mux:       http.NewServeMux(),
		current: wizard.Tokens{
			ViewState: "vs-0",
			WindowID:  SessionBase + ":0",
			Nonce:     "nonce-0",
		},
	}
	s.mux.HandleFunc(s.Endpoints.Landing, s.landing)
	s.mux.HandleFunc(s.Endpoints.Start, s.start)
	s.mux.HandleFunc(s.Endpoints.Wizard, s.wizard)
	s.mux.HandleFunc(s.Endpoints.Upload, s.upload)

	s.Server = httptest.NewServer(s.mux)
	t.Cleanup(s.Close)
	return s
}

// Handle mounts an additional handler next to the wizard resources.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Requests returns every POST received so far.
func (s *Server) Requests() []Request {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Selected returns the ids whose selection change was announced.
func (s *Server) Selected() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]string, len(s.selected))
	copy(out, s.selected)
	return out
}

// StepSubmission returns the submission of the named step.
func (s *Server) StepSubmission(step string) (Request, bool) {
	for _, r := range s.Requests() {
		if r.Step == step && r.Source == "editor:btnNext" {
			return r, true
		}
	}
	return Request{}, false
}

func (s *Server) landing(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: cookieName, Value: cookieValue, Path: "/"})
	fmt.Fprint(w, `<html><body><a href="start">Marke anmelden</a></body></html>`)
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("jffi") != s.Endpoints.FlowID {
		http.Error(w, "unknown flow", http.StatusNotFound)
		return
	}
	location := fmt.Sprintf("%s?jfwid=%s:0", s.Endpoints.Entry, SessionBase)
	http.Redirect(w, r, location, http.StatusFound)
}

func (s *Server) entryPage() string {
	var body strings.Builder
	body.WriteString(`<!DOCTYPE html><html><head>`)
	body.WriteString(`<script nonce="nonce-0">PrimeFaces.csp.init('nonce-0');</script>`)
	body.WriteString(`</head><body>`)
	if s.opts.BootstrapWithoutClientWindow {
		body.WriteString(`<form id="editor" method="post">`)
	} else {
		fmt.Fprintf(&body, `<form id="editor" method="post" data-client-window="%s:0">`, SessionBase)
		fmt.Fprintf(&body, `<input type="hidden" name="javax.faces.ClientWindow" value="%s:0"/>`, SessionBase)
	}
	if !s.opts.BootstrapWithoutViewState {
		body.WriteString(`<input type="hidden" name="javax.faces.ViewState" value="vs-0"/>`)
	}
	body.WriteString(`<div id="editor:wizardPanel">Anmelder</div></form></body></html>`)
	return body.String()
}

func (s *Server) hasSession(r *http.Request) bool {
	cookie, err := r.Cookie(cookieName)
	return err == nil && cookie.Value == cookieValue
}

func (s *Server) wizard(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		if !s.hasSession(r) {
			http.Error(w, "no session", http.StatusForbidden)
			return
		}
		fmt.Fprint(w, s.entryPage())
		return
	}

	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.handlePost(w, r, nil)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	err := r.ParseMultipartForm(10 << 20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("editor:markImageUpload_input")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file.Close()
	s.handlePost(w, r, &File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        int(header.Size),
	})
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request, file *File) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.hasSession(r) {
		http.Error(w, "no session", http.StatusForbidden)
		return
	}

	s.round++
	req := Request{
		Round:  s.round,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Form:   r.Form,
		Step:   r.FormValue("editor:wizardStep"),
		Source: r.FormValue("javax.faces.source"),
		Event:  r.FormValue("javax.faces.behavior.event"),
		Sent: wizard.Tokens{
			ViewState: r.FormValue("javax.faces.ViewState"),
			WindowID:  r.FormValue("javax.faces.ClientWindow"),
			Nonce:     r.FormValue("primefaces.nonce"),
		},
		File: file,
	}

	if req.Sent != s.current || req.Query.Get("jfwid") != s.current.WindowID {
		s.requests = append(s.requests, req)
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, errorResponse("javax.faces.application.ViewExpiredException", "stale tokens"))
		return
	}

	if req.Source == "editor:btnNext" {
		s.counter++
	}
	issued := wizard.Tokens{
		ViewState: fmt.Sprintf("vs-%d", s.round),
		WindowID:  fmt.Sprintf("%s:%d", SessionBase, s.counter),
	}
	if !s.opts.OmitNonce[s.round] {
		issued.Nonce = fmt.Sprintf("nonce-%d", s.round)
	}
	req.Issued = issued
	s.requests = append(s.requests, req)

	s.current.ViewState = issued.ViewState
	s.current.WindowID = issued.WindowID
	if issued.Nonce != "" {
		s.current.Nonce = issued.Nonce
	}

	if req.Source == "editor:btnNext" && req.Step == s.opts.FailStep {
		switch s.opts.FailMode {
		case FAIL_PARTIAL_REDIRECT:
			w.Header().Set("Content-Type", "text/xml")
			fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><partial-response id="j_id1"><redirect url="%s"></redirect></partial-response>`, expiredPage)
			return
		case FAIL_HTTP_REDIRECT:
			http.Redirect(w, r, expiredPage, http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, partialResponse(issued, update{
			id:      "editor:messages",
			content: fmt.Sprintf(`<div class="ui-messages-error"><span class="ui-messages-error-summary">%s</span></div>`, s.opts.FailMessage),
		}))
		return
	}

	if req.Source == "editor:btnNext" && req.Step == "final" {
		switch s.opts.FinalMode {
		case FINAL_REDIRECT:
			location := fmt.Sprintf("/DpmaDirektWebEditoren/w7005/abschluss.xhtml?transactionId=%s", s.opts.TransactionID)
			http.Redirect(w, r, location, http.StatusFound)
			return
		case FINAL_INLINE:
			w.Header().Set("Content-Type", "text/xml")
			fmt.Fprint(w, partialResponse(issued, update{
				id:      "editor:wizardPanel",
				content: fmt.Sprintf(`<div class="summary" data-transaction-id="%s">Vielen Dank</div>`, s.opts.TransactionID),
			}))
			return
		}
	}

	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprint(w, partialResponse(issued, s.content(req)...))
}

// content renders the component updates for a request, called with the
// mutex held.
func (s *Server) content(req Request) []update {
	switch {
	case req.File != nil:
		content := `<div class="ui-fileupload-content">marke.jpg</div>`
		if s.opts.UploadFailure {
			content = `<div class="ui-fileupload-error">Die Datei konnte nicht verarbeitet werden</div>`
		}
		return []update{{id: "editor:markPanel", content: content}}

	case req.Source == "editor:tmClassTree":
		node := req.Form.Get("editor:tmClassTree_expand")
		var class int
		fmt.Sscanf(node, "class_%d", &class)
		return []update{{id: "editor:tmClassTree", content: s.classTree(class)}}

	case req.Source == "editor:termSearchButton":
		return []update{{id: "editor:termSearchResults", content: s.searchResults(req.Form.Get("editor:termSearch"))}}

	case strings.HasSuffix(req.Source, ":chkSelect") && req.Event == "change":
		s.selected = append(s.selected, req.Source)
		return []update{{id: "editor:selectedTermsPanel", content: fmt.Sprintf("<ul><li>%d</li></ul>", len(s.selected))}}

	case req.Source == "editor:btnNext" && req.Step == "payment":
		return []update{{
			id: "editor:wizardPanel",
			content: `<div class="summary">` +
				`<input type="hidden" name="editor:j_id_7b:itemsPanel_active" value="0"/>` +
				`<input type="hidden" name="editor:j_id_7c:itemsPanel_active" value="1"/>` +
				`</div>`,
		}}
	}
	return []update{{id: "editor:wizardPanel", content: fmt.Sprintf(`<div class="step">%s</div>`, req.Step)}}
}

func (s *Server) classTree(class int) string {
	node := fmt.Sprintf("editor:tmClassTree:class_%d", class)
	var out strings.Builder
	fmt.Fprintf(&out, `<ul class="ui-tree-container"><li id="%s" class="ui-treenode">`, node)
	segment, ok := s.opts.HeaderIDs[class]
	if ok {
		fmt.Fprintf(&out, `<div id="%s:%s:chkSelect" class="ui-chkbox">`, node, segment)
		fmt.Fprintf(&out, `<input type="checkbox" name="%s:%s:chkSelect_input"/></div>`, node, segment)
		fmt.Fprintf(&out, `<span class="ui-treenode-label">Klasse %d</span>`, class)
		fmt.Fprintf(&out, `<ul><li><div id="%s:%s:t0:chkSelect" class="ui-chkbox"></div></li></ul>`, node, segment)
	} else {
		fmt.Fprintf(&out, `<span class="ui-treenode-label">Klasse %d</span>`, class)
	}
	out.WriteString(`</li></ul>`)
	return out.String()
}

func (s *Server) searchResults(query string) string {
	var out strings.Builder
	out.WriteString(`<table class="ui-datatable">`)
	for i, title := range s.opts.SearchResults[query] {
		id := fmt.Sprintf("editor:termSearchResults:%d:r%dx%d:chkSelect", i, s.round, len(title))
		fmt.Fprintf(
			&out,
			`<tr><td><div id="%s" class="ui-chkbox" title="%s"><input type="checkbox" name="%s_input"/></div></td><td>%s</td></tr>`,
			id, title, id, title,
		)
	}
	out.WriteString(`</table>`)
	return out.String()
}

type update struct {
	id      string
	content string
}

func partialResponse(tokens wizard.Tokens, updates ...update) string {
	var out strings.Builder
	out.WriteString(`<?xml version="1.0" encoding="UTF-8"?><partial-response id="j_id1"><changes>`)
	for _, u := range updates {
		fmt.Fprintf(&out, `<update id="%s"><![CDATA[%s]]></update>`, u.id, u.content)
	}
	fmt.Fprintf(&out, `<update id="j_id1:javax.faces.ViewState:0"><![CDATA[%s]]></update>`, tokens.ViewState)
	fmt.Fprintf(&out, `<update id="j_id1:javax.faces.ClientWindow:0"><![CDATA[%s]]></update>`, tokens.WindowID)
	if tokens.Nonce != "" {
		fmt.Fprintf(&out, `<eval><![CDATA[PrimeFaces.csp.init('%s');]]></eval>`, tokens.Nonce)
	}
	out.WriteString(`</changes></partial-response>`)
	return out.String()
}

func errorResponse(name, message string) string {
	return fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?><partial-response id="j_id1"><error><error-name>%s</error-name><error-message><![CDATA[%s]]></error-message></error></partial-response>`,
		name, message,
	)
}
