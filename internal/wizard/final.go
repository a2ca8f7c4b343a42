package wizard

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"tmfiling-backend/internal/filing"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_final_reference = "engine.transaction-reference"
)

// inline transaction reference patterns, in order of preference
var transactionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`transactionId=([A-Za-z0-9_\-]+)`),
	regexp.MustCompile(`"transactionId"\s*:\s*"([A-Za-z0-9_\-]+)"`),
	regexp.MustCompile(`data-transaction-id="([A-Za-z0-9_\-]+)"`),
	regexp.MustCompile(`Transaktions-?(?:ID|nummer)\s*:?\s*(?:</[a-z]+>\s*<[a-z]+[^>]*>\s*)?([A-Za-z0-9_\-]+)`),
}

// itemsPanelFields collects the accordion state fields of the summary page.
// Their names carry a generated prefix, so they are only known from the last
// response.
func itemsPanelFields(body string) url.Values {
	fields := url.Values{}
	doc := ParseDocument(body)
	doc.Markup.Find(`input[name$="` + items_panel_active_suffix + `"]`).Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		fields.Set(name, sel.AttrOr("value", ""))
	})
	return fields
}

func (e *Engine) referenceFromUrl(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	location, err := e.transport.ResolveLocation(raw)
	if err != nil {
		return "", false
	}
	ref := strings.TrimSpace(location.Query().Get(param_transaction))
	return ref, ref != ""
}

func referenceFromBody(body string) (string, bool) {
	for _, pattern := range transactionPatterns {
		groups := pattern.FindStringSubmatch(body)
		if len(groups) >= 2 {
			return groups[1], true
		}
	}
	return "", false
}

// finalStep confirms the filing. The server answers with a redirect that
// carries the transaction reference, older deployments put it into the body.
func (e *Engine) finalStep(ctx context.Context, s Session, req filing.Request) (Session, error) {
	fields := itemsPanelFields(s.LastResponseBody)
	fields.Set("editor:sender:name", req.Sender.Name)
	if req.Sender.Confirmed {
		fields.Set("editor:confirmation_input", checked)
	}
	fields.Set(component_next_button, component_next_button)

	s, ex, err := e.roundTrip(ctx, s, envelope{
		source:         component_next_button,
		execute:        component_wizard_panel,
		render:         component_wizard_panel + " " + component_messages,
		fields:         fields,
		expectRedirect: true,
	})
	if err != nil {
		return s, err
	}

	ref, ok := e.referenceFromUrl(ex.reply.Location)
	source := "redirect"
	if !ok {
		ref, ok = e.referenceFromUrl(ex.doc.RedirectUrl)
		source = "partial-redirect"
	}
	if !ok {
		ref, ok = referenceFromBody(ex.reply.Body)
		source = "body"
	}
	if !ok {
		return s, ErrNoTransactionReference
	}

	s.TransactionReference = ref
	e.tel.ReportDebug(report_final_reference, source, s.TransactionReference)
	return s, nil
}
