package wizard

import (
	"encoding/xml"
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// Update is one <update> fragment of a partial response.
type Update struct {
	Id      string
	Content string
}

// ServerFault is the <error> element of a partial response.
type ServerFault struct {
	Name    string
	Message string
}

// Document is a parsed response body. Full pages and partial responses are
// both exposed through Markup so extraction strategies do not care which
// one they are looking at.
type Document struct {
	Raw     string
	Partial bool
	Updates []Update
	// Evals are the script fragments of a partial response.
	Evals []string
	// Fault is set when the partial response carries an <error> element.
	Fault *ServerFault
	// RedirectUrl is the target of a partial response <redirect>.
	RedirectUrl string
	// DecodeError is set when the body announced a partial response that
	// could not be decoded, Markup then holds the body parsed as html.
	DecodeError error
	Markup      *goquery.Document
}

type xmlPartialResponse struct {
	XMLName xml.Name `xml:"partial-response"`
	Changes struct {
		Updates []struct {
			Id      string `xml:"id,attr"`
			Content string `xml:",chardata"`
		} `xml:"update"`
		Evals []string `xml:"eval"`
	} `xml:"changes"`
	Error *struct {
		Name    string `xml:"error-name"`
		Message string `xml:"error-message"`
	} `xml:"error"`
	Redirect *struct {
		Url string `xml:"url,attr"`
	} `xml:"redirect"`
}

func isPartialResponse(body string) bool {
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.Contains(head, "<partial-response")
}

// decodePartialResponse honors the encoding of the xml declaration, the
// server answers in ISO-8859-1 on some deployments.
func decodePartialResponse(body string) (xmlPartialResponse, error) {
	var parsed xmlPartialResponse
	decoder := xml.NewDecoder(strings.NewReader(body))
	decoder.CharsetReader = charset.NewReaderLabel
	err := decoder.Decode(&parsed)
	if err != nil {
		return parsed, fmt.Errorf("decode partial response: %w", err)
	}
	return parsed, nil
}

// ParseDocument never fails, a body that cannot be decoded as a partial
// response is treated as markup and DecodeError is set.
func ParseDocument(body string) *Document {
	doc := &Document{Raw: body}

	markup := body
	if isPartialResponse(body) {
		parsed, err := decodePartialResponse(body)
		if err != nil {
			doc.DecodeError = err
		} else {
			doc.Partial = true
			var buffer strings.Builder
			for _, u := range parsed.Changes.Updates {
				doc.Updates = append(doc.Updates, Update{Id: u.Id, Content: u.Content})
				buffer.WriteString(`<div data-update-id="`)
				buffer.WriteString(html.EscapeString(u.Id))
				buffer.WriteString(`">`)
				buffer.WriteString(u.Content)
				buffer.WriteString("</div>")
			}
			doc.Evals = parsed.Changes.Evals
			if parsed.Error != nil {
				doc.Fault = &ServerFault{
					Name:    strings.TrimSpace(parsed.Error.Name),
					Message: strings.TrimSpace(parsed.Error.Message),
				}
			}
			if parsed.Redirect != nil {
				doc.RedirectUrl = parsed.Redirect.Url
			}
			markup = buffer.String()
		}
	}

	parsedMarkup, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		// x/net/html only fails on reader errors, which strings.Reader does not produce
		parsedMarkup, _ = goquery.NewDocumentFromReader(strings.NewReader(""))
	}
	doc.Markup = parsedMarkup

	return doc
}

// UpdateWithSuffix returns the content of the first update whose id ends in
// suffix.
func (d *Document) UpdateWithSuffix(suffix string) (string, bool) {
	for _, u := range d.Updates {
		if strings.HasSuffix(u.Id, suffix) {
			return strings.TrimSpace(u.Content), true
		}
	}
	return "", false
}

// InputValue returns the value of the first input named name.
func (d *Document) InputValue(name string) (string, bool) {
	value := strings.TrimSpace(
		d.Markup.Find(`input[name="` + name + `"]`).First().AttrOr("value", ""),
	)
	return value, value != ""
}
