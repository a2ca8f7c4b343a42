package wizard

import (
	"errors"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrMissingViewState = errors.New("missing view state")
	ErrMissingWindowID  = errors.New("missing window id")
)

// Tokens is the three-part session token every submission carries. ViewState
// and WindowID are mandatory, Nonce may legitimately be empty.
type Tokens struct {
	ViewState string
	WindowID  string
	Nonce     string
}

// Hints are values known from outside the document that strategies may
// fall back to.
type Hints struct {
	// FallbackWindowID is the window id the bootstrap redirect carried.
	FallbackWindowID string
	// SessionBaseID is the uuid part of the window id, without counter.
	SessionBaseID string
}

// Strategy is one way of finding a token value.
type Strategy struct {
	Name string
	// Fallback strategies do not read the document, they only take part in
	// bootstrap extraction. A refresh must never replace a token with a
	// guessed value.
	Fallback bool
	Extract  func(doc *Document, hints Hints) (string, bool)
}

// Cascade is an ordered list of strategies, the first match wins.
type Cascade []Strategy

// Match is the outcome of resolving a cascade.
type Match struct {
	Value    string
	Strategy string
	Ok       bool
}

// Resolve runs the strategies in order. When includeFallbacks is false the
// strategies flagged as Fallback are skipped.
func (c Cascade) Resolve(doc *Document, hints Hints, includeFallbacks bool) Match {
	for _, s := range c {
		if s.Fallback && !includeFallbacks {
			continue
		}
		value, ok := s.Extract(doc, hints)
		if ok {
			return Match{Value: value, Strategy: s.Name, Ok: true}
		}
	}
	return Match{}
}

var (
	viewStateLiteralRegex = regexp.MustCompile(`javax\.faces\.ViewState['"]?\s*[:=,]\s*['"]([^'"\s]+)['"]`)
	cspInitRegex          = regexp.MustCompile(`PrimeFaces\.csp\.init\(\s*['"]([^'"]+)['"]\s*\)`)
)

// ViewStateCascade finds the view state token.
var ViewStateCascade = Cascade{
	{
		Name: "hidden-field",
		Extract: func(doc *Document, _ Hints) (string, bool) {
			return doc.InputValue(field_view_state)
		},
	},
	{
		Name: "id-suffix",
		Extract: func(doc *Document, _ Hints) (string, bool) {
			suffix := ":" + field_view_state + ":0"
			value, ok := doc.UpdateWithSuffix(suffix)
			if ok && value != "" {
				return value, true
			}
			value = strings.TrimSpace(
				doc.Markup.Find(`[id$="` + suffix + `"]`).First().AttrOr("value", ""),
			)
			return value, value != ""
		},
	},
	{
		Name: "script-literal",
		Extract: func(doc *Document, _ Hints) (string, bool) {
			groups := viewStateLiteralRegex.FindStringSubmatch(doc.Raw)
			if len(groups) < 2 {
				return "", false
			}
			return groups[1], true
		},
	},
}

// WindowIDCascade finds the client window id.
var WindowIDCascade = Cascade{
	{
		Name: "hidden-field",
		Extract: func(doc *Document, _ Hints) (string, bool) {
			value, ok := doc.InputValue(field_client_window)
			if ok {
				return value, true
			}
			value, ok = doc.UpdateWithSuffix(field_client_window + ":0")
			return value, ok && value != ""
		},
	},
	{
		Name: "form-data-attribute",
		Extract: func(doc *Document, _ Hints) (string, bool) {
			value := strings.TrimSpace(
				doc.Markup.Find("form[data-client-window]").First().AttrOr("data-client-window", ""),
			)
			return value, value != ""
		},
	},
	{
		Name:     "redirect-fallback",
		Fallback: true,
		Extract: func(_ *Document, hints Hints) (string, bool) {
			return hints.FallbackWindowID, hints.FallbackWindowID != ""
		},
	},
	{
		Name:     "constructed",
		Fallback: true,
		Extract: func(_ *Document, hints Hints) (string, bool) {
			if hints.SessionBaseID == "" {
				return "", false
			}
			return hints.SessionBaseID + ":0", true
		},
	},
}

// NonceCascade finds the content security nonce. Its last strategy always
// matches with an empty value, so bootstrap never fails on the nonce.
var NonceCascade = Cascade{
	{
		Name: "csp-init",
		Extract: func(doc *Document, _ Hints) (string, bool) {
			groups := cspInitRegex.FindStringSubmatch(doc.Raw)
			if len(groups) < 2 {
				return "", false
			}
			return groups[1], true
		},
	},
	{
		Name: "hidden-field",
		Extract: func(doc *Document, _ Hints) (string, bool) {
			value, ok := doc.InputValue(field_nonce)
			if ok {
				return value, true
			}
			value, ok = doc.UpdateWithSuffix(field_nonce)
			return value, ok && value != ""
		},
	},
	{
		Name: "script-nonce-attribute",
		Extract: func(doc *Document, _ Hints) (string, bool) {
			value := ""
			doc.Markup.Find("script[nonce]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
				value = strings.TrimSpace(s.AttrOr("nonce", ""))
				return value == ""
			})
			return value, value != ""
		},
	},
	{
		Name:     "empty",
		Fallback: true,
		Extract: func(*Document, Hints) (string, bool) {
			return "", true
		},
	},
}

// ExtractBootstrapTokens derives the initial tokens from the first full
// wizard page. Missing view state or window id is fatal.
func ExtractBootstrapTokens(body string, hints Hints) (Tokens, error) {
	return ExtractBootstrapTokensFromDocument(ParseDocument(body), hints)
}

func ExtractBootstrapTokensFromDocument(doc *Document, hints Hints) (Tokens, error) {
	viewState := ViewStateCascade.Resolve(doc, hints, true)
	if !viewState.Ok {
		return Tokens{}, ErrMissingViewState
	}
	windowID := WindowIDCascade.Resolve(doc, hints, true)
	if !windowID.Ok {
		return Tokens{}, ErrMissingWindowID
	}
	nonce := NonceCascade.Resolve(doc, hints, true)

	return Tokens{
		ViewState: viewState.Value,
		WindowID:  windowID.Value,
		Nonce:     nonce.Value,
	}, nil
}

// RefreshFromResponse derives the tokens to use after a response. It never
// fails: a token the response does not define keeps its current value.
func RefreshFromResponse(body string, current Tokens) Tokens {
	return RefreshFromDocument(ParseDocument(body), current)
}

func RefreshFromDocument(doc *Document, current Tokens) Tokens {
	next := current
	if m := ViewStateCascade.Resolve(doc, Hints{}, false); m.Ok {
		next.ViewState = m.Value
	}
	if m := WindowIDCascade.Resolve(doc, Hints{}, false); m.Ok {
		next.WindowID = m.Value
	}
	if m := NonceCascade.Resolve(doc, Hints{}, false); m.Ok {
		next.Nonce = m.Value
	}
	return next
}

// splitWindowID splits "uuid:counter" into its base and the full id. A window
// id without counter has no usable full form.
func splitWindowID(windowID string) (base string, full string) {
	base, _, found := strings.Cut(windowID, ":")
	if !found {
		return windowID, ""
	}
	return base, windowID
}
