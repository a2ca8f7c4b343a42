package wizard

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"tmfiling-backend/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_resolver_header = "resolver.resolve-header"
	report_resolver_terms  = "resolver.resolve-terms"
)

// HeaderFallback proposes candidate ids for a class heading checkbox when
// none could be found in the expanded tree.
type HeaderFallback func(class int) []DynamicFieldID

// UnverifiedHeaderFallback builds ids the way the class tree usually names
// its heading checkbox. These are guesses: the generated segment is normally
// session specific and the candidates have never been confirmed against the
// live server.
func UnverifiedHeaderFallback(class int) []DynamicFieldID {
	node := fmt.Sprintf("%s:class_%d", component_class_tree, class)
	return []DynamicFieldID{
		DynamicFieldID(node + ":header:" + selection_control_suffix),
		DynamicFieldID(node + ":0:" + selection_control_suffix),
	}
}

// headerPattern is one way a heading checkbox id shows up in the markup.
type headerPattern struct {
	name    string
	compile func(node string) *regexp.Regexp
}

// the generated segment never contains a colon, deeper leaf nodes of the
// same class therefore do not match
const generatedSegment = `[A-Za-z0-9_\-]+`

var headerPatterns = []headerPattern{
	{
		name: "id-attribute",
		compile: func(node string) *regexp.Regexp {
			return regexp.MustCompile(`id="(` + node + generatedSegment + `:` + selection_control_suffix + `)"`)
		},
	},
	{
		name: "input-name",
		compile: func(node string) *regexp.Regexp {
			return regexp.MustCompile(`name="(` + node + generatedSegment + `:` + selection_control_suffix + `)_input"`)
		},
	},
	{
		name: "widget-config",
		compile: func(node string) *regexp.Regexp {
			return regexp.MustCompile(`id\s*:\s*["'](` + node + generatedSegment + `:` + selection_control_suffix + `)["']`)
		},
	},
}

// scanHeader looks for the heading checkbox of class in body.
func scanHeader(body string, class int) (DynamicFieldID, string, bool) {
	node := regexp.QuoteMeta(fmt.Sprintf("%s:class_%d:", component_class_tree, class))
	for _, p := range headerPatterns {
		groups := p.compile(node).FindStringSubmatch(body)
		if len(groups) >= 2 {
			return DynamicFieldID(groups[1]), p.name, true
		}
	}
	return "", "", false
}

// ResolveHeader finds the heading checkbox of a class and announces its
// selection to the server. It returns false when the heading could not be
// resolved, which is not an error.
func (e *Engine) ResolveHeader(ctx context.Context, s Session, class int) (Session, DynamicFieldID, bool, error) {
	node := fmt.Sprintf("class_%d", class)

	fields := url.Values{}
	fields.Set(component_class_tree+"_expand", node)
	s, ex, err := e.roundTrip(ctx, s, envelope{
		source:  component_class_tree,
		execute: component_class_tree,
		render:  component_class_tree,
		event:   "expand",
		fields:  fields,
	})
	if err != nil {
		return s, "", false, fmt.Errorf("expand %s: %w", node, err)
	}

	id, pattern, found := scanHeader(ex.doc.Raw, class)
	if found {
		e.tel.ReportDebug(report_resolver_header, class, pattern, id)
	} else {
		id, found = e.fallbackHeader(s, class)
		if !found {
			s = e.warn(s, report_resolver_header, "class %d: heading not found, class skipped", class)
			return s, "", false, nil
		}
		s = e.warn(s, report_resolver_header, "class %d: heading not found, using unverified id %s", class, id)
	}

	s, err = e.announceSelection(ctx, s, id)
	if err != nil {
		return s, "", false, err
	}
	return s, id, true, nil
}

// fallbackHeader prefers a candidate that at least occurs in the last
// response, otherwise it takes the first one.
func (e *Engine) fallbackHeader(s Session, class int) (DynamicFieldID, bool) {
	if e.headerFallback == nil {
		return "", false
	}
	candidates := e.headerFallback(class)
	if len(candidates) == 0 {
		return "", false
	}
	for _, c := range candidates {
		if strings.Contains(s.LastResponseBody, string(c)) {
			return c, true
		}
	}
	return candidates[0], true
}

// announceSelection fires the change event of a checkbox. A checked field
// in the step submission alone does not register on the server.
func (e *Engine) announceSelection(ctx context.Context, s Session, id DynamicFieldID) (Session, error) {
	fields := url.Values{}
	fields.Set(string(id)+"_input", checked)
	s, _, err := e.roundTrip(ctx, s, envelope{
		source:  string(id),
		execute: string(id),
		render:  component_selected,
		event:   "change",
		fields:  fields,
	})
	if err != nil {
		return s, fmt.Errorf("select %s: %w", id, err)
	}
	return s, nil
}

// searchResult is one selectable row of the term search.
type searchResult struct {
	id    DynamicFieldID
	title string
}

func scanSearchResults(doc *Document) []searchResult {
	var results []searchResult
	selector := fmt.Sprintf(`[id^="%s:"][id$=":%s"]`, component_search_result, selection_control_suffix)
	doc.Markup.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		id, _ := sel.Attr("id")
		title, ok := htmlutil.FirstAttr(sel, "title", "data-term")
		if !ok {
			title = htmlutil.SelectionText(sel.Closest("tr, li, .ui-treenode"))
		}
		if !ok && title == "" {
			title = htmlutil.SelectionText(sel)
		}
		results = append(results, searchResult{
			id:    DynamicFieldID(id),
			title: htmlutil.CleanText(title),
		})
	})
	return results
}

// matchTerm picks the result for term: an exact title first, then a title
// starting with the term, then a case-insensitive substring.
func matchTerm(results []searchResult, term string) (DynamicFieldID, bool) {
	term = strings.TrimSpace(term)
	if term == "" {
		return "", false
	}
	for _, r := range results {
		if r.title == term {
			return r.id, true
		}
	}
	for _, r := range results {
		if strings.HasPrefix(r.title, term) {
			return r.id, true
		}
	}
	lower := strings.ToLower(term)
	for _, r := range results {
		if strings.Contains(strings.ToLower(r.title), lower) {
			return r.id, true
		}
	}
	return "", false
}

// ResolveTerms searches every term within class and selects the matching
// result. Terms without a match are skipped with a warning, the returned map
// only holds the resolved ones.
func (e *Engine) ResolveTerms(ctx context.Context, s Session, class int, terms []string) (Session, map[string]DynamicFieldID, error) {
	resolved := map[string]DynamicFieldID{}
	for _, term := range terms {
		fields := url.Values{}
		fields.Set(component_search_input, term)
		fields.Set(component_search_input+"Class_input", strconv.Itoa(class))

		var ex exchange
		var err error
		s, ex, err = e.roundTrip(ctx, s, envelope{
			source:  component_search_button,
			execute: component_search_input + " " + component_search_input + "Class",
			render:  component_search_result,
			fields:  fields,
		})
		if err != nil {
			return s, resolved, fmt.Errorf("search %q: %w", term, err)
		}

		id, found := matchTerm(scanSearchResults(ex.doc), term)
		if !found {
			s = e.warn(s, report_resolver_terms, "class %d: term %q not found, term skipped", class, term)
			continue
		}
		e.tel.ReportDebug(report_resolver_terms, class, term, id)

		s, err = e.announceSelection(ctx, s, id)
		if err != nil {
			return s, resolved, err
		}
		resolved[term] = id
	}
	return s, resolved, nil
}
