// Package termsearch looks up goods and services terms of the Nice
// classification. The filing wizard's own vocabulary is authoritative, this
// package only pre-checks requests and helps users find the right wording.
package termsearch

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"tmfiling-backend/internal/components/assert"
	"tmfiling-backend/internal/components/telemetry"

	"github.com/antzucaro/matchr"
	"github.com/titanous/json5"
)

const (
	report_index_search   = "index.search"
	report_index_validate = "index.validate"
)

const (
	searchThreshold     = 0.82
	suggestionThreshold = 0.7
	searchLimit         = 20
	suggestionLimit     = 5
	// a query contained in a term is always a good hit
	containsScore = 0.95
)

type Match struct {
	Class int
	Term  string
	Score float64
}

type Validation struct {
	Term        string
	Class       int
	Found       bool
	Suggestions []Match
}

type Service interface {
	// Search ranks every known term against term, best first.
	Search(ctx context.Context, term string) ([]Match, error)
	// Validate reports whether term is a known term of class and suggests
	// close alternatives when it is not.
	Validate(ctx context.Context, term string, class int) (Validation, error)
}

var _ Service = (*Index)(nil)

// Index is an in-memory vocabulary ranked with Jaro-Winkler similarity.
type Index struct {
	classes map[int][]string
	tel     telemetry.API
}

func NewIndex(vocabulary map[int][]string, tel telemetry.API) *Index {
	assert.NotNil(tel)

	classes := make(map[int][]string, len(vocabulary))
	for class, terms := range vocabulary {
		classes[class] = slices.Clone(terms)
	}
	return &Index{
		classes: classes,
		tel:     telemetry.NewScopedAPI("termsearch", tel),
	}
}

// LoadIndex reads a json5 object mapping class numbers to term lists.
func LoadIndex(path string, tel telemetry.API) (*Index, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string][]string
	err = json5.Unmarshal(contents, &raw)
	if err != nil {
		return nil, fmt.Errorf("decode vocabulary %s: %w", path, err)
	}

	vocabulary := make(map[int][]string, len(raw))
	for key, terms := range raw {
		class, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || class < 1 || class > 45 {
			return nil, fmt.Errorf("vocabulary %s: invalid class %q", path, key)
		}
		vocabulary[class] = terms
	}
	return NewIndex(vocabulary, tel), nil
}

func normalize(term string) string {
	return strings.ToLower(strings.Join(strings.Fields(term), " "))
}

func score(query, term string) float64 {
	if query == "" {
		return 0
	}
	similarity := matchr.JaroWinkler(query, term, false)
	if strings.Contains(term, query) && similarity < containsScore {
		similarity = containsScore
	}
	return similarity
}

func sortMatches(matches []Match) {
	slices.SortFunc(matches, func(a, b Match) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.Class != b.Class:
			return a.Class - b.Class
		}
		return strings.Compare(a.Term, b.Term)
	})
}

func (x *Index) rank(query string, classes []int, threshold float64, limit int) []Match {
	query = normalize(query)
	var matches []Match
	for _, class := range classes {
		for _, term := range x.classes[class] {
			s := score(query, normalize(term))
			if s < threshold {
				continue
			}
			matches = append(matches, Match{Class: class, Term: term, Score: s})
		}
	}
	sortMatches(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func (x *Index) Search(ctx context.Context, term string) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches := x.rank(term, x.Classes(), searchThreshold, searchLimit)
	x.tel.ReportDebug(report_index_search, term, len(matches))
	return matches, nil
}

func (x *Index) Validate(ctx context.Context, term string, class int) (Validation, error) {
	if err := ctx.Err(); err != nil {
		return Validation{}, err
	}
	result := Validation{Term: term, Class: class}

	terms, ok := x.classes[class]
	if !ok {
		x.tel.ReportWarning(report_index_validate, "class not in vocabulary", class)
		return result, nil
	}

	query := normalize(term)
	for _, t := range terms {
		if normalize(t) == query {
			result.Found = true
			return result, nil
		}
	}
	result.Suggestions = x.rank(term, []int{class}, suggestionThreshold, suggestionLimit)
	return result, nil
}

// Classes returns the class numbers the index knows, ascending.
func (x *Index) Classes() []int {
	classes := make([]int, 0, len(x.classes))
	for class := range x.classes {
		classes = append(classes, class)
	}
	slices.Sort(classes)
	return classes
}
