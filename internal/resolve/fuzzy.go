// Package resolve maps user-typed references (ids, titles, customer names)
// to conversation ids.
package resolve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/operiq/support-sync/internal/support"
)

// Named is one searchable label of a resource. A resource may contribute
// several labels under the same ID.
type Named struct {
	ID   string
	Name string
}

// Match is a fuzzy match result with score.
type Match struct {
	ID    string
	Name  string
	Score int
}

var (
	ErrEmptyQuery = errors.New("empty search query")
	ErrEmptyItems = errors.New("no items to match against")
)

// AmbiguousError indicates several resources matched equally well.
type AmbiguousError struct {
	Query   string
	Matches []Match
}

func (e *AmbiguousError) Error() string {
	var b strings.Builder
	_, _ = fmt.Fprintf(&b, "ambiguous match for %q", e.Query)
	if len(e.Matches) > 0 {
		b.WriteString(", candidates:")
		for _, m := range e.Matches {
			_, _ = fmt.Fprintf(&b, "\n  %s: %s", m.ID, m.Name)
		}
	}
	return b.String()
}

type namedSourceLower []Named

func (s namedSourceLower) String(i int) string { return strings.ToLower(s[i].Name) }
func (s namedSourceLower) Len() int            { return len(s) }

// FuzzyMatch finds the best matching item by name and returns its ID.
//
// Exact case-insensitive names win. Otherwise the best fuzzy score wins,
// and a tie between two different IDs is an *AmbiguousError.
func FuzzyMatch(query string, items []Named) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyQuery
	}
	if len(items) == 0 {
		return "", ErrEmptyItems
	}

	for _, item := range items {
		if strings.EqualFold(item.Name, query) {
			return item.ID, nil
		}
	}

	matches := FuzzyMatchAll(query, items, 5)
	if len(matches) == 0 {
		return "", fmt.Errorf("no match found for %q", query)
	}
	if len(matches) > 1 && matches[0].Score == matches[1].Score {
		return "", &AmbiguousError{Query: query, Matches: matches}
	}
	return matches[0].ID, nil
}

// FuzzyMatchAll returns up to limit resources ranked by their best label
// score (best first).
func FuzzyMatchAll(query string, items []Named, limit int) []Match {
	query = strings.TrimSpace(query)
	if query == "" || len(items) == 0 || limit <= 0 {
		return nil
	}

	results := fuzzy.FindFrom(strings.ToLower(query), namedSourceLower(items))
	seen := make(map[string]struct{}, len(results))
	var matches []Match
	for _, r := range results {
		item := items[r.Index]
		// results are best-first, so the first label per ID is its best
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		matches = append(matches, Match{ID: item.ID, Name: item.Name, Score: r.Score})
		if len(matches) == limit {
			break
		}
	}
	return matches
}

// ConversationLabels lists the searchable labels of each conversation: its
// title, the customer's name and company.
func ConversationLabels(convs []support.Conversation) []Named {
	items := make([]Named, 0, len(convs)*2)
	for i := range convs {
		c := &convs[i]
		items = append(items, Named{ID: c.ID, Name: c.Title})
		p := c.Counterpart()
		if p.DisplayName != "" {
			items = append(items, Named{ID: c.ID, Name: p.DisplayName})
		}
		if p.CompanyName != "" {
			items = append(items, Named{ID: c.ID, Name: p.CompanyName})
		}
	}
	return items
}

// Conversation resolves ref to a conversation id: an exact id first, then
// a title or customer name.
func Conversation(ref string, convs []support.Conversation) (string, error) {
	ref = strings.TrimSpace(ref)
	for i := range convs {
		if convs[i].ID == ref {
			return ref, nil
		}
	}
	return FuzzyMatch(ref, ConversationLabels(convs))
}
