package support

import "strings"

// Predicate selects conversations. A nil Predicate matches everything.
type Predicate func(c *Conversation) bool

// BodySource exposes the loaded message bodies of a conversation for text
// search. *Store implements it.
type BodySource interface {
	Bodies(conversationID string) []string
}

// All matches when every non-nil predicate matches.
func All(ps ...Predicate) Predicate {
	return func(c *Conversation) bool {
		for _, p := range ps {
			if p != nil && !p(c) {
				return false
			}
		}
		return true
	}
}

func anyValue(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, "all")
}

func fieldIs(want string, get func(c *Conversation) string) Predicate {
	if anyValue(want) {
		return nil
	}
	want = strings.TrimSpace(want)
	return func(c *Conversation) bool { return strings.EqualFold(get(c), want) }
}

// StatusIs matches the conversation status. "" and "all" match any.
func StatusIs(status string) Predicate {
	return fieldIs(status, func(c *Conversation) string { return string(c.Status) })
}

// PriorityIs matches the conversation priority.
func PriorityIs(priority string) Predicate {
	return fieldIs(priority, func(c *Conversation) string { return string(c.Priority) })
}

// CategoryIs matches the conversation category.
func CategoryIs(category string) Predicate {
	return fieldIs(category, func(c *Conversation) string { return c.Category })
}

// SourceIs matches the channel the conversation came from.
func SourceIs(source string) Predicate {
	return fieldIs(source, func(c *Conversation) string { return c.Source })
}

// KindIs matches the counterpart's account kind (individual, company) or
// role (client, driver).
func KindIs(kind string) Predicate {
	if anyValue(kind) {
		return nil
	}
	kind = strings.TrimSpace(kind)
	return func(c *Conversation) bool {
		p := c.Counterpart()
		return strings.EqualFold(string(p.AccountKind), kind) || strings.EqualFold(string(p.Role), kind)
	}
}

// Matches does a case-insensitive substring search over the title,
// participant names, the last message and any loaded message bodies.
func Matches(query string, bodies BodySource) Predicate {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	contains := func(s string) bool { return strings.Contains(strings.ToLower(s), q) }
	return func(c *Conversation) bool {
		if contains(c.Title) {
			return true
		}
		for _, p := range c.Participants {
			if contains(p.DisplayName) || contains(p.CompanyName) {
				return true
			}
		}
		if c.LastMessage != nil && contains(c.LastMessage.Body) {
			return true
		}
		if bodies == nil {
			return false
		}
		for _, b := range bodies.Bodies(c.ID) {
			if contains(b) {
				return true
			}
		}
		return false
	}
}

// Criteria is the directory filter form. Empty fields and "all" match any.
type Criteria struct {
	Status      string `json:"status,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Category    string `json:"category,omitempty"`
	Source      string `json:"source,omitempty"`
	AccountKind string `json:"accountKind,omitempty"`
	Query       string `json:"query,omitempty"`
}

// Predicate composes the criteria. bodies may be nil.
func (c Criteria) Predicate(bodies BodySource) Predicate {
	return All(
		StatusIs(c.Status),
		PriorityIs(c.Priority),
		CategoryIs(c.Category),
		SourceIs(c.Source),
		KindIs(c.AccountKind),
		Matches(c.Query, bodies),
	)
}
