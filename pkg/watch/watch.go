// Package watch contains the core domain types for the mechmarket watchlist bot.
package watch

import (
	"strings"
	"time"
)

// Category is one of the six watch types a subscriber can track.
type Category string

const (
	CategoryHave          Category = "have"
	CategoryWant          Category = "want"
	CategorySelling       Category = "selling"
	CategoryInterestCheck Category = "interest_check"
	CategoryVendor        Category = "vendor"
	CategoryGroupBuy      Category = "group_buy"
)

// CategoryOrder is the fixed ordering used for display and for index-based
// removal. Changing it would renumber every subscriber's watch list.
var CategoryOrder = []Category{
	CategoryHave,
	CategoryWant,
	CategorySelling,
	CategoryInterestCheck,
	CategoryVendor,
	CategoryGroupBuy,
}

// Tag returns the bracketed tag used when rendering a watch list line.
// Selling has no tag of its own; it renders as a synthetic have/want pair.
func (c Category) Tag() string {
	switch c {
	case CategoryHave:
		return "[H]"
	case CategoryWant:
		return "[W]"
	case CategoryInterestCheck:
		return "[IC]"
	case CategoryVendor:
		return "[V]"
	case CategoryGroupBuy:
		return "[GB]"
	default:
		return ""
	}
}

// TradeCategory reports whether location filtering applies to this category.
func (c Category) TradeCategory() bool {
	return c == CategoryHave || c == CategoryWant || c == CategorySelling
}

// Watchlists holds one ordered term list per category. The fields are named
// rather than keyed so that removal code can never iterate into a non-list
// field by accident.
type Watchlists struct {
	Have          []string `json:"have"`
	Want          []string `json:"want"`
	Selling       []string `json:"selling"`
	InterestCheck []string `json:"interest_check"`
	Vendor        []string `json:"vendor"`
	GroupBuy      []string `json:"group_buy"`
}

// Terms returns the term list for a category, in insertion order.
func (w *Watchlists) Terms(c Category) []string {
	switch c {
	case CategoryHave:
		return w.Have
	case CategoryWant:
		return w.Want
	case CategorySelling:
		return w.Selling
	case CategoryInterestCheck:
		return w.InterestCheck
	case CategoryVendor:
		return w.Vendor
	case CategoryGroupBuy:
		return w.GroupBuy
	default:
		return nil
	}
}

// SetTerms replaces the term list for a category.
func (w *Watchlists) SetTerms(c Category, terms []string) {
	switch c {
	case CategoryHave:
		w.Have = terms
	case CategoryWant:
		w.Want = terms
	case CategorySelling:
		w.Selling = terms
	case CategoryInterestCheck:
		w.InterestCheck = terms
	case CategoryVendor:
		w.Vendor = terms
	case CategoryGroupBuy:
		w.GroupBuy = terms
	}
}

// Total counts terms across all categories.
func (w *Watchlists) Total() int {
	n := 0
	for _, c := range CategoryOrder {
		n += len(w.Terms(c))
	}
	return n
}

// Subscriber is one user's persisted watch state.
type Subscriber struct {
	Username  string     `json:"username"`            // Immutable key
	ReplyTo   string     `json:"reply_to"`            // Opaque handle for the next outbound message
	Lists     Watchlists `json:"lists"`               // Watched terms per category
	Location  string     `json:"location,omitempty"`  // Normalized location code; empty means no filter
	CreatedAt time.Time  `json:"created_at"`          // First message timestamp
}

// NewSubscriber creates an empty record for a username.
func NewSubscriber(username string) *Subscriber {
	return &Subscriber{
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
}

// Clone returns a deep copy, so snapshot consumers can never mutate the
// store's view of a record.
func (s *Subscriber) Clone() *Subscriber {
	if s == nil {
		return nil
	}
	dup := *s
	for _, c := range CategoryOrder {
		terms := s.Lists.Terms(c)
		if terms != nil {
			dup.Lists.SetTerms(c, append([]string(nil), terms...))
		}
	}
	return &dup
}

// NormalizeTerm lowercases and trims a watch term or location code.
func NormalizeTerm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Post is a new submission observed on the board.
type Post struct {
	ID        string // Source-assigned identifier, used for de-duplication
	Title     string
	Permalink string
}

// Message is one inbound message from a subscriber.
type Message struct {
	Author  string
	Body    string
	ReplyTo string
}

// MatchTask is a transient (category, text) pair derived from one post title,
// fed to the match engine. Text is the lowercased title segment the category's
// terms are matched against; Title is the full original title, used for
// location gating and for the alert itself.
type MatchTask struct {
	Category  Category
	Text      string
	Title     string
	Permalink string
}
