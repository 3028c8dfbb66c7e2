package command

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"mechwatch-notifier/pkg/watch"
	"mechwatch-notifier/storage"
)

const helpText = "This bot watches post titles in /r/mechmarket and messages you a link " +
	"whenever a new post matches your watch list.\n\n" +
	"Commands, one per line:\n\n" +
	"`have <term>` : watch the [H] side of trade posts\n\n" +
	"`want <term>` : watch the [W] side of trade posts\n\n" +
	"`selling <term>` : watch for people selling <term> for PayPal\n\n" +
	"`interest_check <term>` : watch interest checks\n\n" +
	"`vendor <term>` : watch vendor posts\n\n" +
	"`group_buy <term>` : watch group buys\n\n" +
	"`remove <term or number>` : remove an item, by text or by its number in `view`\n\n" +
	"`location <code>` : only alert on trades mentioning your region, e.g. `location us-il`; bare `location` clears it\n\n" +
	"`view` : show your watch list\n\n" +
	"`count` : how many subscribers the bot is watching for\n\n" +
	"`report_bug <description>` : report a bug or suggest a feature\n\n" +
	"`unsubscribe` : delete your watch list entirely"

// Store is the subscriber persistence the processor mutates. Every call is
// one lock-guarded transaction.
type Store interface {
	Get(ctx context.Context, username string) (*watch.Subscriber, error)
	Upsert(ctx context.Context, username string, mutate func(*watch.Subscriber) error) (*watch.Subscriber, error)
	Remove(ctx context.Context, username string) error
	Count(ctx context.Context) (int, error)
}

// BugLog records user bug reports.
type BugLog interface {
	Record(username, description string) error
}

// Processor applies commands to subscriber records and produces replies.
type Processor struct {
	store  Store
	bugs   BugLog
	logger *slog.Logger
}

// NewProcessor creates a command processor.
func NewProcessor(store Store, bugs BugLog, logger *slog.Logger) *Processor {
	return &Processor{
		store:  store,
		bugs:   bugs,
		logger: logger,
	}
}

// Touch creates the subscriber record on first contact and keeps its reply
// handle pointing at the latest inbound message.
func (p *Processor) Touch(ctx context.Context, username, replyTo string) error {
	_, err := p.store.Upsert(ctx, username, func(s *watch.Subscriber) error {
		if s.ReplyTo == replyTo {
			return storage.ErrUnchanged
		}
		s.ReplyTo = replyTo
		return nil
	})
	return err
}

// Apply executes one command as one store transaction and returns the replies
// it produced, in send order. A store failure returns an error and no
// replies: a failed write must never read as success to the user.
func (p *Processor) Apply(ctx context.Context, username string, cmd Command) ([]string, error) {
	switch cmd.Verb {
	case VerbHave, VerbWant, VerbSelling, VerbVendor, VerbInterestCheck, VerbGroupBuy:
		return p.addWatch(ctx, username, watchCategories[cmd.Verb], cmd.Arg)
	case VerbRemove:
		return p.remove(ctx, username, cmd.Arg)
	case VerbLocation:
		return p.setLocation(ctx, username, cmd.Arg)
	case VerbView:
		return p.view(ctx, username)
	case VerbUnsubscribe:
		return p.unsubscribe(ctx, username)
	case VerbReportBug:
		return p.reportBug(username, cmd.Arg)
	case VerbCount:
		return p.count(ctx)
	case VerbHelp:
		return []string{helpText}, nil
	default:
		return nil, fmt.Errorf("unhandled verb %d", cmd.Verb)
	}
}

func (p *Processor) addWatch(ctx context.Context, username string, cat watch.Category, rawArg string) ([]string, error) {
	var replies []string

	arg := strings.TrimSpace(rawArg)
	if len(arg) >= 2 && strings.HasPrefix(arg, "<") && strings.HasSuffix(arg, ">") {
		arg = arg[1 : len(arg)-1]
		replies = append(replies, "No need for angle brackets — I watch for the plain text, so I stored it without them.")
	}
	term := watch.NormalizeTerm(arg)
	if term == "" {
		return []string{"There's nothing to watch in that command. Send `help` for examples."}, nil
	}

	var already bool
	var evictedFrom watch.Category
	_, err := p.store.Upsert(ctx, username, func(s *watch.Subscriber) error {
		terms := s.Lists.Terms(cat)
		if slices.Contains(terms, term) {
			already = true
			return storage.ErrUnchanged
		}
		s.Lists.SetTerms(cat, append(terms, term))

		// A term never lives in both have and selling: inserting into one
		// evicts the other occurrence.
		if cat == watch.CategoryHave || cat == watch.CategorySelling {
			other := watch.CategorySelling
			if cat == watch.CategorySelling {
				other = watch.CategoryHave
			}
			otherTerms := s.Lists.Terms(other)
			if i := slices.Index(otherTerms, term); i >= 0 {
				s.Lists.SetTerms(other, slices.Delete(otherTerms, i, i+1))
				evictedFrom = other
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if already {
		return append(replies, fmt.Sprintf("%s is already in your watch list!", term)), nil
	}

	p.logger.Info("Watch term added", "username", username, "category", string(cat), "term", term)
	replies = append(replies, addConfirmation(cat, term))
	if evictedFrom != "" {
		replies = append(replies, fmt.Sprintf(
			"Heads up: %q was also in your %s list, so I removed it there — a term can't be watched in both have and selling.",
			term, evictedFrom))
	}
	return replies, nil
}

func addConfirmation(cat watch.Category, term string) string {
	// Selling is stored as its own category but means "have X, want PayPal".
	if cat == watch.CategorySelling {
		return fmt.Sprintf("Got it. Watching for [H] %s + [W] PayPal in /r/mechmarket!", term)
	}
	return fmt.Sprintf("Got it. Watching for %s %s in /r/mechmarket!", cat.Tag(), term)
}

func (p *Processor) remove(ctx context.Context, username, rawArg string) ([]string, error) {
	arg := strings.TrimSpace(rawArg)
	n, intErr := strconv.Atoi(arg)
	isIndex := intErr == nil
	term := watch.NormalizeTerm(arg)

	var removed []string
	var total int
	_, err := p.store.Upsert(ctx, username, func(s *watch.Subscriber) error {
		total = s.Lists.Total()

		if isIndex && n >= 1 && n <= total {
			cat, idx := locateIndex(&s.Lists, n)
			terms := s.Lists.Terms(cat)
			removed = append(removed, terms[idx])
			s.Lists.SetTerms(cat, slices.Delete(terms, idx, idx+1))
			return nil
		}

		// Exact-term removal scans every category and removes all matches
		// found. The exclusivity rule means at most one should exist, but
		// removal stays defensive.
		for _, c := range watch.CategoryOrder {
			terms := s.Lists.Terms(c)
			kept := terms[:0]
			for _, t := range terms {
				if t == term {
					removed = append(removed, t)
					continue
				}
				kept = append(kept, t)
			}
			if len(kept) != len(terms) {
				s.Lists.SetTerms(c, kept)
			}
		}
		if len(removed) == 0 {
			return storage.ErrUnchanged
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(removed) == 0 {
		if isIndex {
			return []string{fmt.Sprintf("There's no item %d — your watch list has %d items. Send `view` to see them.", n, total)}, nil
		}
		return []string{fmt.Sprintf("I couldn't find %q in your watch list. Send `view` to see what I'm watching.", term)}, nil
	}

	p.logger.Info("Watch term removed", "username", username, "term", removed[0], "occurrences", len(removed))
	return []string{fmt.Sprintf("Removed %s from your watch list.", removed[0])}, nil
}

// locateIndex maps a 1-based position in the fixed flattened ordering onto
// its owning category and offset.
func locateIndex(w *watch.Watchlists, n int) (watch.Category, int) {
	offset := n - 1
	for _, c := range watch.CategoryOrder {
		terms := w.Terms(c)
		if offset < len(terms) {
			return c, offset
		}
		offset -= len(terms)
	}
	return "", -1
}

func (p *Processor) setLocation(ctx context.Context, username, rawArg string) ([]string, error) {
	code := watch.NormalizeTerm(rawArg)
	_, err := p.store.Upsert(ctx, username, func(s *watch.Subscriber) error {
		if s.Location == code {
			return storage.ErrUnchanged
		}
		s.Location = code
		return nil
	})
	if err != nil {
		return nil, err
	}

	if code == "" {
		return []string{"Removed your location filter."}, nil
	}
	p.logger.Info("Location filter set", "username", username, "location", code)
	return []string{fmt.Sprintf("I set your location to %s. Send `location` by itself to clear the filter.", strings.ToUpper(code))}, nil
}

func (p *Processor) view(ctx context.Context, username string) ([]string, error) {
	sub, err := p.store.Get(ctx, username)
	if err != nil {
		if storage.IsNotFound(err) {
			sub = watch.NewSubscriber(username)
		} else {
			return nil, err
		}
	}
	return []string{renderWatchList(sub)}, nil
}

// renderWatchList numbers the flattened fixed-order listing; the numbers are
// exactly what `remove <n>` operates on.
func renderWatchList(sub *watch.Subscriber) string {
	var b strings.Builder
	b.WriteString("Your current watch list for /r/mechmarket:\n\n")

	i := 1
	for _, c := range watch.CategoryOrder {
		for _, term := range sub.Lists.Terms(c) {
			if c == watch.CategorySelling {
				fmt.Fprintf(&b, "%d. [H] %s + [W] PayPal\n", i, term)
			} else {
				fmt.Fprintf(&b, "%d. %s %s\n", i, c.Tag(), term)
			}
			i++
		}
	}
	if i == 1 {
		b.WriteString("(nothing yet — send `help` to get started)\n")
	}

	b.WriteString("\n")
	if sub.Location != "" {
		fmt.Fprintf(&b, "Location filter: %s", strings.ToUpper(sub.Location))
	} else {
		b.WriteString("Location filter: none")
	}
	return b.String()
}

func (p *Processor) unsubscribe(ctx context.Context, username string) ([]string, error) {
	if err := p.store.Remove(ctx, username); err != nil {
		return nil, err
	}
	p.logger.Info("Subscriber unsubscribed", "username", username)
	return []string{fmt.Sprintf("Bye, %s! Send me another message if you want to opt back in to alerts :)", username)}, nil
}

func (p *Processor) reportBug(username, rawArg string) ([]string, error) {
	if err := p.bugs.Record(username, rawArg); err != nil {
		return nil, err
	}
	return []string{"Thanks for your feedback!"}, nil
}

func (p *Processor) count(ctx context.Context) ([]string, error) {
	n, err := p.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("I'm currently watching /r/mechmarket for %d subscribers.", n)}, nil
}
