package match

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"mechwatch-notifier/pkg/watch"
)

type recordingSink struct {
	sent    []string // replyTo handles, in send order
	texts   []string
	failFor string // replyTo whose sends fail
}

func (r *recordingSink) Send(_ context.Context, replyTo, text string) error {
	if replyTo == r.failFor {
		return errors.New("delivery refused")
	}
	r.sent = append(r.sent, replyTo)
	r.texts = append(r.texts, text)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func subscriber(username string, cat watch.Category, location string, terms ...string) *watch.Subscriber {
	sub := watch.NewSubscriber(username)
	sub.ReplyTo = "reply-" + username
	sub.Location = location
	sub.Lists.SetTerms(cat, terms)
	return sub
}

func TestQualifiesSubstring(t *testing.T) {
	task := watch.MatchTask{
		Category: watch.CategoryWant,
		Text:     " gmk olivia, cash",
		Title:    "[US-IL] [H] Paypal [W] GMK Olivia, cash",
	}

	tests := []struct {
		name string
		sub  *watch.Subscriber
		want bool
	}{
		{"exact term", subscriber("a", watch.CategoryWant, "", "gmk olivia"), true},
		{"term as substring", subscriber("b", watch.CategoryWant, "", "olivia"), true},
		{"no matching term", subscriber("c", watch.CategoryWant, "", "botanical"), false},
		{"term in wrong category", subscriber("d", watch.CategoryHave, "", "gmk olivia"), false},
		{"empty list", subscriber("e", watch.CategoryWant, ""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Qualifies(tt.sub, task); got != tt.want {
				t.Errorf("Qualifies = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQualifiesLocationGate(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		category watch.Category
		location string
		want     bool
	}{
		{"location matches bracket", "[US-IL] [H] keyboard [W] PayPal", watch.CategoryHave, "us-il", true},
		{"location absent from title", "[EU-DE] [H] keyboard [W] PayPal", watch.CategoryHave, "us-il", false},
		{"country prefix matches region", "[US-IL] [H] keyboard [W] PayPal", watch.CategoryHave, "us", true},
		{"location mentioned without bracket", "ships to us-il [H] keyboard [W] PayPal", watch.CategoryHave, "us-il", false},
		{"no filter set", "[EU-DE] [H] keyboard [W] PayPal", watch.CategoryHave, "", true},
		{"filter ignored for group buys", "[GB] keyboard case", watch.CategoryGroupBuy, "us-il", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := subscriber("a", tt.category, tt.location, "keyboard")
			task := watch.MatchTask{
				Category: tt.category,
				Text:     " keyboard ",
				Title:    tt.title,
			}
			if got := Qualifies(sub, task); got != tt.want {
				t.Errorf("Qualifies(%q, loc=%q) = %v, want %v", tt.title, tt.location, got, tt.want)
			}
		})
	}
}

func TestDispatchOneAlertPerSubscriber(t *testing.T) {
	sink := &recordingSink{}
	engine := New(sink, discardLogger())

	// Two of alice's terms match the text; she still gets exactly one alert.
	alice := subscriber("alice", watch.CategoryWant, "", "gmk", "olivia")
	bob := subscriber("bob", watch.CategoryWant, "", "botanicals")

	task := watch.MatchTask{
		Category:  watch.CategoryWant,
		Text:      " gmk olivia",
		Title:     "[H] PayPal [W] GMK Olivia",
		Permalink: "https://reddit.com/r/mechmarket/comments/abc",
	}
	sent := engine.Dispatch(context.Background(), task, map[string]*watch.Subscriber{
		"alice": alice,
		"bob":   bob,
	})

	if sent != 1 {
		t.Fatalf("Dispatch = %d alerts, want 1", sent)
	}
	if len(sink.sent) != 1 || sink.sent[0] != "reply-alice" {
		t.Errorf("alert went to %v, want [reply-alice]", sink.sent)
	}
}

func TestDispatchAlertText(t *testing.T) {
	sink := &recordingSink{}
	engine := New(sink, discardLogger())

	task := watch.MatchTask{
		Category:  watch.CategoryGroupBuy,
		Text:      " acrylic case",
		Title:     "[GB] Acrylic case",
		Permalink: "https://reddit.com/r/mechmarket/comments/xyz",
	}
	engine.Dispatch(context.Background(), task, map[string]*watch.Subscriber{
		"alice": subscriber("alice", watch.CategoryGroupBuy, "", "acrylic"),
	})

	if len(sink.texts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(sink.texts))
	}
	want := "One of your /r/mechmarket alerts has been triggered!\n\n[GB] Acrylic case\n\nhttps://reddit.com/r/mechmarket/comments/xyz"
	if sink.texts[0] != want {
		t.Errorf("alert text = %q, want %q", sink.texts[0], want)
	}
}

func TestDispatchSkipsFailedSends(t *testing.T) {
	sink := &recordingSink{failFor: "reply-alice"}
	engine := New(sink, discardLogger())

	task := watch.MatchTask{
		Category: watch.CategoryWant,
		Text:     " keyboard",
		Title:    "[H] PayPal [W] keyboard",
	}
	sent := engine.Dispatch(context.Background(), task, map[string]*watch.Subscriber{
		"alice": subscriber("alice", watch.CategoryWant, "", "keyboard"),
		"bob":   subscriber("bob", watch.CategoryWant, "", "keyboard"),
	})

	if sent != 1 {
		t.Errorf("Dispatch = %d, want 1: the failed send must not count", sent)
	}
	if len(sink.sent) != 1 || sink.sent[0] != "reply-bob" {
		t.Errorf("delivered to %v, want [reply-bob]", sink.sent)
	}
}
