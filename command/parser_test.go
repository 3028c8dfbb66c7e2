package command

import (
	"strings"
	"testing"
)

func TestParseSingleCommands(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantVerb Verb
		wantArg  string
	}{
		{"want with term", "want gmk olivia", VerbWant, "gmk olivia"},
		{"have with term", "have hhkb", VerbHave, "hhkb"},
		{"selling", "selling nk65", VerbSelling, "nk65"},
		{"vendor", "vendor novelkeys", VerbVendor, "novelkeys"},
		{"interest check", "interest_check keycult", VerbInterestCheck, "keycult"},
		{"group buy", "group_buy parcel", VerbGroupBuy, "parcel"},
		{"remove by term", "remove hhkb", VerbRemove, "hhkb"},
		{"remove by index", "remove 3", VerbRemove, "3"},
		{"location with code", "location us-il", VerbLocation, "us-il"},
		{"bare location clears", "location", VerbLocation, ""},
		{"report bug", "report_bug view is broken", VerbReportBug, "view is broken"},
		{"help", "help", VerbHelp, ""},
		{"view", "view", VerbView, ""},
		{"count", "count", VerbCount, ""},
		{"unsubscribe", "unsubscribe", VerbUnsubscribe, ""},
		{"verb case insensitive", "WANT gmk olivia", VerbWant, "gmk olivia"},
		{"arg kept verbatim", "want GMK Olivia", VerbWant, "GMK Olivia"},
		{"leading whitespace trimmed", "   want hhkb", VerbWant, "hhkb"},
		{"tab separator", "want\thhkb", VerbWant, "hhkb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Parse(tt.body)
			if res.Rejected != "" {
				t.Fatalf("Parse(%q) rejected: %s", tt.body, res.Rejected)
			}
			if len(res.Problems) != 0 {
				t.Fatalf("Parse(%q) problems: %v", tt.body, res.Problems)
			}
			if len(res.Commands) != 1 {
				t.Fatalf("Parse(%q) = %d commands, want 1", tt.body, len(res.Commands))
			}
			got := res.Commands[0]
			if got.Verb != tt.wantVerb || got.Arg != tt.wantArg {
				t.Errorf("Parse(%q) = {%v %q}, want {%v %q}", tt.body, got.Verb, got.Arg, tt.wantVerb, tt.wantArg)
			}
		})
	}
}

func TestParseBadLines(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown verb", "wnat gmk olivia"},
		{"missing required arg", "want"},
		{"missing required arg whitespace", "remove   "},
		{"arg on bare verb", "view everything"},
		{"arg on help", "help me"},
		{"plain prose", "please alert me about keyboards"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Parse(tt.body)
			if len(res.Commands) != 0 {
				t.Fatalf("Parse(%q) = %d commands, want 0", tt.body, len(res.Commands))
			}
			if len(res.Problems) != 1 {
				t.Fatalf("Parse(%q) = %d problems, want 1", tt.body, len(res.Problems))
			}
			if !strings.Contains(res.Problems[0], "help") {
				t.Errorf("problem reply should point at help, got %q", res.Problems[0])
			}
		})
	}
}

func TestParseMultiLine(t *testing.T) {
	body := "want gmk olivia\n\nhave hhkb\nbogus line\nlocation us-il\n"
	res := Parse(body)

	if res.Rejected != "" {
		t.Fatalf("unexpected rejection: %s", res.Rejected)
	}
	want := []Command{
		{VerbWant, "gmk olivia"},
		{VerbHave, "hhkb"},
		{VerbLocation, "us-il"},
	}
	if len(res.Commands) != len(want) {
		t.Fatalf("got %d commands, want %d", len(res.Commands), len(want))
	}
	for i, cmd := range res.Commands {
		if cmd != want[i] {
			t.Errorf("command %d = {%v %q}, want {%v %q}", i, cmd.Verb, cmd.Arg, want[i].Verb, want[i].Arg)
		}
	}
	if len(res.Problems) != 1 {
		t.Fatalf("got %d problems, want 1", len(res.Problems))
	}
	if !strings.Contains(res.Problems[0], "bogus line") {
		t.Errorf("problem should quote the bad line, got %q", res.Problems[0])
	}
}

func TestParseRejectsMultipleRemoves(t *testing.T) {
	res := Parse("remove 1\nremove 2")

	if res.Rejected == "" {
		t.Fatal("batch with two removes should be rejected")
	}
	if len(res.Commands) != 0 {
		t.Errorf("rejected batch must carry no commands, got %d", len(res.Commands))
	}
}

func TestParseSingleRemoveWithOtherCommands(t *testing.T) {
	res := Parse("want gmk olivia\nremove hhkb")

	if res.Rejected != "" {
		t.Fatalf("one remove should be fine, got rejection: %s", res.Rejected)
	}
	if len(res.Commands) != 2 {
		t.Fatalf("got %d commands, want 2", len(res.Commands))
	}
}

func TestParseEmptyBody(t *testing.T) {
	res := Parse("   \n\n  ")
	if len(res.Commands) != 0 || len(res.Problems) != 0 || res.Rejected != "" {
		t.Errorf("blank body should produce nothing, got %+v", res)
	}
}
