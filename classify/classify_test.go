package classify

import (
	"testing"

	"mechwatch-notifier/pkg/watch"
)

func TestClassifyTrade(t *testing.T) {
	post := watch.Post{
		ID:        "t3_abc",
		Title:     "[US-IL] [H] GMK Olivia, NK65 [W] Paypal, HHKB",
		Permalink: "https://reddit.com/r/mechmarket/comments/abc",
	}
	tasks := Classify(post)

	if len(tasks) != 3 {
		t.Fatalf("got %d tasks, want have + want + selling", len(tasks))
	}
	if tasks[0].Category != watch.CategoryHave || tasks[0].Text != " gmk olivia, nk65 " {
		t.Errorf("have task = {%s %q}", tasks[0].Category, tasks[0].Text)
	}
	if tasks[1].Category != watch.CategoryWant || tasks[1].Text != " paypal, hhkb" {
		t.Errorf("want task = {%s %q}", tasks[1].Category, tasks[1].Text)
	}
	// PayPal on the want side derives a selling task carrying the have text.
	if tasks[2].Category != watch.CategorySelling || tasks[2].Text != tasks[0].Text {
		t.Errorf("selling task = {%s %q}", tasks[2].Category, tasks[2].Text)
	}

	for i, task := range tasks {
		if task.Title != post.Title {
			t.Errorf("task %d carries title %q, want original", i, task.Title)
		}
		if task.Permalink != post.Permalink {
			t.Errorf("task %d carries permalink %q", i, task.Permalink)
		}
	}
}

func TestClassifyTradeWithoutPayment(t *testing.T) {
	tasks := Classify(watch.Post{Title: "[EU-DE] [H] Keycult No.2 [W] Trades only"})

	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want have + want only", len(tasks))
	}
	for _, task := range tasks {
		if task.Category == watch.CategorySelling {
			t.Error("no payment token on the want side, selling task must not exist")
		}
	}
}

func TestClassifyCascade(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		wantCat  watch.Category
		wantText string
	}{
		{"group buy", "[GB] Acrylic case round 3", watch.CategoryGroupBuy, " acrylic case round 3"},
		{"vendor", "[Vendor] NovelKeys restock", watch.CategoryVendor, " novelkeys restock"},
		{"interest check", "[IC] 65% gasket mount board", watch.CategoryInterestCheck, " 65% gasket mount board"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := Classify(watch.Post{Title: tt.title})
			if len(tasks) != 1 {
				t.Fatalf("got %d tasks, want 1", len(tasks))
			}
			if tasks[0].Category != tt.wantCat {
				t.Errorf("category = %s, want %s", tasks[0].Category, tt.wantCat)
			}
			if tasks[0].Text != tt.wantText {
				t.Errorf("text = %q, want %q", tasks[0].Text, tt.wantText)
			}
		})
	}
}

func TestClassifyNoMatch(t *testing.T) {
	for _, title := range []string{
		"Weekly questions thread",
		"[W] GMK Olivia",       // want side with no have side
		"[H] HHKB Pro 2",       // have side with no want side
		"[w] paypal [h] board", // wrong order
	} {
		if tasks := Classify(watch.Post{Title: title}); tasks != nil {
			t.Errorf("Classify(%q) = %v, want none", title, tasks)
		}
	}
}

// A trade title always classifies as a trade even when another rule's tag
// also appears in it.
func TestClassifyTradeWinsOverLaterRules(t *testing.T) {
	tasks := Classify(watch.Post{Title: "[H] [GB] slot for extras [W] PayPal"})
	if len(tasks) == 0 || tasks[0].Category != watch.CategoryHave {
		t.Fatalf("trade rule should win, got %v", tasks)
	}
	for _, task := range tasks {
		if task.Category == watch.CategoryGroupBuy {
			t.Error("group buy rule must not also fire on a trade title")
		}
	}
}
