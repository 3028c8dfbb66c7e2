// Package classify derives match tasks from post titles. The rule cascade is
// ordered and mutually exclusive: a trade title never doubles as a group buy,
// and vice versa.
package classify

import (
	"regexp"
	"strings"

	"mechwatch-notifier/pkg/watch"
)

var (
	tradeRe    = regexp.MustCompile(`\[h\](?P<have>.*?)\[w\](?P<want>.*)`)
	groupBuyRe = regexp.MustCompile(`\[gb\](?P<title>.*)`)
	vendorRe   = regexp.MustCompile(`\[vendor\](?P<title>.*)`)
	icRe       = regexp.MustCompile(`\[ic\](?P<title>.*)`)
)

// paymentTokens mark a trade's want side as a cash sale, which additionally
// classifies the have side as selling.
var paymentTokens = []string{"paypal"}

// Classify extracts zero or more match tasks from a post. A title matching no
// rule produces no tasks.
func Classify(post watch.Post) []watch.MatchTask {
	title := strings.ToLower(post.Title)

	task := func(c watch.Category, text string) watch.MatchTask {
		return watch.MatchTask{
			Category:  c,
			Text:      text,
			Title:     post.Title,
			Permalink: post.Permalink,
		}
	}

	if m := tradeRe.FindStringSubmatch(title); m != nil {
		haveText := m[tradeRe.SubexpIndex("have")]
		wantText := m[tradeRe.SubexpIndex("want")]
		tasks := []watch.MatchTask{
			task(watch.CategoryHave, haveText),
			task(watch.CategoryWant, wantText),
		}
		for _, token := range paymentTokens {
			if strings.Contains(wantText, token) {
				tasks = append(tasks, task(watch.CategorySelling, haveText))
				break
			}
		}
		return tasks
	}

	if m := groupBuyRe.FindStringSubmatch(title); m != nil {
		return []watch.MatchTask{task(watch.CategoryGroupBuy, m[groupBuyRe.SubexpIndex("title")])}
	}

	if m := vendorRe.FindStringSubmatch(title); m != nil {
		return []watch.MatchTask{task(watch.CategoryVendor, m[vendorRe.SubexpIndex("title")])}
	}

	if m := icRe.FindStringSubmatch(title); m != nil {
		return []watch.MatchTask{task(watch.CategoryInterestCheck, m[icRe.SubexpIndex("title")])}
	}

	return nil
}
