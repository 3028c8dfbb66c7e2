// Package command turns inbound message text into validated commands and
// applies them to subscriber records, one store transaction per command.
package command

import (
	"fmt"
	"strings"
	"unicode"

	"mechwatch-notifier/pkg/watch"
)

// Verb is the closed set of command verbs. Dispatch switches over this enum
// rather than raw strings, so an unhandled verb is a visible gap.
type Verb int

const (
	VerbHelp Verb = iota
	VerbView
	VerbCount
	VerbUnsubscribe
	VerbHave
	VerbWant
	VerbSelling
	VerbVendor
	VerbInterestCheck
	VerbGroupBuy
	VerbRemove
	VerbLocation
	VerbReportBug
)

// Command is one validated command with its raw argument text.
type Command struct {
	Verb Verb
	Arg  string
}

// Result is the outcome of parsing one message body.
type Result struct {
	Commands []Command // In the order they appeared; empty when Rejected is set
	Problems []string  // Per-line parse-error replies, in line order
	Rejected string    // Non-empty: the whole batch was rejected with this reply
}

type argMode int

const (
	argNone argMode = iota
	argRequired
	argOptional
)

type verbSpec struct {
	verb Verb
	arg  argMode
}

var verbs = map[string]verbSpec{
	"help":           {VerbHelp, argNone},
	"view":           {VerbView, argNone},
	"count":          {VerbCount, argNone},
	"unsubscribe":    {VerbUnsubscribe, argNone},
	"have":           {VerbHave, argRequired},
	"want":           {VerbWant, argRequired},
	"selling":        {VerbSelling, argRequired},
	"vendor":         {VerbVendor, argRequired},
	"interest_check": {VerbInterestCheck, argRequired},
	"group_buy":      {VerbGroupBuy, argRequired},
	"remove":         {VerbRemove, argRequired},
	// Bare `location` clears the filter, so its argument is optional.
	"location":   {VerbLocation, argOptional},
	"report_bug": {VerbReportBug, argRequired},
}

// watchCategories maps the six watch verbs onto their categories.
var watchCategories = map[Verb]watch.Category{
	VerbHave:          watch.CategoryHave,
	VerbWant:          watch.CategoryWant,
	VerbSelling:       watch.CategorySelling,
	VerbVendor:        watch.CategoryVendor,
	VerbInterestCheck: watch.CategoryInterestCheck,
	VerbGroupBuy:      watch.CategoryGroupBuy,
}

// Parse splits one message body into lines and parses each independently.
// A bad line produces a problem reply but never discards the rest of the
// message. A batch with more than one remove is rejected whole: sequential
// index removals would need their indices re-derived after each removal.
func Parse(body string) Result {
	var res Result
	removes := 0

	for _, line := range splitLines(body) {
		verbTok, arg := splitVerb(line)
		spec, ok := verbs[strings.ToLower(verbTok)]
		if !ok {
			res.Problems = append(res.Problems, parseErrorReply(line))
			continue
		}
		switch spec.arg {
		case argNone:
			if arg != "" {
				res.Problems = append(res.Problems, parseErrorReply(line))
				continue
			}
		case argRequired:
			if strings.TrimSpace(arg) == "" {
				res.Problems = append(res.Problems, parseErrorReply(line))
				continue
			}
		case argOptional:
		}

		if spec.verb == VerbRemove {
			removes++
		}
		res.Commands = append(res.Commands, Command{Verb: spec.verb, Arg: arg})
	}

	if removes > 1 {
		res.Commands = nil
		res.Rejected = "One `remove` per message, please — removing an item renumbers everything after it. Send each removal as its own message."
	}
	return res
}

// splitLines collapses blank-line runs and returns the non-empty lines.
func splitLines(body string) []string {
	var lines []string
	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// splitVerb cuts a line at its first whitespace run. The argument is taken
// verbatim.
func splitVerb(line string) (verb, arg string) {
	idx := strings.IndexFunc(line, unicode.IsSpace)
	if idx < 0 {
		return line, ""
	}
	return line[:idx], strings.TrimLeftFunc(line[idx:], unicode.IsSpace)
}

func parseErrorReply(line string) string {
	return fmt.Sprintf("I didn't understand %q. Send `help` for the list of commands.", line)
}
