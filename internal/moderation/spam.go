package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

// Compiled regex patterns for spam detection.
// These are compiled once at package init and reused for every call,
// making them safe and efficient for concurrent use.
//
// Conversations here are 1:1 between people who chose to talk to each other,
// so ordinary links and phone numbers are legitimate content. The checks
// target the shapes that show up in unsolicited spam: shortened links that
// hide their destination and domains on free throwaway TLDs.
var (
	// shortenerPattern matches well-known URL shorteners. A shortened link in
	// a direct message is almost always hiding something.
	shortenerPattern = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?(bit\.ly|tinyurl\.com|t\.co|goo\.gl|is\.gd|cutt\.ly|rb\.gy|rebrand\.ly|shorturl\.at)/\S+`)

	// throwawayPattern matches links to domains on TLDs that are free to
	// register and overwhelmingly used for phishing. Links to ordinary
	// domains (.com, .org, country TLDs) pass through untouched.
	throwawayPattern = regexp.MustCompile(`(?i)(?:https?://|www\.)?\S+\.(tk|ml|ga|cf|gq|top|click|loan|work|download)(/\S*|\b)`)
)

// spamCheck pairs a detection function with metadata used for reporting.
type spamCheck struct {
	name   string
	reason string
	match  func(string) bool
}

// spamChecks is the ordered list of spam checks applied by checkSpamPatterns.
// Order matters: the first match wins.
var spamChecks = []spamCheck{
	{name: "link_shortener", reason: "Shortened links are not allowed", match: func(text string) bool {
		return shortenerPattern.MatchString(text)
	}},
	{name: "throwaway_link", reason: "Links to this domain are not allowed", match: func(text string) bool {
		return throwawayPattern.MatchString(text)
	}},
	{name: "char_flood", reason: "Character flooding detected", match: hasCharFlood},
	{name: "word_flood", reason: "Repeated word flooding detected", match: hasWordFlood},
}

// hasCharFlood returns true if text contains 8 or more consecutive identical
// characters. The threshold is deliberately loose: "soooooo" is how people
// actually type in chat, while dozens of repeats is keyboard mashing.
// Go's regexp package (RE2) does not support backreferences, so this is
// implemented as a simple linear scan which is both correct and fast.
func hasCharFlood(text string) bool {
	const threshold = 8

	count := 1
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

// hasWordFlood returns true if the same word appears 4 or more times
// consecutively (case-insensitive). Words are delimited by whitespace.
// Triples like "no no no" are normal conversational emphasis and pass.
// Go's regexp package (RE2) does not support backreferences, so this is
// implemented with a simple token scan.
func hasWordFlood(text string) bool {
	const threshold = 4

	words := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	if len(words) < threshold {
		return false
	}

	count := 1
	prev := ""
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = lower
		}
	}
	return false
}

// checkSpamPatterns runs every spam check against text and returns a blocking
// FilterResult on the first match. If no pattern matches, it returns a
// zero-value (non-blocking) FilterResult.
func (f *Filter) checkSpamPatterns(text string) FilterResult {
	for _, sc := range spamChecks {
		if sc.match(text) {
			return FilterResult{
				Blocked: true,
				Reason:  "spam_pattern",
				Term:    sc.name,
			}
		}
	}
	return FilterResult{}
}
