// Package moderation provides content filtering for outgoing messages. It
// screens text for prohibited keywords and spam patterns before a message is
// persisted and fanned out.
package moderation

import "strings"

// FilterResult is the outcome of a content check.
type FilterResult struct {
	Blocked bool
	Reason  string // "blocked_keyword" or "spam_pattern"
	Term    string // the matched term or pattern name
}

// Filter screens message text against a keyword blocklist and spam patterns.
// Single-word terms are matched token-by-token (including a leetspeak
// normalization pass); multi-word terms are matched as whole phrases.
type Filter struct {
	words   map[string]struct{}
	phrases []string
}

// defaultBlocklist is the built-in set of prohibited terms. Deployments
// extend it via NewFilterWithTerms.
var defaultBlocklist = []string{
	// Slurs.
	"nigger", "faggot", "kike", "spic",
	// Self-harm incitement.
	"kill yourself", "go die",
	// Sexual exploitation.
	"child porn", "send nudes",
	// Extremism.
	"heil hitler",
	// Threats and scams.
	"bomb threat", "free bitcoin",
}

// NewFilter creates a Filter with the built-in blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultBlocklist)
}

// NewFilterWithTerms creates a Filter from the given terms. Empty and
// whitespace-only terms are ignored; terms containing spaces are treated as
// phrases, all others as single words. Matching is case-insensitive.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.ContainsRune(term, ' ') {
			f.phrases = append(f.phrases, term)
		} else {
			f.words[term] = struct{}{}
		}
	}
	return f
}

// Check screens text and returns a blocking FilterResult on the first match.
// Keyword checks run before spam-pattern checks.
func (f *Filter) Check(text string) FilterResult {
	lower := strings.ToLower(text)

	// Single words, plain tokens.
	plain := tokenizePlain(lower)
	for _, tok := range plain {
		if _, ok := f.words[tok]; ok {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: tok}
		}
	}

	// Single words, leetspeak-normalized tokens.
	for _, tok := range tokenizeLeet(lower) {
		norm := normalizeLeet(tok)
		if _, ok := f.words[norm]; ok {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: norm}
		}
	}

	// Phrases, matched on whole-word boundaries so "kill yourselves" does not
	// trip "kill yourself".
	joined := " " + strings.Join(plain, " ") + " "
	for _, phrase := range f.phrases {
		if strings.Contains(joined, " "+phrase+" ") {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: phrase}
		}
	}

	return f.checkSpamPatterns(text)
}

// leetMap maps common character substitutions back to letters.
var leetMap = map[rune]rune{
	'0': 'o', '1': 'i', '3': 'e', '4': 'a', '5': 's', '7': 't',
	'@': 'a', '$': 's', '!': 'i',
}

// normalizeLeet rewrites common leetspeak substitutions to plain letters.
func normalizeLeet(token string) string {
	var b strings.Builder
	b.Grow(len(token))
	for _, r := range token {
		if plain, ok := leetMap[r]; ok {
			b.WriteRune(plain)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// tokenizePlain splits text into lowercase word tokens on any run of
// non-alphanumeric characters.
func tokenizePlain(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
}

// tokenizeLeet splits text on whitespace only, preserving substitution
// characters like '@' and '$' inside tokens for the normalization pass.
func tokenizeLeet(text string) []string {
	return strings.Fields(text)
}
