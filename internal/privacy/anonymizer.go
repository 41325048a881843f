package privacy

import (
	"fmt"
	"regexp"
	"sync"
)

// Detection order matters: emails before names so the local part of an
// address is never half-matched as a name, phones before names so digit
// groups are consumed first.
var (
	emailRegex = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phoneRegex = regexp.MustCompile(`(\+?1[-.\s]?)?(\(\d{3}\)|\d{3})[-.\s]\d{3}[-.\s]?\d{4}\b`)
	nameRegex  = regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+\b`)
)

// Anonymizer replaces detected PII with typed placeholder tokens.
// Each distinct literal maps to a stable, increasing token within one
// anonymizer, so repeated mentions of the same phone number collapse to
// the same placeholder. The literal-to-token mapping lives only in
// memory and is never written out, which makes redaction irreversible
// at rest.
type Anonymizer struct {
	mu     sync.Mutex
	tokens map[string]string
	counts map[string]int
}

func NewAnonymizer() *Anonymizer {
	return NewSeededAnonymizer(nil)
}

// NewSeededAnonymizer resumes per-kind token numbering from previously
// issued counts, so a session reopened by a fresh process keeps handing
// out tokens that were never used in its history.
func NewSeededAnonymizer(counts map[string]int) *Anonymizer {
	a := &Anonymizer{
		tokens: make(map[string]string),
		counts: make(map[string]int, len(counts)),
	}
	for kind, n := range counts {
		a.counts[kind] = n
	}
	return a
}

// Redact replaces detected names, phone numbers, and emails in text.
// It returns the redacted text and how many distinct items were newly
// anonymized by this call.
func (a *Anonymizer) Redact(text string) (string, int) {
	if text == "" {
		return text, 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	added := 0
	redact := func(kind string, re *regexp.Regexp, s string) string {
		return re.ReplaceAllStringFunc(s, func(match string) string {
			if token, ok := a.tokens[match]; ok {
				return token
			}
			a.counts[kind]++
			token := fmt.Sprintf("[%s_%d]", kind, a.counts[kind])
			a.tokens[match] = token
			added++
			return token
		})
	}

	text = redact("EMAIL", emailRegex, text)
	text = redact("PHONE", phoneRegex, text)
	text = redact("NAME", nameRegex, text)
	return text, added
}

// Total returns how many distinct items this anonymizer has replaced.
func (a *Anonymizer) Total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tokens)
}

// Counts returns a copy of the per-kind token counters.
func (a *Anonymizer) Counts() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]int, len(a.counts))
	for kind, n := range a.counts {
		out[kind] = n
	}
	return out
}
