package memory

import (
	"strings"
	"unicode"
)

// stopwords are high-frequency Portuguese and English terms that carry no
// retrieval signal.
var stopwords = map[string]bool{
	// Portuguese
	"de": true, "da": true, "do": true, "das": true, "dos": true, "em": true,
	"um": true, "uma": true, "para": true, "com": true, "por": true, "que": true,
	"não": true, "nao": true, "sim": true, "mais": true, "mas": true, "como": true,
	"tem": true, "ter": true, "ser": true, "está": true, "esta": true, "são": true,
	"sao": true, "foi": true, "ele": true, "ela": true, "seu": true, "sua": true,
	"meu": true, "minha": true, "você": true, "voce": true, "nos": true, "nós": true,
	"qual": true, "quais": true, "quando": true, "onde": true, "porque": true,
	// English
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "be": true, "this": true, "that": true, "what": true,
	"which": true, "who": true, "when": true, "where": true, "why": true, "how": true,
}

// tokenize splits text into lowercase terms, dropping stopwords and
// single-character tokens. Unicode-aware so accented Portuguese survives.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if len([]rune(token)) < 2 || stopwords[token] {
			continue
		}
		filtered = append(filtered, token)
	}
	return filtered
}

// termOverlap returns the fraction of unique query terms present in the
// document, in [0, 1].
func termOverlap(queryTokens, docTokens []string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	docSet := make(map[string]bool, len(docTokens))
	for _, t := range docTokens {
		docSet[t] = true
	}

	matched := 0
	counted := make(map[string]bool, len(queryTokens))
	unique := 0
	for _, t := range queryTokens {
		if counted[t] {
			continue
		}
		counted[t] = true
		unique++
		if docSet[t] {
			matched++
		}
	}

	return float64(matched) / float64(unique)
}
