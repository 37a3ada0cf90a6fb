package usecase

import (
	"strings"
	"unicode"
)

// NormalizeQuery trims, case-folds and collapses internal whitespace.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// tokenize lower-cases s and splits it into letter/digit runs. Apostrophes
// inside a word are kept so contractions like "doesn't" survive as one token.
func tokenize(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		token := strings.Trim(b.String(), "'")
		if token != "" {
			tokens = append(tokens, token)
		}
		b.Reset()
	}
	for _, r := range s {
		r = unicode.ToLower(r)
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case (r == '\'' || r == '’') && b.Len() > 0:
			b.WriteRune('\'')
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// normalizeTerm strips possessive suffixes so "engine's" matches "engine".
func normalizeTerm(token string) string {
	token = strings.TrimSuffix(token, "'s")
	return strings.TrimSuffix(token, "'")
}

// normalizedTokens is tokenize followed by normalizeTerm.
func normalizedTokens(s string) []string {
	tokens := tokenize(s)
	for i, t := range tokens {
		tokens[i] = normalizeTerm(t)
	}
	return tokens
}

func isSalient(term string) bool {
	if term == "" || isNegationContraction(term) {
		return false
	}
	if _, stop := stopwords[term]; stop {
		return false
	}
	if strings.IndexFunc(term, unicode.IsDigit) >= 0 {
		return true
	}
	return len([]rune(term)) >= 3
}

// salientTerms returns the distinct content words of s in first-seen order.
func salientTerms(s string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 16)
	for _, t := range normalizedTokens(s) {
		if !isSalient(t) {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func toTermSet(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		out[t] = struct{}{}
	}
	return out
}

func isNegationContraction(token string) bool {
	return strings.HasSuffix(token, "n't")
}

// splitSentences cuts text at sentence punctuation followed by whitespace or
// end of input, and at line breaks. Decimal points stay inside sentences.
func splitSentences(text string) []string {
	runes := []rune(text)
	out := make([]string, 0, 4)
	start := 0
	emit := func(end int) {
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" {
			out = append(out, s)
		}
		start = end
	}
	for i, r := range runes {
		switch r {
		case '\n', '\r':
			emit(i + 1)
		case '.', '!', '?', ';':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				emit(i + 1)
			}
		}
	}
	if start < len(runes) {
		emit(len(runes))
	}
	return out
}

var stopwords = toTermSet([]string{
	"a", "about", "above", "after", "again", "against", "all", "also", "am", "an", "and",
	"any", "are", "as", "at", "be", "because", "been", "being", "between", "both", "but",
	"by", "can", "could", "did", "do", "does", "doing", "down", "during", "each", "either",
	"etc", "few", "for", "from", "further", "had", "has", "have", "having", "he", "her",
	"here", "hers", "herself", "him", "himself", "his", "how", "however", "i", "if", "in",
	"into", "is", "it", "its", "itself", "just", "may", "me", "might", "more", "most",
	"must", "my", "myself", "no", "nor", "not", "now", "of", "off", "on", "once", "only",
	"or", "other", "our", "ours", "ourselves", "out", "over", "own", "per", "same", "shall",
	"she", "should", "so", "some", "such", "than", "that", "the", "their", "theirs", "them",
	"themselves", "then", "there", "these", "they", "this", "those", "through", "thus",
	"to", "too", "under", "until", "up", "upon", "us", "very", "via", "was", "we", "were",
	"what", "when", "where", "which", "while", "who", "whom", "why", "will", "with",
	"within", "would", "yes", "yet", "you", "your", "yours", "yourself", "yourselves",
	"cannot", "without", "never", "none", "nothing", "according", "based", "context",
	"document", "documents", "answer", "question",
})
