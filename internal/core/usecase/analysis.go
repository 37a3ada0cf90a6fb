package usecase

import (
	"sort"
	"strings"

	"github.com/kirillkom/evident/internal/core/domain"
)

// lexicon is the compiled form of AnalysisSettings for one decision.
type lexicon struct {
	markers   [][]string
	negations map[string]struct{}
	antonyms  map[string]string
	settings  domain.AnalysisSettings
}

func newLexicon(settings domain.AnalysisSettings) lexicon {
	lex := lexicon{
		markers:   make([][]string, 0, len(settings.SpeculativeMarkers)),
		negations: toTermSet(settings.NegationTerms),
		antonyms:  make(map[string]string, 2*len(settings.AntonymPairs)),
		settings:  settings,
	}
	for _, m := range settings.SpeculativeMarkers {
		if tokens := tokenize(m); len(tokens) > 0 {
			lex.markers = append(lex.markers, tokens)
		}
	}
	// Longer markers first so "it is possible that" wins over any sub-phrase.
	sort.SliceStable(lex.markers, func(i, j int) bool {
		return len(lex.markers[i]) > len(lex.markers[j])
	})
	for _, pair := range settings.AntonymPairs {
		a, b := strings.ToLower(pair[0]), strings.ToLower(pair[1])
		lex.antonyms[a] = b
		lex.antonyms[b] = a
	}
	return lex
}

// speculationDensity is hedge marker hits per answer sentence.
func (lex lexicon) speculationDensity(answer string) float64 {
	sentences := splitSentences(answer)
	if len(sentences) == 0 {
		return 0
	}
	hits := 0
	for _, s := range sentences {
		hits += lex.countMarkers(tokenize(s))
	}
	return float64(hits) / float64(len(sentences))
}

// countMarkers matches markers on token sequences; each token counts once.
func (lex lexicon) countMarkers(tokens []string) int {
	hits := 0
	for i := 0; i < len(tokens); {
		matched := 0
		for _, marker := range lex.markers {
			if hasTokenPrefix(tokens[i:], marker) {
				matched = len(marker)
				break
			}
		}
		if matched == 0 {
			i++
			continue
		}
		hits++
		i += matched
	}
	return hits
}

func hasTokenPrefix(tokens, prefix []string) bool {
	if len(prefix) > len(tokens) {
		return false
	}
	for i := range prefix {
		if tokens[i] != prefix[i] {
			return false
		}
	}
	return true
}

type statement struct {
	documentID string
	terms      map[string]struct{}
	tokens     map[string]struct{}
	// negated holds the terms with a negation within the window on either side.
	negated map[string]struct{}
}

func (lex lexicon) statement(documentID, sentence string) statement {
	tokens := normalizedTokens(sentence)
	negationAt := make([]int, 0, 2)
	for i, t := range tokens {
		if lex.isNegation(t) {
			negationAt = append(negationAt, i)
		}
	}

	terms := make(map[string]struct{}, len(tokens))
	negated := make(map[string]struct{})
	for i, t := range tokens {
		if !isSalient(t) || lex.isNegation(t) {
			continue
		}
		terms[t] = struct{}{}
		for _, n := range negationAt {
			if abs(n-i) <= lex.settings.NegationWindow {
				negated[t] = struct{}{}
				break
			}
		}
	}
	return statement{
		documentID: documentID,
		terms:      terms,
		tokens:     toTermSet(tokens),
		negated:    negated,
	}
}

func (lex lexicon) isNegation(token string) bool {
	_, ok := lex.negations[token]
	return ok || isNegationContraction(token)
}

// polarityDiffers reports whether a shared term is negated in one statement only.
func polarityDiffers(a, b statement, shared []string) bool {
	for _, t := range shared {
		_, negA := a.negated[t]
		_, negB := b.negated[t]
		if negA != negB {
			return true
		}
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// ContradictionPair identifies two conflicting evidence statements.
type ContradictionPair struct {
	FirstDocumentID  string
	SecondDocumentID string
	SharedTerms      []string
}

// findContradiction looks for two statements from different documents that
// talk about the same query-relevant terms with opposite polarity.
func (lex lexicon) findContradiction(query string, evidence domain.RetrievalResult) (ContradictionPair, bool) {
	queryTerms := toTermSet(salientTerms(query))

	var statements []statement
	for _, c := range evidence.Chunks {
		for _, s := range splitSentences(c.Text) {
			st := lex.statement(c.DocumentID, s)
			if len(st.terms) >= lex.settings.ContradictionMinSharedTerms {
				statements = append(statements, st)
			}
		}
	}

	for i := 0; i < len(statements); i++ {
		for j := i + 1; j < len(statements); j++ {
			a, b := statements[i], statements[j]
			if a.documentID == b.documentID {
				continue
			}
			shared := sharedTerms(a.terms, b.terms, lex.antonyms)
			if len(shared) < lex.settings.ContradictionMinSharedTerms {
				continue
			}
			if len(queryTerms) > 0 && !anyIn(shared, queryTerms) {
				continue
			}
			if polarityDiffers(a, b, shared) || lex.splitAntonym(a, b) {
				return ContradictionPair{
					FirstDocumentID:  a.documentID,
					SecondDocumentID: b.documentID,
					SharedTerms:      shared,
				}, true
			}
		}
	}
	return ContradictionPair{}, false
}

// splitAntonym reports whether one statement uses a term whose antonym appears
// only in the other statement.
func (lex lexicon) splitAntonym(a, b statement) bool {
	for t := range a.tokens {
		opposite, ok := lex.antonyms[t]
		if !ok {
			continue
		}
		if _, inB := b.tokens[opposite]; !inB {
			continue
		}
		_, tInB := b.tokens[t]
		_, oppInA := a.tokens[opposite]
		if !tInB && !oppInA {
			return true
		}
	}
	return false
}

// sharedTerms returns the sorted intersection, ignoring antonym terms so the
// polarity words themselves do not count as shared topic.
func sharedTerms(a, b map[string]struct{}, antonyms map[string]string) []string {
	out := make([]string, 0, 4)
	for t := range a {
		if _, isAntonym := antonyms[t]; isAntonym {
			continue
		}
		if _, ok := b[t]; ok {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func anyIn(terms []string, set map[string]struct{}) bool {
	for _, t := range terms {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// unsupportedClaims returns answer sentences whose salient terms are not
// sufficiently present in any single evidence chunk.
func (lex lexicon) unsupportedClaims(answer string, evidence domain.RetrievalResult) []string {
	chunkTerms := make([]map[string]struct{}, 0, len(evidence.Chunks))
	for _, c := range evidence.Chunks {
		chunkTerms = append(chunkTerms, toTermSet(normalizedTokens(c.Text)))
	}

	var unsupported []string
	for _, sentence := range splitSentences(answer) {
		terms := salientTerms(sentence)
		if len(terms) < lex.settings.ClaimMinTerms {
			continue
		}
		supported := false
		for _, vocabulary := range chunkTerms {
			if fractionPresent(terms, vocabulary) >= lex.settings.ClaimSupportRatio {
				supported = true
				break
			}
		}
		if !supported {
			unsupported = append(unsupported, sentence)
		}
	}
	return unsupported
}
