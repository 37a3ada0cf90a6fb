package ollama

import (
	"fmt"
	"strings"

	"github.com/kirillkom/evident/internal/core/domain"
)

const cannotAnswerMarker = "NOT_FOUND"

// buildAnswerPrompt lists evidence in rank order and stops adding chunks once
// maxContextChars is reached. The first chunk is always included.
func buildAnswerPrompt(question string, chunks []domain.RetrievedChunk, maxContextChars int) string {
	var contextBuilder strings.Builder
	for idx, chunk := range chunks {
		title := chunk.DocumentTitle
		if title == "" {
			title = chunk.DocumentID
		}
		entry := fmt.Sprintf("[%d] document=%s similarity=%.3f\n%s\n\n", idx+1, title, chunk.Similarity, chunk.Text)
		if idx > 0 && maxContextChars > 0 && contextBuilder.Len()+len(entry) > maxContextChars {
			break
		}
		contextBuilder.WriteString(entry)
	}

	return fmt.Sprintf(`Answer the question using only the numbered context below.
Do not add facts that are not stated in the context. Do not guess.
If the context does not contain the answer, reply with exactly %s and nothing else.

Question:
%s

Context:
%s
`, cannotAnswerMarker, question, contextBuilder.String())
}

func isCannotAnswer(text string) bool {
	trimmed := strings.Trim(strings.TrimSpace(text), ".\"'`")
	return strings.EqualFold(trimmed, cannotAnswerMarker) || strings.HasPrefix(strings.ToUpper(trimmed), cannotAnswerMarker)
}
