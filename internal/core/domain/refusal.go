package domain

import (
	"fmt"
	"strings"
)

type RefusalReason string

const (
	RefusalNoEvidence           RefusalReason = "NO_EVIDENCE"
	RefusalLowSimilarity        RefusalReason = "LOW_SIMILARITY"
	RefusalLowConfidence        RefusalReason = "LOW_CONFIDENCE"
	RefusalContradictorySources RefusalReason = "CONTRADICTORY_SOURCES"
	RefusalSpeculativeLanguage  RefusalReason = "SPECULATIVE_LANGUAGE"
	RefusalUnsupportedClaim     RefusalReason = "UNSUPPORTED_CLAIM"
)

func ParseRefusalReason(raw string) (RefusalReason, error) {
	switch v := RefusalReason(strings.ToUpper(strings.TrimSpace(raw))); v {
	case RefusalNoEvidence, RefusalLowSimilarity, RefusalLowConfidence,
		RefusalContradictorySources, RefusalSpeculativeLanguage, RefusalUnsupportedClaim:
		return v, nil
	case "SPECULATIVE_ANSWER":
		return RefusalSpeculativeLanguage, nil
	default:
		return "", fmt.Errorf("unknown refusal reason %q", raw)
	}
}

func (r RefusalReason) Message() string {
	switch r {
	case RefusalNoEvidence:
		return "No accessible documents contain information relevant to this question."
	case RefusalLowSimilarity:
		return "The closest matching documents are not similar enough to the question to answer reliably."
	case RefusalLowConfidence:
		return "The generated answer is not supported strongly enough by the retrieved documents."
	case RefusalContradictorySources:
		return "The retrieved documents contain conflicting statements on this topic."
	case RefusalSpeculativeLanguage:
		return "The generated answer relies on speculative language rather than documented facts."
	case RefusalUnsupportedClaim:
		return "The generated answer contains claims that cannot be traced to any retrieved document."
	default:
		return "The question could not be answered from the available evidence."
	}
}
