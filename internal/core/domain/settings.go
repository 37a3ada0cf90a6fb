package domain

import (
	"fmt"
	"time"
)

// AnalysisSettings tunes the lexical heuristics used by scoring and refusal.
type AnalysisSettings struct {
	SpeculativeMarkers          []string
	SpeculationDensityThreshold float64
	NegationTerms               []string
	NegationWindow              int
	AntonymPairs                [][2]string
	ContradictionMinSharedTerms int
	ClaimMinTerms               int
	ClaimSupportRatio           float64
	NGramSize                   int
}

// PipelineSettings is the immutable configuration threaded through every
// pipeline stage. It is passed by value and never read from globals.
type PipelineSettings struct {
	TopK                 int
	MaxTopK              int
	SimilarityThreshold  float64
	ConfidenceThreshold  float64
	OverFetchFactor      int
	OverFetchExtra       int
	MaxChunksPerDocument int
	EmbeddingDimension   int
	ExcerptChars         int
	MaxContextChars      int
	EmbedTimeout         time.Duration
	GenerateTimeout      time.Duration
	Weights              Weights
	Analysis             AnalysisSettings
}

func DefaultAnalysisSettings() AnalysisSettings {
	return AnalysisSettings{
		SpeculativeMarkers: []string{
			"it is possible that", "it is likely that", "it seems", "it appears",
			"i think", "i believe", "i guess", "not sure", "could be", "might",
			"possibly", "perhaps", "probably", "likely", "maybe",
			"presumably", "apparently", "seemingly", "conceivably", "supposedly",
		},
		SpeculationDensityThreshold: 0.15,
		NegationTerms: []string{
			"not", "no", "never", "none", "nor", "cannot", "without",
			"neither", "nothing", "nowhere", "false",
		},
		// Tokens either side of a term that a negation must fall within.
		NegationWindow: 3,
		AntonymPairs: [][2]string{
			{"increase", "decrease"}, {"increased", "decreased"}, {"increases", "decreases"},
			{"enabled", "disabled"}, {"enable", "disable"}, {"allowed", "prohibited"},
			{"permitted", "forbidden"}, {"approved", "rejected"}, {"pass", "fail"},
			{"passed", "failed"}, {"safe", "unsafe"}, {"valid", "invalid"},
			{"above", "below"}, {"higher", "lower"}, {"open", "closed"},
			{"required", "optional"}, {"success", "failure"}, {"true", "false"},
			{"nominal", "anomalous"}, {"before", "after"},
		},
		ContradictionMinSharedTerms: 2,
		ClaimMinTerms:               2,
		ClaimSupportRatio:           0.5,
		NGramSize:                   3,
	}
}

func DefaultPipelineSettings() PipelineSettings {
	return PipelineSettings{
		TopK:                 5,
		MaxTopK:              50,
		SimilarityThreshold:  0.7,
		ConfidenceThreshold:  0.7,
		OverFetchFactor:      3,
		OverFetchExtra:       10,
		MaxChunksPerDocument: 1,
		EmbeddingDimension:   768,
		ExcerptChars:         300,
		MaxContextChars:      12000,
		EmbedTimeout:         15 * time.Second,
		GenerateTimeout:      90 * time.Second,
		Weights:              DefaultWeights(),
		Analysis:             DefaultAnalysisSettings(),
	}
}

func (s PipelineSettings) Validate() error {
	invalid := func(format string, args ...any) error {
		return WrapError(ErrInvalidConfig, "validate pipeline settings", fmt.Errorf(format, args...))
	}
	if err := s.Weights.Validate(); err != nil {
		return err
	}
	if s.TopK <= 0 {
		return invalid("top_k must be positive, got %d", s.TopK)
	}
	if s.MaxTopK < s.TopK {
		return invalid("max_top_k %d is below top_k %d", s.MaxTopK, s.TopK)
	}
	if !inUnitInterval(s.SimilarityThreshold) {
		return invalid("similarity threshold %v outside [0,1]", s.SimilarityThreshold)
	}
	if !inUnitInterval(s.ConfidenceThreshold) {
		return invalid("confidence threshold %v outside [0,1]", s.ConfidenceThreshold)
	}
	if s.OverFetchFactor < 1 || s.OverFetchExtra < 0 {
		return invalid("over-fetch factor must be >= 1 and extra >= 0")
	}
	if s.MaxChunksPerDocument < 1 {
		return invalid("max chunks per document must be >= 1")
	}
	if s.EmbeddingDimension <= 0 {
		return invalid("embedding dimension must be positive")
	}
	a := s.Analysis
	if a.SpeculationDensityThreshold < 0 {
		return invalid("speculation density threshold must be >= 0")
	}
	if a.ContradictionMinSharedTerms < 1 || a.ClaimMinTerms < 1 || a.NGramSize < 1 || a.NegationWindow < 1 {
		return invalid("analysis term counts must be >= 1")
	}
	if !inUnitInterval(a.ClaimSupportRatio) {
		return invalid("claim support ratio %v outside [0,1]", a.ClaimSupportRatio)
	}
	return nil
}

// FetchSize is the number of candidates requested from the index for k results.
func (s PipelineSettings) FetchSize(k int) int {
	return max(k*s.OverFetchFactor, k+s.OverFetchExtra)
}

func inUnitInterval(v float64) bool {
	return v >= 0 && v <= 1
}
