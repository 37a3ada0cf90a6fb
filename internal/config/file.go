package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/evident/internal/core/domain"
)

// pipelineFile mirrors PipelineSettings for YAML. Absent keys keep the
// defaults, so every field is a pointer or a nil-able slice.
type pipelineFile struct {
	TopK                 *int            `yaml:"top_k"`
	MaxTopK              *int            `yaml:"max_top_k"`
	SimilarityThreshold  *float64        `yaml:"similarity_threshold"`
	ConfidenceThreshold  *float64        `yaml:"confidence_threshold"`
	OverFetchFactor      *int            `yaml:"over_fetch_factor"`
	OverFetchExtra       *int            `yaml:"over_fetch_extra"`
	MaxChunksPerDocument *int            `yaml:"max_chunks_per_document"`
	EmbeddingDimension   *int            `yaml:"embedding_dimension"`
	ExcerptChars         *int            `yaml:"excerpt_chars"`
	MaxContextChars      *int            `yaml:"max_context_chars"`
	EmbedTimeout         *string         `yaml:"embed_timeout"`
	GenerateTimeout      *string         `yaml:"generate_timeout"`
	Weights              *domain.Weights `yaml:"weights"`
	Analysis             *analysisFile   `yaml:"analysis"`
}

type analysisFile struct {
	SpeculativeMarkers          []string   `yaml:"speculative_markers"`
	SpeculationDensityThreshold *float64   `yaml:"speculation_density_threshold"`
	NegationTerms               []string   `yaml:"negation_terms"`
	NegationWindow              *int       `yaml:"negation_window"`
	AntonymPairs                [][]string `yaml:"antonym_pairs"`
	ContradictionMinSharedTerms *int       `yaml:"contradiction_min_shared_terms"`
	ClaimMinTerms               *int       `yaml:"claim_min_terms"`
	ClaimSupportRatio           *float64   `yaml:"claim_support_ratio"`
	NGramSize                   *int       `yaml:"ngram_size"`
}

func loadPipelineFile(path string, base domain.PipelineSettings) (domain.PipelineSettings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, domain.WrapError(domain.ErrInvalidConfig, "read pipeline config", err)
	}
	return parsePipelineYAML(raw, base)
}

func parsePipelineYAML(raw []byte, base domain.PipelineSettings) (domain.PipelineSettings, error) {
	// Weights decode on top of the current values so a partial block works.
	weights := base.Weights
	file := pipelineFile{Weights: &weights}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return base, domain.WrapError(domain.ErrInvalidConfig, "parse pipeline config", err)
	}

	s := base
	setInt(&s.TopK, file.TopK)
	setInt(&s.MaxTopK, file.MaxTopK)
	setFloat(&s.SimilarityThreshold, file.SimilarityThreshold)
	setFloat(&s.ConfidenceThreshold, file.ConfidenceThreshold)
	setInt(&s.OverFetchFactor, file.OverFetchFactor)
	setInt(&s.OverFetchExtra, file.OverFetchExtra)
	setInt(&s.MaxChunksPerDocument, file.MaxChunksPerDocument)
	setInt(&s.EmbeddingDimension, file.EmbeddingDimension)
	setInt(&s.ExcerptChars, file.ExcerptChars)
	setInt(&s.MaxContextChars, file.MaxContextChars)
	if err := setDuration(&s.EmbedTimeout, file.EmbedTimeout); err != nil {
		return base, err
	}
	if err := setDuration(&s.GenerateTimeout, file.GenerateTimeout); err != nil {
		return base, err
	}
	s.Weights = weights

	if a := file.Analysis; a != nil {
		if a.SpeculativeMarkers != nil {
			s.Analysis.SpeculativeMarkers = a.SpeculativeMarkers
		}
		if a.NegationTerms != nil {
			s.Analysis.NegationTerms = a.NegationTerms
		}
		if a.AntonymPairs != nil {
			pairs := make([][2]string, 0, len(a.AntonymPairs))
			for _, p := range a.AntonymPairs {
				if len(p) != 2 {
					return base, domain.WrapError(domain.ErrInvalidConfig, "parse pipeline config",
						fmt.Errorf("antonym pair %v must have exactly two terms", p))
				}
				pairs = append(pairs, [2]string{p[0], p[1]})
			}
			s.Analysis.AntonymPairs = pairs
		}
		setFloat(&s.Analysis.SpeculationDensityThreshold, a.SpeculationDensityThreshold)
		setInt(&s.Analysis.ContradictionMinSharedTerms, a.ContradictionMinSharedTerms)
		setInt(&s.Analysis.ClaimMinTerms, a.ClaimMinTerms)
		setFloat(&s.Analysis.ClaimSupportRatio, a.ClaimSupportRatio)
		setInt(&s.Analysis.NGramSize, a.NGramSize)
		setInt(&s.Analysis.NegationWindow, a.NegationWindow)
	}
	return s, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidConfig, "parse pipeline config", err)
	}
	*dst = d
	return nil
}
