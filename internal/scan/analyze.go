package scan

import (
	"context"
	"fmt"

	"github.com/jackzampolin/magicscan/internal/config"
	"github.com/jackzampolin/magicscan/internal/normalize"
	"github.com/jackzampolin/magicscan/internal/parse"
	"github.com/jackzampolin/magicscan/internal/prompts"
	"github.com/jackzampolin/magicscan/internal/types"
)

// AnalysisResult is the outcome of section detection on one document.
type AnalysisResult struct {
	Document   string           `json:"document"`
	Sections   types.SectionSet `json:"sections"`
	Warnings   int              `json:"parse_warnings"`
	Method     parse.Method     `json:"parse_method"`
	TotalPages int              `json:"total_pages"`
	Truncated  bool             `json:"truncated,omitempty"`
}

// AnalyzeDocument detects the sections of a template document. Only the first
// page is sent to the model. Detected sections are deduplicated by name,
// ignoring case and whitespace; the first spelling is kept.
func (s *Scanner) AnalyzeDocument(ctx context.Context, src normalize.Source, cfg types.BackendConfig) (*AnalysisResult, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	backend, err := s.backend(cfg)
	if err != nil {
		return nil, err
	}

	doc, err := s.normalizer.Normalize(ctx, src, cfg.RenderDPI)
	if err != nil {
		return nil, err
	}
	defer s.cleanup(doc)

	page := doc.Pages[0]
	info := callInfo{doc: doc, page: page.Number, promptKey: prompts.DetectionKey}
	res, err := s.generate(ctx, backend, cfg, page, prompts.BuildDetectionPrompt(page), info)
	if err != nil {
		return nil, fmt.Errorf("section detection failed for %s: %w", doc.Name, err)
	}

	parsed := parse.ParseSections(res.Text)
	s.record(res, nil, info, parsed.Warnings)

	out := &AnalysisResult{
		Document:   doc.Name,
		Warnings:   parsed.Warnings,
		Method:     parsed.Method,
		TotalPages: doc.TotalPages,
		Truncated:  doc.Truncated,
	}
	for _, sec := range parsed.Sections {
		sec.Page = page.Number
		out.Sections.Add(sec)
	}

	s.logger.Info("sections detected",
		"document", doc.Name,
		"sections", out.Sections.Len(),
		"warnings", parsed.Warnings,
		"method", parsed.Method)
	return out, nil
}

func (s *Scanner) cleanup(doc *types.Document) {
	if err := doc.Cleanup(); err != nil {
		s.logger.Warn("failed to remove temp files", "document", doc.Name, "error", err)
	}
}
