package scan

import (
	"context"
	"encoding/json"

	"github.com/jackzampolin/magicscan/internal/normalize"
	"github.com/jackzampolin/magicscan/internal/types"
)

// AnalyzeDocumentJSON runs AnalyzeDocument on a path or URL and returns the
// result as indented JSON.
func (s *Scanner) AnalyzeDocumentJSON(ctx context.Context, path string, cfg types.BackendConfig) ([]byte, error) {
	res, err := s.AnalyzeDocument(ctx, normalize.Source{Path: path}, cfg)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(res, "", "  ")
}

// ExtractValuesJSON runs ExtractValues over paths and returns the per-document
// results as a JSON array, one element per path in input order.
func (s *Scanner) ExtractValuesJSON(ctx context.Context, paths []string, sections []string, cfg types.BackendConfig) ([]byte, error) {
	srcs := make([]normalize.Source, len(paths))
	for i, p := range paths {
		srcs[i] = normalize.Source{Path: p}
	}
	batch, err := s.ExtractValues(ctx, srcs, types.NewSectionSet(sections...), cfg)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(batch.Results, "", "  ")
}
