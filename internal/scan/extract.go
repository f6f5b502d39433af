package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jackzampolin/magicscan/internal/config"
	"github.com/jackzampolin/magicscan/internal/merge"
	"github.com/jackzampolin/magicscan/internal/normalize"
	"github.com/jackzampolin/magicscan/internal/parse"
	"github.com/jackzampolin/magicscan/internal/prompts"
	"github.com/jackzampolin/magicscan/internal/providers"
	"github.com/jackzampolin/magicscan/internal/types"
)

// BatchResult holds one entry per input document, in input order.
type BatchResult struct {
	Results   []types.ExtractionResult `json:"results"`
	Sections  []string                 `json:"sections"`
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
	Skipped   int                      `json:"skipped"`
	Duration  time.Duration            `json:"duration"`
}

// ExtractValues reads the requested sections from every source.
//
// Configuration problems are returned as errors before any document is
// touched. Everything after that is reported per document: the batch always
// has exactly one entry per source, and each entry has exactly one value per
// requested section. Documents run concurrently up to the smaller of
// cfg.PoolSize and the backend's MaxConcurrency; pages within a document run
// in order. When ctx is cancelled the documents in flight fail with
// "cancelled" and those not yet started are marked skipped.
func (s *Scanner) ExtractValues(ctx context.Context, srcs []normalize.Source, set types.SectionSet, cfg types.BackendConfig) (*BatchResult, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if set.Len() == 0 {
		return nil, ErrNoSections
	}

	start := time.Now()
	batch := &BatchResult{
		Results:  make([]types.ExtractionResult, len(srcs)),
		Sections: set.Names(),
	}
	defer func() { batch.Duration = time.Since(start) }()

	backend, err := s.backend(cfg)
	if err != nil {
		reason := fmt.Sprintf("backend unavailable: %v", err)
		for i, src := range srcs {
			batch.Results[i] = failed(src.DisplayName(), set, reason)
		}
		batch.tally()
		return batch, nil
	}

	workers := workerCount(cfg, backend)
	s.logger.Info("extraction started",
		"documents", len(srcs),
		"sections", set.Len(),
		"backend", backend.Name(),
		"workers", workers)

	sem := semaphore.NewWeighted(int64(workers))
	var g errgroup.Group
	started := make([]bool, len(srcs))

	for i, src := range srcs {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		// Acquire can win the race against a cancel that already happened.
		if ctx.Err() != nil {
			sem.Release(1)
			break
		}
		started[i] = true

		g.Go(func() error {
			defer sem.Release(1)
			batch.Results[i] = s.extractOne(ctx, backend, src, set, cfg)
			return nil
		})
	}
	_ = g.Wait()

	for i, src := range srcs {
		if !started[i] {
			res := types.FailedResult(src.DisplayName(), set, types.StatusSkipped, ErrCancelled.Error())
			res.State = string(StateSkipped)
			batch.Results[i] = res
		}
	}

	batch.tally()
	s.logger.Info("extraction finished",
		"documents", len(srcs),
		"succeeded", batch.Succeeded,
		"failed", batch.Failed,
		"skipped", batch.Skipped,
		"duration", time.Since(start))
	return batch, nil
}

func (b *BatchResult) tally() {
	b.Succeeded, b.Failed, b.Skipped = 0, 0, 0
	for _, r := range b.Results {
		switch r.Status {
		case types.StatusSuccess:
			b.Succeeded++
		case types.StatusSkipped:
			b.Skipped++
		default:
			b.Failed++
		}
	}
}

// workerCount bounds document concurrency by both the configured pool and
// what the backend accepts. A local model always yields 1.
func workerCount(cfg types.BackendConfig, backend providers.VisionBackend) int {
	n := providers.ClampPoolSize(cfg.PoolSize)
	if m := backend.MaxConcurrency(); m < n {
		n = m
	}
	if n < 1 {
		n = 1
	}
	return n
}

func failed(name string, set types.SectionSet, reason string) types.ExtractionResult {
	res := types.FailedResult(name, set, types.StatusError, reason)
	res.State = string(StateFailed)
	return res
}

// extractOne runs a single document through the pipeline. It never returns
// an error: failures become an error entry.
func (s *Scanner) extractOne(ctx context.Context, backend providers.VisionBackend, src normalize.Source, set types.SectionSet, cfg types.BackendConfig) types.ExtractionResult {
	name := src.DisplayName()
	run := newDocRun(name, s.logger, s.onTransition)

	fail := func(stage string, err error) types.ExtractionResult {
		run.fail()
		reason := fmt.Sprintf("%s: %v", stage, err)
		if ctx.Err() != nil {
			reason = ErrCancelled.Error()
		}
		s.logger.Warn("document failed", "document", name, "stage", stage, "error", err)
		return failed(name, set, reason)
	}

	doc, err := s.normalizer.Normalize(ctx, src, cfg.RenderDPI)
	if err != nil {
		return fail("normalize", err)
	}
	defer s.cleanup(doc)
	name = doc.Name
	_ = run.advance(StateLoaded)

	pages, routed, err := s.selectPages(ctx, backend, cfg, doc)
	if err != nil {
		return fail("routing", err)
	}

	expert := cfg.Expert()
	if cfg.SanitizeExpert {
		expert = prompts.SanitizeExpert(expert)
	}

	type reply struct {
		info callInfo
		res  *providers.GenerateResult
	}
	replies := make([]reply, 0, len(pages))
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return fail("extract", err)
		}
		info := callInfo{doc: doc, page: page.Number, promptKey: prompts.ExtractionKey}
		res, err := s.generate(ctx, backend, cfg, page, prompts.BuildExtractionPrompt(page, set, expert), info)
		if err != nil {
			return fail(fmt.Sprintf("page %d", page.Number), err)
		}
		replies = append(replies, reply{info: info, res: res})
	}
	_ = run.advance(StatePagesExtracted)

	var records []types.ExtractionRecord
	warnings := 0
	for _, rp := range replies {
		parsed := parse.ParseExtractions(rp.res.Text)
		pageWarnings := parsed.Warnings
		for _, rec := range parsed.Records {
			if !set.Contains(rec.Section) {
				pageWarnings++
				continue
			}
			rec.SourcePage = rp.info.page
			rec.SourceDocument = doc.Name
			records = append(records, rec)
		}
		warnings += pageWarnings
		s.record(rp.res, nil, rp.info, pageWarnings)
	}
	_ = run.advance(StateRecordsCollected)

	opts := merge.Options{}
	if doc.IsPDF() {
		opts.MinConfidence = cfg.MinConfidence
	}
	values := merge.Merge(records, set, opts)
	_ = run.advance(StateMerged)

	res := types.ExtractionResult{
		Document:      doc.Name,
		Sections:      values,
		Status:        types.StatusSuccess,
		PagesScanned:  len(pages),
		TotalPages:    doc.TotalPages,
		Truncated:     doc.Truncated,
		ParseWarnings: warnings,
	}
	if routed {
		res.PagesSkipped = len(doc.Pages) - len(pages)
	}
	for _, sec := range set.Names() {
		if values[sec].Found {
			res.SectionsFound = append(res.SectionsFound, sec)
		} else {
			res.SectionsMissing = append(res.SectionsMissing, sec)
		}
	}
	_ = run.advance(StateDone)
	res.State = string(run.state)

	s.logger.Info("document extracted",
		"document", doc.Name,
		"pages", len(pages),
		"found", len(res.SectionsFound),
		"missing", len(res.SectionsMissing),
		"warnings", warnings)
	return res
}

// selectPages applies page routing when an include or exclude filter is set.
// A routing call that fails keeps the page. routed reports whether routing ran.
func (s *Scanner) selectPages(ctx context.Context, backend providers.VisionBackend, cfg types.BackendConfig, doc *types.Document) ([]types.Page, bool, error) {
	prompt := prompts.BuildRoutingPrompt(cfg.PageInclude, cfg.PageExclude)
	if prompt == "" {
		return doc.Pages, false, nil
	}

	var keep []types.Page
	for _, page := range doc.Pages {
		if err := ctx.Err(); err != nil {
			return nil, true, err
		}
		info := callInfo{doc: doc, page: page.Number, promptKey: prompts.RoutingKey}
		res, err := s.generate(ctx, backend, cfg, page, prompt, info)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, true, err
			}
			keep = append(keep, page)
			continue
		}
		s.record(res, nil, info, 0)
		if prompts.ParseRoutingAnswer(res.Text) {
			keep = append(keep, page)
		} else {
			s.logger.Debug("page skipped by routing", "document", doc.Name, "page", page.Number)
		}
	}
	return keep, true, nil
}
