package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/magicscan/internal/api"
	"github.com/jackzampolin/magicscan/internal/export"
	"github.com/jackzampolin/magicscan/internal/home"
	"github.com/jackzampolin/magicscan/internal/llmcall"
	"github.com/jackzampolin/magicscan/internal/normalize"
	"github.com/jackzampolin/magicscan/internal/prompts"
	"github.com/jackzampolin/magicscan/internal/providers"
	"github.com/jackzampolin/magicscan/internal/scan"
	"github.com/jackzampolin/magicscan/internal/types"
)

var (
	useMock bool

	extractSections     []string
	extractSectionsFile string
	extractExpert       string
	extractPageInclude  string
	extractPageExclude  string
	extractOut          string
	extractXLSX         bool
)

func newRegistry(h *home.Dir, logger *slog.Logger) *providers.Registry {
	opts := providers.BackendOptions{Logger: logger}
	if h != nil {
		opts.ModelsPath = h.ModelsDir()
	}
	return providers.NewRegistry(opts)
}

// mockSections is what the scripted backend reports for a detection call.
var mockSections = []string{"Document Title", "Date", "Total"}

// useMockBackend replaces model calls with scripted replies keyed by prompt
// kind. Detection finds mockSections, extraction answers every requested
// section with a sample value, and every page is relevant.
func useMockBackend(r *providers.Registry) {
	r.SetFactory(func(types.BackendConfig) (providers.VisionBackend, error) {
		mock := providers.NewMockBackend()
		mock.Concurrency = providers.DefaultPoolSize
		mock.Respond = func(req *providers.GenerateRequest, call int) (string, error) {
			return mockReply(req.Prompt), nil
		}
		return mock, nil
	})
}

func mockReply(prompt string) string {
	switch prompts.KindOf(prompt) {
	case prompts.KindDetection:
		secs := make([]map[string]any, len(mockSections))
		for i, name := range mockSections {
			secs[i] = map[string]any{"title": name, "description": "sample", "level": 1, "type": "field"}
		}
		return mustJSON(map[string]any{"sections": secs})
	case prompts.KindRouting:
		return "true"
	default:
		names := requestedSections(prompt)
		values := make([]map[string]any, len(names))
		for i, name := range names {
			values[i] = map[string]any{"section": name, "value": "sample " + name, "confidence": 0.9}
		}
		return mustJSON(map[string]any{"extracted_values": values})
	}
}

// requestedSections reads the "- Name" list under the FIELDS TO EXTRACT
// heading of an extraction prompt.
func requestedSections(prompt string) []string {
	var names []string
	inList := false
	for _, line := range strings.Split(prompt, "\n") {
		switch {
		case strings.HasPrefix(line, "FIELDS TO EXTRACT"):
			inList = true
		case inList && strings.HasPrefix(line, "- "):
			names = append(names, strings.TrimSpace(line[2:]))
		case inList:
			return names
		}
	}
	return names
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// localScanner wires a scanner for one CLI invocation.
func localScanner(h *home.Dir, logger *slog.Logger) (*scan.Scanner, *providers.Registry) {
	registry := newRegistry(h, logger)
	if useMock {
		useMockBackend(registry)
	}
	s := scan.New(scan.Options{
		Backends: registry,
		Recorder: llmcall.NewRecorder(llmcall.NewStore(0)),
		Logger:   logger,
	})
	return s, registry
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file|url>",
	Short: "Detect the sections on a document's first page",
	Long: `Show the first page of a document to the vision model and list the
sections it finds. Use the output to choose what to extract.

Examples:
  magicscan analyze invoice-template.pdf
  magicscan analyze https://example.com/form.png -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		h, err := getHome()
		if err != nil {
			return err
		}
		cm, err := loadConfig(h)
		if err != nil {
			return err
		}

		scanner, registry := localScanner(h, logger)
		defer registry.Close(ctx)

		res, err := scanner.AnalyzeDocument(ctx, normalize.Source{Path: args[0]}, cm.Snapshot())
		if err != nil {
			return err
		}
		return api.Output(res)
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract <files...>",
	Short: "Extract section values from a batch of documents",
	Long: `Extract one value per requested section from every document.

Documents are processed concurrently up to backend.pool_size. A document
that fails is reported with status "error" and does not stop the batch.

In local mode the first call loads the model, which can take minutes when
the image or weights are not cached yet. Run "magicscan runtime start" first
to load it ahead of the batch.

Examples:
  magicscan extract a.pdf b.png -s "Invoice Number" -s Total
  magicscan extract scans/*.pdf --sections-file fields.txt --xlsx
  magicscan extract a.pdf -s Total --out results.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		h, err := getHome()
		if err != nil {
			return err
		}
		cm, err := loadConfig(h)
		if err != nil {
			return err
		}

		names := append([]string(nil), extractSections...)
		if extractSectionsFile != "" {
			data, err := os.ReadFile(extractSectionsFile)
			if err != nil {
				return fmt.Errorf("failed to read sections file: %w", err)
			}
			names = append(names, types.ParseManualSections(string(data))...)
		}
		set := types.NewSectionSet(names...)

		cfg := cm.Snapshot()
		if strings.TrimSpace(extractExpert) != "" {
			cfg.UseExpertInstructions = true
			cfg.ExpertInstructions = extractExpert
		}
		if extractPageInclude != "" {
			cfg.PageInclude = extractPageInclude
		}
		if extractPageExclude != "" {
			cfg.PageExclude = extractPageExclude
		}

		srcs := make([]normalize.Source, len(args))
		for i, a := range args {
			srcs[i] = normalize.Source{Path: a}
		}

		scanner, registry := localScanner(h, logger)
		defer registry.Close(ctx)

		batch, err := scanner.ExtractValues(ctx, srcs, set, cfg)
		if err != nil {
			return err
		}
		logger.Info("batch finished",
			"succeeded", batch.Succeeded,
			"failed", batch.Failed,
			"skipped", batch.Skipped,
			"duration", batch.Duration.Round(time.Millisecond))

		out := extractOut
		if out == "" && extractXLSX {
			out = h.ExportPath("results", "xlsx", time.Now())
		}
		if out != "" {
			if err := export.WriteFile(out, batch.Results, batch.Sections); err != nil {
				return err
			}
			logger.Info("results written", "path", out)
			return nil
		}
		return api.Output(batch.Results)
	},
}

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, extractCmd} {
		c.Flags().BoolVar(&useMock, "mock", false, "Use a scripted backend instead of a model")
	}

	extractCmd.Flags().StringArrayVarP(&extractSections, "section", "s", nil, "Section to extract (repeatable; commas are kept)")
	extractCmd.Flags().StringVar(&extractSectionsFile, "sections-file", "", "File listing sections, one per line or comma separated")
	extractCmd.Flags().StringVar(&extractExpert, "expert", "", "Expert instructions appended to the extraction prompt")
	extractCmd.Flags().StringVar(&extractPageInclude, "page-include", "", "Only extract pages matching this description")
	extractCmd.Flags().StringVar(&extractPageExclude, "page-exclude", "", "Skip pages matching this description")
	extractCmd.Flags().StringVar(&extractOut, "out", "", "Write results to this file (.xlsx or .json)")
	extractCmd.Flags().BoolVar(&extractXLSX, "xlsx", false, "Write an .xlsx workbook to the exports directory")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(extractCmd)
}
