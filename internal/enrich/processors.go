package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"loom/internal/logging"
	"loom/internal/pipeline"
	"loom/internal/services/llm"
)

// Stage names of the default enrichment pipeline.
const (
	StageSummarize = pipeline.Stage("summarize")
	StageClassify  = pipeline.Stage("classify")
	StageActions   = pipeline.Stage("actions")
)

// DefaultPipeline wires the standard three-stage enrichment graph:
// summarize runs first, classify and actions both consume its output.
func DefaultPipeline(providers ProviderSet, logger *slog.Logger) (*pipeline.Pipeline, error) {
	return pipeline.New(
		pipeline.Definition{
			Name:      StageSummarize,
			Processor: NewSummarizer(providers, logger),
		},
		pipeline.Definition{
			Name:      StageClassify,
			Upstream:  []pipeline.Stage{StageSummarize},
			Processor: NewClassifier(providers, logger),
		},
		pipeline.Definition{
			Name:      StageActions,
			Upstream:  []pipeline.Stage{StageSummarize},
			Processor: NewActionExtractor(providers, logger),
		},
	)
}

// Summarizer produces a summary and keywords from the raw payload.
type Summarizer struct {
	providers ProviderSet
	logger    *slog.Logger
}

// NewSummarizer constructs the summarize stage processor.
func NewSummarizer(providers ProviderSet, logger *slog.Logger) *Summarizer {
	return &Summarizer{providers: providers, logger: componentLogger(logger, StageSummarize)}
}

// Process implements pipeline.Processor.
func (s *Summarizer) Process(ctx context.Context, req pipeline.Request) (json.RawMessage, error) {
	prompt := buildStagePrompt(summarizePrompt, req.StrictHint)
	content, err := complete(ctx, s.logger, s.providers, req, prompt, documentPrompt(req))
	if err != nil {
		return nil, err
	}
	var result SummaryResult
	if err := llm.DecodeValidatedJSON(content, &result); err != nil {
		return nil, err
	}
	return marshalResult(&result)
}

// Classifier assigns a category using the summarize stage's output.
type Classifier struct {
	providers ProviderSet
	logger    *slog.Logger
}

// NewClassifier constructs the classify stage processor.
func NewClassifier(providers ProviderSet, logger *slog.Logger) *Classifier {
	return &Classifier{providers: providers, logger: componentLogger(logger, StageClassify)}
}

// Process implements pipeline.Processor.
func (c *Classifier) Process(ctx context.Context, req pipeline.Request) (json.RawMessage, error) {
	userPrompt, err := promptWithSummary(req)
	if err != nil {
		return nil, err
	}
	prompt := buildStagePrompt(classifyPrompt, req.StrictHint)
	content, err := complete(ctx, c.logger, c.providers, req, prompt, userPrompt)
	if err != nil {
		return nil, err
	}
	var result ClassifyResult
	if err := llm.DecodeValidatedJSON(content, &result); err != nil {
		return nil, err
	}
	return marshalResult(&result)
}

// ActionExtractor pulls action items using the summarize stage's output.
type ActionExtractor struct {
	providers ProviderSet
	logger    *slog.Logger
}

// NewActionExtractor constructs the actions stage processor.
func NewActionExtractor(providers ProviderSet, logger *slog.Logger) *ActionExtractor {
	return &ActionExtractor{providers: providers, logger: componentLogger(logger, StageActions)}
}

// Process implements pipeline.Processor.
func (a *ActionExtractor) Process(ctx context.Context, req pipeline.Request) (json.RawMessage, error) {
	userPrompt, err := promptWithSummary(req)
	if err != nil {
		return nil, err
	}
	prompt := buildStagePrompt(actionsPrompt, req.StrictHint)
	content, err := complete(ctx, a.logger, a.providers, req, prompt, userPrompt)
	if err != nil {
		return nil, err
	}
	var result ActionsResult
	if err := llm.DecodeValidatedJSON(content, &result); err != nil {
		return nil, err
	}
	return marshalResult(&result)
}

func componentLogger(logger *slog.Logger, stage pipeline.Stage) *slog.Logger {
	if logger == nil {
		return logging.NewNop()
	}
	return logger.With(logging.String(logging.FieldStage, string(stage)))
}

func complete(ctx context.Context, logger *slog.Logger, providers ProviderSet, req pipeline.Request, systemPrompt, userPrompt string) (string, error) {
	provider := providers.Pick(req.UseFallback)
	if provider == nil {
		return "", fmt.Errorf("no completion provider configured")
	}
	logger.DebugContext(ctx, "requesting completion",
		logging.Int64(logging.FieldItemID, req.ItemID),
		logging.String("provider", provider.Name()),
		logging.Bool("strict", req.StrictHint),
	)
	return provider.CompleteJSON(ctx, systemPrompt, userPrompt)
}

func buildStagePrompt(base string, strict bool) string {
	if strict {
		return base + strictAddendum
	}
	return base
}

func documentPrompt(req pipeline.Request) string {
	var b strings.Builder
	if ref := strings.TrimSpace(req.PayloadRef); ref != "" {
		b.WriteString("Document reference: ")
		b.WriteString(ref)
		b.WriteString("\n\n")
	}
	b.WriteString(req.Payload)
	return b.String()
}

func promptWithSummary(req pipeline.Request) (string, error) {
	raw, ok := req.Upstream[StageSummarize]
	if !ok {
		return "", fmt.Errorf("summarize result missing for item %d", req.ItemID)
	}
	var summary SummaryResult
	if err := json.Unmarshal(raw, &summary); err != nil {
		return "", fmt.Errorf("decode summarize result for item %d: %w", req.ItemID, err)
	}

	var b strings.Builder
	b.WriteString("Summary: ")
	b.WriteString(summary.Summary)
	if len(summary.Keywords) > 0 {
		b.WriteString("\nKeywords: ")
		b.WriteString(strings.Join(summary.Keywords, ", "))
	}
	b.WriteString("\n\nDocument:\n")
	b.WriteString(documentPrompt(req))
	return b.String(), nil
}

func marshalResult(result any) (json.RawMessage, error) {
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode stage result: %w", err)
	}
	return encoded, nil
}
