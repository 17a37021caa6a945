package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"loom/internal/pipeline"
	"loom/internal/services"
)

type fakeProvider struct {
	name     string
	response string
	err      error

	lastSystem string
	lastUser   string
	calls      int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestSummarizerProcess(t *testing.T) {
	provider := &fakeProvider{
		name:     "primary",
		response: `{"summary":"A short note.","keywords":["Note "," BRIEF"]}`,
	}
	summarizer := NewSummarizer(ProviderSet{Primary: provider}, nil)

	raw, err := summarizer.Process(context.Background(), pipeline.Request{
		ItemID:     1,
		PayloadRef: "note-1",
		Payload:    "Remember the milk.",
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	var result SummaryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Summary != "A short note." {
		t.Fatalf("unexpected summary %q", result.Summary)
	}
	if len(result.Keywords) != 2 || result.Keywords[0] != "note" || result.Keywords[1] != "brief" {
		t.Fatalf("keywords not normalized: %v", result.Keywords)
	}
	if !strings.Contains(provider.lastUser, "Remember the milk.") {
		t.Fatal("payload missing from user prompt")
	}
	if !strings.Contains(provider.lastUser, "note-1") {
		t.Fatal("payload reference missing from user prompt")
	}
}

func TestSummarizerRejectsEmptySummary(t *testing.T) {
	provider := &fakeProvider{name: "primary", response: `{"summary":"","keywords":["x"]}`}
	summarizer := NewSummarizer(ProviderSet{Primary: provider}, nil)

	_, err := summarizer.Process(context.Background(), pipeline.Request{ItemID: 1, Payload: "text"})
	if !errors.Is(err, services.ErrSchemaInvalid) {
		t.Fatalf("expected schema-invalid error, got %v", err)
	}
}

func TestStrictHintTightensPrompt(t *testing.T) {
	provider := &fakeProvider{name: "primary", response: `{"summary":"ok","keywords":["k"]}`}
	summarizer := NewSummarizer(ProviderSet{Primary: provider}, nil)

	if _, err := summarizer.Process(context.Background(), pipeline.Request{ItemID: 1, Payload: "text", StrictHint: true}); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if !strings.Contains(provider.lastSystem, "No prose") {
		t.Fatal("strict addendum missing from system prompt")
	}

	provider.lastSystem = ""
	if _, err := summarizer.Process(context.Background(), pipeline.Request{ItemID: 1, Payload: "text"}); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if strings.Contains(provider.lastSystem, "No prose") {
		t.Fatal("strict addendum should be absent without the hint")
	}
}

func TestFallbackFlagSelectsProvider(t *testing.T) {
	primary := &fakeProvider{name: "primary", response: `{"summary":"ok","keywords":["k"]}`}
	fallback := &fakeProvider{name: "fallback", response: `{"summary":"ok","keywords":["k"]}`}
	summarizer := NewSummarizer(ProviderSet{Primary: primary, Fallback: fallback}, nil)

	if _, err := summarizer.Process(context.Background(), pipeline.Request{ItemID: 1, Payload: "text", UseFallback: true}); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if fallback.calls != 1 || primary.calls != 0 {
		t.Fatalf("expected fallback to take the call, got primary=%d fallback=%d", primary.calls, fallback.calls)
	}
}

func TestFallbackFlagWithoutFallbackUsesPrimary(t *testing.T) {
	primary := &fakeProvider{name: "primary", response: `{"summary":"ok","keywords":["k"]}`}
	summarizer := NewSummarizer(ProviderSet{Primary: primary}, nil)

	if _, err := summarizer.Process(context.Background(), pipeline.Request{ItemID: 1, Payload: "text", UseFallback: true}); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if primary.calls != 1 {
		t.Fatalf("expected primary call, got %d", primary.calls)
	}
}

func TestClassifierUsesSummary(t *testing.T) {
	provider := &fakeProvider{
		name:     "primary",
		response: `{"category":"Technical","confidence":1.4,"reason":" dense spec "}`,
	}
	classifier := NewClassifier(ProviderSet{Primary: provider}, nil)

	raw, err := classifier.Process(context.Background(), pipeline.Request{
		ItemID:  2,
		Payload: "RFC draft",
		Upstream: map[pipeline.Stage]json.RawMessage{
			StageSummarize: json.RawMessage(`{"summary":"An RFC about framing.","keywords":["rfc"]}`),
		},
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	var result ClassifyResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Category != "technical" {
		t.Fatalf("category not normalized: %q", result.Category)
	}
	if result.Confidence != 1 {
		t.Fatalf("confidence not clamped: %v", result.Confidence)
	}
	if !strings.Contains(provider.lastUser, "An RFC about framing.") {
		t.Fatal("summary missing from user prompt")
	}
}

func TestClassifierRejectsUnknownCategory(t *testing.T) {
	provider := &fakeProvider{name: "primary", response: `{"category":"gossip","confidence":0.5}`}
	classifier := NewClassifier(ProviderSet{Primary: provider}, nil)

	_, err := classifier.Process(context.Background(), pipeline.Request{
		ItemID:  2,
		Payload: "text",
		Upstream: map[pipeline.Stage]json.RawMessage{
			StageSummarize: json.RawMessage(`{"summary":"s","keywords":["k"]}`),
		},
	})
	if !errors.Is(err, services.ErrSchemaInvalid) {
		t.Fatalf("expected schema-invalid error, got %v", err)
	}
}

func TestClassifierRequiresSummary(t *testing.T) {
	provider := &fakeProvider{name: "primary", response: `{"category":"other","confidence":0.5}`}
	classifier := NewClassifier(ProviderSet{Primary: provider}, nil)

	_, err := classifier.Process(context.Background(), pipeline.Request{ItemID: 2, Payload: "text"})
	if err == nil {
		t.Fatal("expected error when summarize result missing")
	}
	if provider.calls != 0 {
		t.Fatal("provider must not be called without upstream input")
	}
}

func TestActionExtractorEmptyListIsValid(t *testing.T) {
	provider := &fakeProvider{name: "primary", response: `{"actions":[]}`}
	extractor := NewActionExtractor(ProviderSet{Primary: provider}, nil)

	raw, err := extractor.Process(context.Background(), pipeline.Request{
		ItemID:  3,
		Payload: "nothing to do",
		Upstream: map[pipeline.Stage]json.RawMessage{
			StageSummarize: json.RawMessage(`{"summary":"s","keywords":["k"]}`),
		},
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	var result ActionsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Actions == nil || len(result.Actions) != 0 {
		t.Fatalf("expected empty action list, got %#v", result.Actions)
	}
}

func TestActionExtractorRejectsBadPriority(t *testing.T) {
	provider := &fakeProvider{
		name:     "primary",
		response: `{"actions":[{"description":"do it","priority":"urgent"}]}`,
	}
	extractor := NewActionExtractor(ProviderSet{Primary: provider}, nil)

	_, err := extractor.Process(context.Background(), pipeline.Request{
		ItemID:  3,
		Payload: "text",
		Upstream: map[pipeline.Stage]json.RawMessage{
			StageSummarize: json.RawMessage(`{"summary":"s","keywords":["k"]}`),
		},
	})
	if !errors.Is(err, services.ErrSchemaInvalid) {
		t.Fatalf("expected schema-invalid error, got %v", err)
	}
}

func TestDefaultPipelineShape(t *testing.T) {
	pipe, err := DefaultPipeline(ProviderSet{Primary: &fakeProvider{name: "primary"}}, nil)
	if err != nil {
		t.Fatalf("DefaultPipeline returned error: %v", err)
	}
	stages := pipe.Stages()
	if len(stages) != 3 || stages[0] != StageSummarize {
		t.Fatalf("unexpected stage order %v", stages)
	}
	for _, stage := range []pipeline.Stage{StageClassify, StageActions} {
		ups := pipe.Upstream(stage)
		if len(ups) != 1 || ups[0] != StageSummarize {
			t.Fatalf("stage %s: unexpected upstream %v", stage, ups)
		}
	}
}
