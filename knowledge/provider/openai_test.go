package provider

import (
	"errors"
	"strings"
	"testing"

	"github.com/solsticeworks/chatgraph/knowledge"
)

func TestGenerateSchemaCompliance(t *testing.T) {
	t.Parallel()

	schema := generateSchema[entitiesResponse]()

	if schema["type"] != "object" {
		t.Fatalf("type=%v", schema["type"])
	}
	if schema["additionalProperties"] != false {
		t.Fatalf("additionalProperties=%v", schema["additionalProperties"])
	}

	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("properties missing")
	}
	for _, field := range []string{"technologies", "concepts", "people", "resources", "skills"} {
		if _, ok := props[field]; !ok {
			t.Fatalf("missing property %q", field)
		}
	}

	required, ok := schema["required"].([]string)
	if !ok {
		t.Fatalf("required missing or wrong type: %T", schema["required"])
	}
	if len(required) != len(props) {
		t.Fatalf("required=%d properties=%d, strict mode needs all fields required", len(required), len(props))
	}
}

func TestBuildExcerptTruncates(t *testing.T) {
	t.Parallel()

	conv := knowledge.ParsedConversation{
		Title: "Long chat",
		Messages: []knowledge.Message{
			{Role: "user", Content: strings.Repeat("a", 600)},
			{Role: "assistant", Content: "short"},
			{Role: "user", Content: "third"},
		},
	}

	got := buildExcerpt(conv, 2, 500)

	if !strings.HasPrefix(got, "Title: Long chat\n\n") {
		t.Fatalf("missing title header: %q", got[:40])
	}
	if strings.Contains(got, "third") {
		t.Fatalf("excerpt kept a message past the cap")
	}
	if !strings.Contains(got, "User: "+strings.Repeat("a", 500)+"…\n") {
		t.Fatalf("first message not truncated to 500 chars")
	}
	if !strings.Contains(got, "Assistant: short\n") {
		t.Fatalf("assistant line missing: %q", got)
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	if !isRateLimitError(errors.New("429 Too Many Requests")) {
		t.Fatalf("429 not treated as rate limit")
	}
	if !isRateLimitError(errors.New("openai: rate limit exceeded")) {
		t.Fatalf("rate limit text not detected")
	}
	if isRateLimitError(nil) {
		t.Fatalf("nil classified as rate limit")
	}
	if !isServerError(errors.New("500 Internal Server Error")) {
		t.Fatalf("500 not treated as server error")
	}
	if isServerError(errors.New("400 bad request")) {
		t.Fatalf("400 misclassified as server error")
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New("   ", Options{}); err == nil {
		t.Fatalf("expected error for empty API key")
	}

	p, err := New("sk-test", Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != DefaultModel {
		t.Fatalf("model=%q", p.model)
	}
	if p.embeddingModel != DefaultEmbeddingModel {
		t.Fatalf("embeddingModel=%q", p.embeddingModel)
	}
}
