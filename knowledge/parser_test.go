package knowledge

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func strPtr(s string) *string { return &s }
func f64Ptr(f float64) *float64 { return &f }

func msgNode(id, parent, role string, children []string, parts ...any) MappingNode {
	return MappingNode{
		ID:       id,
		Message:  &RawMessage{Author: RawAuthor{Role: role}, Content: RawContent{ContentType: "text", Parts: parts}},
		Parent:   strPtr(parent),
		Children: children,
	}
}

// fourPairConversation builds a root with four alternating user/assistant
// exchanges along the first-child spine plus one abandoned edit branch.
func fourPairConversation() RawConversation {
	return RawConversation{
		ConversationID: "conv-1",
		Title:          "Testing Go generics",
		CreateTime:     f64Ptr(1700000000),
		CurrentNode:    "a4",
		Mapping: map[string]MappingNode{
			clientCreatedRootID: {ID: clientCreatedRootID, Children: []string{"u1"}},
			"u1":                msgNode("u1", clientCreatedRootID, "user", []string{"a1", "u1-edit"}, "how do generics work?"),
			"u1-edit":           msgNode("u1-edit", clientCreatedRootID, "user", nil, "abandoned edit"),
			"a1":                msgNode("a1", "u1", "assistant", []string{"u2"}, "type parameters"),
			"u2":                msgNode("u2", "a1", "user", []string{"a2"}, "show an example"),
			"a2":                msgNode("a2", "u2", "assistant", []string{"u3"}, "func Map[T any](...)"),
			"u3":                msgNode("u3", "a2", "user", []string{"a3"}, "what about constraints?"),
			"a3":                msgNode("a3", "u3", "assistant", []string{"u4"}, "interfaces as type sets"),
			"u4":                msgNode("u4", "a3", "user", []string{"a4"}, "thanks, that worked"),
			"a4":                msgNode("a4", "u4", "assistant", nil, "glad to help"),
		},
	}
}

func TestParseConversationsMainThread(t *testing.T) {
	t.Parallel()

	out := ParseConversations([]RawConversation{fourPairConversation()}, ParseOptions{Log: quietLogger()})
	if len(out) != 1 {
		t.Fatalf("parsed %d conversations, want 1", len(out))
	}

	conv := out[0]
	if conv.ID != "conv-1" {
		t.Fatalf("id=%q", conv.ID)
	}
	if conv.Title != "Testing Go generics" {
		t.Fatalf("title=%q", conv.Title)
	}
	if conv.MessageCount != 8 || len(conv.Messages) != 8 {
		t.Fatalf("messages=%d count=%d, want 8", len(conv.Messages), conv.MessageCount)
	}
	if conv.Timestamp.Unix() != 1700000000 {
		t.Fatalf("timestamp=%v", conv.Timestamp)
	}

	wantRoles := []string{"user", "assistant", "user", "assistant", "user", "assistant", "user", "assistant"}
	for i, m := range conv.Messages {
		if m.Role != wantRoles[i] {
			t.Fatalf("message %d role=%q want %q", i, m.Role, wantRoles[i])
		}
	}
	if conv.Messages[0].Content != "how do generics work?" {
		t.Fatalf("first message=%q", conv.Messages[0].Content)
	}
	for _, m := range conv.Messages {
		if strings.Contains(m.Content, "abandoned edit") {
			t.Fatalf("alternate branch leaked into main thread")
		}
	}
}

func TestParseConversationsDropsEmptyAndSystem(t *testing.T) {
	t.Parallel()

	raw := []RawConversation{
		{
			ConversationID: "only-system",
			Mapping: map[string]MappingNode{
				"root": {ID: "root", Children: []string{"s1"}},
				"s1":   msgNode("s1", "root", "system", []string{"t1"}, "system prompt"),
				"t1":   msgNode("t1", "s1", "tool", []string{"u1"}, "tool output"),
				"u1":   msgNode("u1", "t1", "user", nil, "   "),
			},
		},
		{
			ConversationID: "has-content",
			Mapping: map[string]MappingNode{
				"root": {ID: "root", Children: []string{"u1"}},
				"u1":   msgNode("u1", "root", "user", nil, "hello"),
			},
		},
	}

	out := ParseConversations(raw, ParseOptions{Log: quietLogger()})
	if len(out) != 1 {
		t.Fatalf("parsed %d, want 1 (zero-message conversations must be dropped)", len(out))
	}
	if out[0].ID != "has-content" {
		t.Fatalf("kept %q", out[0].ID)
	}
}

func TestParseConversationsMissingID(t *testing.T) {
	t.Parallel()

	raw := []RawConversation{{
		Mapping: map[string]MappingNode{
			"root": {ID: "root", Children: []string{"u1"}},
			"u1":   msgNode("u1", "root", "user", nil, "hi"),
		},
	}}

	if out := ParseConversations(raw, ParseOptions{Log: quietLogger()}); len(out) != 0 {
		t.Fatalf("parsed %d, want 0 for conversation with no id", len(out))
	}
}

func TestParseConversationsDefaultsTitle(t *testing.T) {
	t.Parallel()

	raw := []RawConversation{{
		ConversationID: "c",
		Title:          "   ",
		Mapping: map[string]MappingNode{
			"root": {ID: "root", Children: []string{"u1"}},
			"u1":   msgNode("u1", "root", "user", nil, "hi"),
		},
	}}

	out := ParseConversations(raw, ParseOptions{Log: quietLogger()})
	if len(out) != 1 || out[0].Title != "Untitled Conversation" {
		t.Fatalf("out=%+v", out)
	}
}

func TestExtractMainThreadCycleGuard(t *testing.T) {
	t.Parallel()

	mapping := map[string]MappingNode{
		"root": {ID: "root", Children: []string{"a"}},
		"a":    msgNode("a", "root", "user", []string{"b"}, "one"),
		"b":    msgNode("b", "a", "assistant", []string{"a"}, "two"),
	}

	msgs := extractMainThread(mapping)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (cycle must terminate)", len(msgs))
	}
}

func TestKeepMessageJoinsStringParts(t *testing.T) {
	t.Parallel()

	m := &RawMessage{
		Author: RawAuthor{Role: "assistant"},
		Content: RawContent{Parts: []any{
			"first part",
			map[string]any{"asset_pointer": "file-xyz"},
			"second part",
		}},
	}
	got, ok := keepMessage(m)
	if !ok {
		t.Fatalf("message dropped")
	}
	if got.Content != "first part\nsecond part" {
		t.Fatalf("content=%q", got.Content)
	}
}

func TestActivePathFollowsCurrentNode(t *testing.T) {
	t.Parallel()

	conv := fourPairConversation()
	// Point current_node at the abandoned edit: the active path should be
	// root -> u1-edit only.
	conv.CurrentNode = "u1-edit"

	out := ParseConversations([]RawConversation{conv}, ParseOptions{
		Strategy: TraverseActivePath,
		Log:      quietLogger(),
	})
	if len(out) != 1 {
		t.Fatalf("parsed %d", len(out))
	}
	if len(out[0].Messages) != 1 {
		t.Fatalf("messages=%d want 1", len(out[0].Messages))
	}
	if out[0].Messages[0].Content != "abandoned edit" {
		t.Fatalf("content=%q", out[0].Messages[0].Content)
	}
}

func TestActivePathFallsBackToNewestLeaf(t *testing.T) {
	t.Parallel()

	conv := fourPairConversation()
	conv.CurrentNode = ""
	// Give the abandoned edit the newest create_time so it wins leaf selection.
	edit := conv.Mapping["u1-edit"]
	edit.Message.CreateTime = f64Ptr(1800000000)
	conv.Mapping["u1-edit"] = edit
	a4 := conv.Mapping["a4"]
	a4.Message.CreateTime = f64Ptr(1700000500)
	conv.Mapping["a4"] = a4

	out := ParseConversations([]RawConversation{conv}, ParseOptions{
		Strategy: TraverseActivePath,
		Log:      quietLogger(),
	})
	if len(out) != 1 {
		t.Fatalf("parsed %d", len(out))
	}
	if got := out[0].Messages[len(out[0].Messages)-1].Content; got != "abandoned edit" {
		t.Fatalf("last message=%q", got)
	}
}

func TestActivePathCycleErrors(t *testing.T) {
	t.Parallel()

	mapping := map[string]MappingNode{
		"a": msgNode("a", "b", "user", nil, "one"),
		"b": msgNode("b", "a", "assistant", []string{"a"}, "two"),
	}
	if _, err := extractActivePath(mapping, "a"); err == nil {
		t.Fatalf("expected cycle error")
	}
}

func TestLoadConversationsFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	const array = `[{"conversation_id":"c1","title":"T","mapping":{}}]`
	arrayPath := filepath.Join(dir, "array.json")
	if err := os.WriteFile(arrayPath, []byte(array), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := LoadConversationsFile(arrayPath)
	if err != nil {
		t.Fatalf("load array: %v", err)
	}
	if len(raw) != 1 || raw[0].ConversationID != "c1" {
		t.Fatalf("raw=%+v", raw)
	}

	const object = `{"meta":{"version":3},"conversations":[{"id":"c2","mapping":{}},{"id":"c3","mapping":{}}]}`
	objectPath := filepath.Join(dir, "object.json")
	if err := os.WriteFile(objectPath, []byte(object), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err = LoadConversationsFile(objectPath)
	if err != nil {
		t.Fatalf("load object: %v", err)
	}
	if len(raw) != 2 || raw[0].ID != "c2" || raw[1].ID != "c3" {
		t.Fatalf("raw=%+v", raw)
	}

	if _, err := LoadConversationsFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDecodeConversationsRejectsScalars(t *testing.T) {
	t.Parallel()

	if _, err := DecodeConversations(strings.NewReader(`42`)); err == nil {
		t.Fatalf("expected error for scalar document")
	}
	if _, err := DecodeConversations(strings.NewReader(`{"a":1,"b":"x"}`)); err == nil {
		t.Fatalf("expected error for object without conversations array")
	}
}
