package knowledge

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Export node id used by some clients for the synthetic root.
const clientCreatedRootID = "client-created-root"

// RawConversation is one conversation as it appears in a ChatGPT-style
// export: a tree of mapping nodes where branching edits produce multiple
// children per node. Read-only input; never mutated.
type RawConversation struct {
	ConversationID string                 `json:"conversation_id"`
	ID             string                 `json:"id"`
	Title          string                 `json:"title"`
	CreateTime     *float64               `json:"create_time"`
	UpdateTime     *float64               `json:"update_time"`
	CurrentNode    string                 `json:"current_node"`
	Mapping        map[string]MappingNode `json:"mapping"`
}

// MappingNode is a single node in the export's conversation tree.
type MappingNode struct {
	ID       string      `json:"id"`
	Message  *RawMessage `json:"message"`
	Parent   *string     `json:"parent"`
	Children []string    `json:"children"`
}

// RawMessage is the message payload carried by a mapping node.
type RawMessage struct {
	Author     RawAuthor  `json:"author"`
	CreateTime *float64   `json:"create_time"`
	Content    RawContent `json:"content"`
}

// RawAuthor identifies who wrote a message.
type RawAuthor struct {
	Role string  `json:"role"`
	Name *string `json:"name"`
}

// RawContent holds the message body. Parts may contain non-string elements
// (image pointers etc.) which are ignored.
type RawContent struct {
	ContentType string `json:"content_type"`
	Parts       []any  `json:"parts"`
}

// TraversalStrategy selects how a branching conversation tree is collapsed
// into one linear thread.
type TraversalStrategy string

const (
	// TraverseFirstChild follows only the first child at every branch point,
	// discarding alternate completions and edits. This matches what the
	// export UI shows as the main thread and is the default.
	TraverseFirstChild TraversalStrategy = "first-child"

	// TraverseActivePath walks parent pointers upward from current_node (or
	// the newest leaf when current_node is absent), which recovers the path
	// the user last had selected.
	TraverseActivePath TraversalStrategy = "active-path"
)

// ParseOptions controls conversation parsing.
type ParseOptions struct {
	// Strategy picks the tree-collapsing strategy (defaults to TraverseFirstChild).
	Strategy TraversalStrategy

	// Log receives per-conversation parse failures. Defaults to the standard logger.
	Log logrus.FieldLogger
}

func (o ParseOptions) withDefaults() ParseOptions {
	if o.Strategy == "" {
		o.Strategy = TraverseFirstChild
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	return o
}

// ParseConversations reconstructs linear threads from raw export entries.
// Conversations that yield zero messages are dropped, and a parse failure in
// one conversation never aborts the rest.
func ParseConversations(raw []RawConversation, opts ParseOptions) []ParsedConversation {
	opts = opts.withDefaults()

	out := make([]ParsedConversation, 0, len(raw))
	for _, conv := range raw {
		parsed, err := parseOne(conv, opts.Strategy)
		if err != nil {
			opts.Log.WithField("conversation_id", conversationID(conv)).
				WithError(err).Warn("skipping unparseable conversation")
			continue
		}
		if len(parsed.Messages) == 0 {
			continue
		}
		out = append(out, parsed)
	}
	return out
}

func conversationID(conv RawConversation) string {
	if conv.ConversationID != "" {
		return conv.ConversationID
	}
	return conv.ID
}

func parseOne(conv RawConversation, strategy TraversalStrategy) (ParsedConversation, error) {
	id := conversationID(conv)
	if id == "" {
		return ParsedConversation{}, errors.New("parseOne: conversation missing conversation_id/id")
	}

	var msgs []Message
	var err error
	switch strategy {
	case TraverseFirstChild:
		msgs = extractMainThread(conv.Mapping)
	case TraverseActivePath:
		msgs, err = extractActivePath(conv.Mapping, conv.CurrentNode)
		if err != nil {
			return ParsedConversation{}, err
		}
	default:
		return ParsedConversation{}, fmt.Errorf("parseOne: unknown traversal strategy %q", strategy)
	}

	title := strings.TrimSpace(conv.Title)
	if title == "" {
		title = "Untitled Conversation"
	}

	var ts time.Time
	if conv.CreateTime != nil {
		ts = unixSecondsToTime(*conv.CreateTime)
	}

	return ParsedConversation{
		ID:           id,
		Title:        title,
		Timestamp:    ts,
		Messages:     msgs,
		MessageCount: len(msgs),
	}, nil
}

func unixSecondsToTime(sec float64) time.Time {
	whole := int64(sec)
	frac := sec - float64(whole)
	return time.Unix(whole, int64(frac*float64(time.Second))).UTC()
}

// extractMainThread walks the tree root-down, following only the first child
// at each branch. The walk is a loop with a visited set rather than
// recursion: exports can be thousands of nodes deep and may contain cycles
// when malformed.
func extractMainThread(mapping map[string]MappingNode) []Message {
	rootID := findRoot(mapping)
	if rootID == "" {
		return nil
	}

	var msgs []Message
	visited := make(map[string]struct{}, len(mapping))

	nodeID := rootID
	for nodeID != "" {
		if _, ok := visited[nodeID]; ok {
			break
		}
		visited[nodeID] = struct{}{}

		node, ok := mapping[nodeID]
		if !ok {
			break
		}

		if m, ok := keepMessage(node.Message); ok {
			msgs = append(msgs, m)
		}

		if len(node.Children) == 0 {
			break
		}
		nodeID = node.Children[0]
	}
	return msgs
}

// findRoot returns the id of the tree root: the synthetic client root if
// present, else the first node carrying no message and no parent, else any
// message-less node.
func findRoot(mapping map[string]MappingNode) string {
	if _, ok := mapping[clientCreatedRootID]; ok {
		return clientCreatedRootID
	}
	var fallback string
	for id, node := range mapping {
		if node.Message != nil {
			continue
		}
		if node.Parent == nil || *node.Parent == "" {
			return id
		}
		if fallback == "" {
			fallback = id
		}
	}
	return fallback
}

// extractActivePath walks parent pointers from current_node (or the newest
// leaf) and reverses the result into chronological order.
func extractActivePath(mapping map[string]MappingNode, currentNode string) ([]Message, error) {
	if len(mapping) == 0 {
		return nil, nil
	}

	start := currentNode
	if start == "" {
		start = newestLeaf(mapping)
	}
	if start == "" {
		return nil, errors.New("extractActivePath: no current_node and no leaf node found")
	}

	visited := make(map[string]struct{}, len(mapping))
	var reversed []Message

	for i := 0; i < len(mapping)+1; i++ {
		node, ok := mapping[start]
		if !ok {
			return nil, fmt.Errorf("extractActivePath: missing node %q in mapping", start)
		}
		if _, ok := visited[start]; ok {
			return nil, fmt.Errorf("extractActivePath: cycle detected at node %q", start)
		}
		visited[start] = struct{}{}

		if m, ok := keepMessage(node.Message); ok {
			reversed = append(reversed, m)
		}

		if node.Parent == nil || *node.Parent == "" {
			break
		}
		start = *node.Parent
	}

	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	return reversed, nil
}

func newestLeaf(mapping map[string]MappingNode) string {
	var (
		bestID   string
		bestTime float64
		hasBest  bool
	)
	for id, node := range mapping {
		if len(node.Children) != 0 || node.Message == nil {
			continue
		}
		ct := 0.0
		if node.Message.CreateTime != nil {
			ct = *node.Message.CreateTime
		}
		if !hasBest || ct > bestTime {
			bestID = id
			bestTime = ct
			hasBest = true
		}
	}
	return bestID
}

// keepMessage reduces a raw message to a Message, keeping only user and
// assistant messages with non-empty textual content.
func keepMessage(m *RawMessage) (Message, bool) {
	if m == nil {
		return Message{}, false
	}
	role := m.Author.Role
	if role != "user" && role != "assistant" {
		return Message{}, false
	}

	var parts []string
	for _, p := range m.Content.Parts {
		if s, ok := p.(string); ok {
			parts = append(parts, s)
		}
	}
	content := strings.TrimSpace(strings.Join(parts, "\n"))
	if content == "" {
		return Message{}, false
	}

	return Message{Role: role, Content: content, Timestamp: m.CreateTime}, true
}

// LoadConversationsFile streams a conversations export from disk. The file
// may be a top-level JSON array or an object containing the conversations
// array; exports are typically one huge line, so the decode is streaming and
// the full file is never held in memory at once.
func LoadConversationsFile(path string) ([]RawConversation, error) {
	if path == "" {
		return nil, errors.New("LoadConversationsFile: path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadConversationsFile: open: %w", err)
	}
	defer f.Close()

	raw, err := DecodeConversations(bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("LoadConversationsFile: %w", err)
	}
	return raw, nil
}

// DecodeConversations streams raw conversations out of an export document.
func DecodeConversations(r io.Reader) ([]RawConversation, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("DecodeConversations: read first token: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil, fmt.Errorf("DecodeConversations: expected JSON array/object, got %T", tok)
	}

	switch delim {
	case '[':
		return decodeConversationArray(dec)
	case '{':
		// Scan object fields until the first array-valued one.
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("DecodeConversations: read object key: %w", err)
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("DecodeConversations: expected string key, got %T", keyTok)
			}

			valTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("DecodeConversations: read value for key %q: %w", key, err)
			}
			if d, ok := valTok.(json.Delim); ok && d == '[' {
				return decodeConversationArray(dec)
			}
			if err := skipValue(dec, valTok); err != nil {
				return nil, fmt.Errorf("DecodeConversations: skip key %q value: %w", key, err)
			}
		}
		return nil, errors.New("DecodeConversations: no conversations array found in top-level object")
	default:
		return nil, fmt.Errorf("DecodeConversations: unsupported top-level delimiter %q", delim)
	}
}

func decodeConversationArray(dec *json.Decoder) ([]RawConversation, error) {
	var out []RawConversation
	for dec.More() {
		var conv RawConversation
		if err := dec.Decode(&conv); err != nil {
			return nil, fmt.Errorf("DecodeConversations: decode conversation element: %w", err)
		}
		out = append(out, conv)
	}
	// Consume the closing ']'.
	if tok, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("DecodeConversations: read closing array token: %w", err)
	} else if d, ok := tok.(json.Delim); !ok || d != ']' {
		return nil, fmt.Errorf("DecodeConversations: expected closing ']', got %v", tok)
	}
	return out, nil
}

func skipValue(dec *json.Decoder, first json.Token) error {
	d, ok := first.(json.Delim)
	if !ok {
		// Primitive (string/number/bool/null): already fully consumed.
		return nil
	}

	switch d {
	case '{', '[':
	default:
		return fmt.Errorf("skipValue: unexpected delimiter %q", d)
	}

	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if dd, ok := tok.(json.Delim); ok {
			switch dd {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
