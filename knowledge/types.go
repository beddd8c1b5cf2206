package knowledge

import (
	"context"
	"time"
)

// Message is a single user or assistant message kept from an export.
type Message struct {
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// ParsedConversation is one linear thread reconstructed from a RawConversation.
type ParsedConversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Timestamp    time.Time `json:"timestamp"`
	Messages     []Message `json:"messages"`
	MessageCount int       `json:"message_count"`
}

// ConversationSummary is the 2-3 sentence summary produced for a conversation.
// On summarization failure it is fabricated deterministically from the title
// and the first message (see FallbackSummarizer).
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	Summary        string    `json:"summary"`
	Timestamp      time.Time `json:"timestamp"`
	MessageCount   int       `json:"message_count"`
}

// ExtractedEntities are the structured entities pulled from a conversation.
type ExtractedEntities struct {
	Technologies []string `json:"technologies"`
	Concepts     []string `json:"concepts"`
	People       []string `json:"people"`
	Resources    []string `json:"resources"`
	Skills       []string `json:"skills"`
}

// Learning types assigned by classification.
const (
	LearningConceptual  = "conceptual"
	LearningPractical   = "practical"
	LearningDebugging   = "debugging"
	LearningExploratory = "exploratory"
	LearningDeepDive    = "deep-dive"
)

// ValidLearningType reports whether t is one of the five known learning types.
func ValidLearningType(t string) bool {
	switch t {
	case LearningConceptual, LearningPractical, LearningDebugging, LearningExploratory, LearningDeepDive:
		return true
	}
	return false
}

// LearningClassification is the result of classifying a conversation.
type LearningClassification struct {
	LearningType    string  `json:"learning_type"`
	ConfidenceScore float64 `json:"confidence_score"`
	Reasoning       string  `json:"reasoning,omitempty"`
}

// EnrichedNode is a fully enriched conversation: summary, embedding, entities
// and classification. This is the unit persisted as a graph node.
type EnrichedNode struct {
	ConversationSummary

	Embedding []float64 `json:"embedding"`

	LearningType    string            `json:"learning_type"`
	ConfidenceScore float64           `json:"confidence_score"`
	Entities        ExtractedEntities `json:"entities"`
	KeyLearnings    []string          `json:"key_learnings,omitempty"`
	QuestionsRaised []string          `json:"questions_raised,omitempty"`
}

// GraphNode is the minimal node view used for graph construction and
// projection: an id plus its embedding.
type GraphNode struct {
	ID        string    `json:"id"`
	Embedding []float64 `json:"embedding"`
}

// GraphEdge is a directed similarity edge. Similarity is symmetric, so
// consumers must treat (a,b) and (b,a) as the same logical relationship
// when computing degree.
type GraphEdge struct {
	SourceID string  `json:"source_id"`
	TargetID string  `json:"target_id"`
	Weight   float64 `json:"weight"`
}

// Coordinate is a 2D/3D layout position for a node. Z is nil for 2D layouts.
type Coordinate struct {
	ID string   `json:"id"`
	X  float64  `json:"x"`
	Y  float64  `json:"y"`
	Z  *float64 `json:"z,omitempty"`
}

// Summarizer produces a ConversationSummary for a conversation.
type Summarizer interface {
	Summarize(ctx context.Context, conv ParsedConversation) (ConversationSummary, error)
}

// Embedder turns text into a fixed-dimensionality vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// EntityExtractor derives structured entities from a conversation.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, conv ParsedConversation) (ExtractedEntities, error)
}

// Classifier assigns a learning type and confidence score to a conversation.
type Classifier interface {
	Classify(ctx context.Context, conv ParsedConversation) (LearningClassification, error)
}

// Projector computes layout coordinates for a set of nodes. Implementations
// may shell out to an external dimensionality-reduction tool; failures are
// treated as recoverable by the pipeline.
type Projector interface {
	Project(ctx context.Context, nodes []GraphNode) ([]Coordinate, error)
}
