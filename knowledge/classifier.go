package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// indicatorGroup maps a learning type to the words that signal it. The slice
// order is the fixed tie-break priority: when two types score equally, the
// earlier group wins.
type indicatorGroup struct {
	learningType string
	words        []string
}

var indicatorGroups = []indicatorGroup{
	{LearningDebugging, []string{"error", "bug", "fix", "issue", "problem", "doesn't work", "not working", "failed"}},
	{LearningPractical, []string{"build", "create", "implement", "code", "write", "develop", "make", "deploy"}},
	{LearningConceptual, []string{"understand", "explain", "what is", "why", "how does", "theory", "concept", "principle"}},
	{LearningExploratory, []string{"learn about", "new to", "getting started", "introduction", "basics", "overview"}},
	{LearningDeepDive, []string{"deep dive", "advanced", "detailed", "comprehensive", "in-depth", "expert"}},
}

var resolutionWords = []string{"thanks", "solved", "worked"}

// HeuristicClassifier scores indicator-word occurrences across the lowercased
// transcript and never errors, which makes it the terminal fallback in a
// classifier chain.
type HeuristicClassifier struct{}

// Classify implements Classifier.
func (HeuristicClassifier) Classify(_ context.Context, conv ParsedConversation) (LearningClassification, error) {
	var sb strings.Builder
	for _, m := range conv.Messages {
		sb.WriteString(strings.ToLower(m.Content))
		sb.WriteString(" ")
	}
	text := sb.String()

	bestType := indicatorGroups[0].learningType
	bestScore := -1
	for _, group := range indicatorGroups {
		score := 0
		for _, w := range group.words {
			score += strings.Count(text, w)
		}
		if score > bestScore {
			bestType = group.learningType
			bestScore = score
		}
	}

	confidence := 0.5
	if bestScore > 3 {
		confidence += 0.2
	}
	if conv.MessageCount > 5 {
		confidence += 0.1
	}
	if conv.MessageCount > 10 {
		confidence += 0.1
	}
	for _, w := range resolutionWords {
		if strings.Contains(text, w) {
			confidence += 0.1
			break
		}
	}
	if confidence > 0.95 {
		confidence = 0.95
	}

	return LearningClassification{
		LearningType:    bestType,
		ConfidenceScore: confidence,
		Reasoning:       fmt.Sprintf("heuristic: %d %s indicators across %d messages", bestScore, bestType, conv.MessageCount),
	}, nil
}

// NormalizeClassification coerces a model-produced classification into the
// valid range: unknown learning types become exploratory and the confidence
// score is clamped to [0,1].
func NormalizeClassification(c LearningClassification) LearningClassification {
	if !ValidLearningType(c.LearningType) {
		c.LearningType = LearningExploratory
	}
	if c.ConfidenceScore < 0 {
		c.ConfidenceScore = 0
	}
	if c.ConfidenceScore > 1 {
		c.ConfidenceScore = 1
	}
	return c
}

// FallbackClassifier tries the primary classifier and falls back to the
// secondary on any error. With a HeuristicClassifier as Fallback the chain
// never errors.
type FallbackClassifier struct {
	Primary  Classifier
	Fallback Classifier

	// Log receives primary-classifier failures. Defaults to the standard logger.
	Log logrus.FieldLogger
}

// Classify implements Classifier.
func (f FallbackClassifier) Classify(ctx context.Context, conv ParsedConversation) (LearningClassification, error) {
	if f.Primary != nil {
		out, err := f.Primary.Classify(ctx, conv)
		if err == nil {
			return NormalizeClassification(out), nil
		}
		log := f.Log
		if log == nil {
			log = logrus.StandardLogger()
		}
		log.WithField("conversation_id", conv.ID).WithError(err).
			Warn("classification fell back to heuristic")
	}
	if f.Fallback == nil {
		f.Fallback = HeuristicClassifier{}
	}
	out, err := f.Fallback.Classify(ctx, conv)
	if err != nil {
		return LearningClassification{}, fmt.Errorf("FallbackClassifier: fallback classify: %w", err)
	}
	return NormalizeClassification(out), nil
}

// FallbackSummarizer wraps a Summarizer so summarization never raises: on
// any error it fabricates a deterministic summary from the first message
// (truncated to 200 characters) or the title.
type FallbackSummarizer struct {
	Inner Summarizer

	// Log receives summarization failures. Defaults to the standard logger.
	Log logrus.FieldLogger
}

// Summarize implements Summarizer. It never returns an error.
func (f FallbackSummarizer) Summarize(ctx context.Context, conv ParsedConversation) (ConversationSummary, error) {
	if f.Inner != nil {
		out, err := f.Inner.Summarize(ctx, conv)
		if err == nil {
			return out, nil
		}
		log := f.Log
		if log == nil {
			log = logrus.StandardLogger()
		}
		log.WithField("conversation_id", conv.ID).WithError(err).
			Warn("summarization fell back to first message excerpt")
	}
	return FallbackSummary(conv), nil
}

// FallbackSummary builds the deterministic no-model summary for a
// conversation: the first 200 characters of the first message, or the title
// when the conversation is empty.
func FallbackSummary(conv ParsedConversation) ConversationSummary {
	summary := conv.Title
	if len(conv.Messages) > 0 {
		first := truncateString(conv.Messages[0].Content, 200)
		if first != "" {
			summary = first
		}
	}
	return ConversationSummary{
		ConversationID: conv.ID,
		Title:          conv.Title,
		Summary:        summary,
		Timestamp:      conv.Timestamp,
		MessageCount:   conv.MessageCount,
	}
}
