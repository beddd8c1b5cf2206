package knowledge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Batch enrichment defaults.
const (
	DefaultBatchSize  = 5
	DefaultBatchDelay = 1000 * time.Millisecond
)

// Enricher runs the per-conversation enrichment fan-out: summary, embedding,
// entities and classification. Conversations are processed in fixed-size
// batches with a pause between batches to stay under provider rate limits.
type Enricher struct {
	Summarizer Summarizer
	Embedder   Embedder
	Extractor  EntityExtractor
	Classifier Classifier

	// BatchSize defaults to DefaultBatchSize.
	BatchSize int

	// BatchDelay is the pause between consecutive batches, defaulting to
	// DefaultBatchDelay. No pause follows the final batch.
	BatchDelay time.Duration

	// Log defaults to the standard logger.
	Log logrus.FieldLogger
}

// EnrichAll enriches every conversation. A conversation whose embedding fails
// is dropped with a warning; summarization, extraction and classification are
// expected to be wrapped in fallbacks and so only drop the conversation when
// the fallback itself errors. onProgress, when non-nil, is called with
// (processed, total) after each batch.
func (e Enricher) EnrichAll(ctx context.Context, convs []ParsedConversation, onProgress func(processed, total int)) ([]EnrichedNode, error) {
	if e.Embedder == nil {
		return nil, fmt.Errorf("EnrichAll: nil Embedder")
	}

	batchSize := e.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	delay := e.BatchDelay
	if delay <= 0 {
		delay = DefaultBatchDelay
	}
	log := e.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	nodes := make([]*EnrichedNode, len(convs))
	for start := 0; start < len(convs); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("EnrichAll: %w", err)
		}

		end := start + batchSize
		if end > len(convs) {
			end = len(convs)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				node, err := e.enrichOne(ctx, convs[i])
				if err != nil {
					log.WithField("conversation_id", convs[i].ID).WithError(err).
						Warn("dropping conversation from enrichment")
					return
				}
				nodes[i] = node
			}(i)
		}
		wg.Wait()

		if onProgress != nil {
			onProgress(end, len(convs))
		}

		if end < len(convs) {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("EnrichAll: %w", ctx.Err())
			}
		}
	}

	out := make([]EnrichedNode, 0, len(convs))
	for _, n := range nodes {
		if n != nil {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (e Enricher) enrichOne(ctx context.Context, conv ParsedConversation) (*EnrichedNode, error) {
	summary, err := e.summarize(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("enrichOne: summarize: %w", err)
	}

	embedding, err := e.Embedder.Embed(ctx, summary.Title+"\n\n"+summary.Summary)
	if err != nil {
		return nil, fmt.Errorf("enrichOne: embed: %w", err)
	}

	entities, err := e.extract(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("enrichOne: extract entities: %w", err)
	}

	classification, err := e.classify(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("enrichOne: classify: %w", err)
	}

	return &EnrichedNode{
		ConversationSummary: summary,
		Embedding:           embedding,
		LearningType:        classification.LearningType,
		ConfidenceScore:     classification.ConfidenceScore,
		Entities:            entities,
		KeyLearnings:        ExtractKeyLearnings(summary.Summary),
		QuestionsRaised:     ExtractQuestions(conv),
	}, nil
}

func (e Enricher) summarize(ctx context.Context, conv ParsedConversation) (ConversationSummary, error) {
	if e.Summarizer == nil {
		return FallbackSummary(conv), nil
	}
	return e.Summarizer.Summarize(ctx, conv)
}

func (e Enricher) extract(ctx context.Context, conv ParsedConversation) (ExtractedEntities, error) {
	if e.Extractor == nil {
		return KeywordExtractor{}.ExtractEntities(ctx, conv)
	}
	return e.Extractor.ExtractEntities(ctx, conv)
}

func (e Enricher) classify(ctx context.Context, conv ParsedConversation) (LearningClassification, error) {
	if e.Classifier == nil {
		return HeuristicClassifier{}.Classify(ctx, conv)
	}
	return e.Classifier.Classify(ctx, conv)
}
