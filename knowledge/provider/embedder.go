package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
)

// Embed implements knowledge.Embedder. Unlike the other enrichment calls
// there is no fallback for embeddings, so errors propagate and the caller
// drops the conversation.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("Embed: empty input text")
	}

	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: o.embeddingModel,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("Embed: response contains no embeddings")
	}
	return resp.Data[0].Embedding, nil
}
