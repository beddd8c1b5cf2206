package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/responses"

	"github.com/solsticeworks/chatgraph/knowledge"
)

const summarizerInstructions = `You summarize a single ChatGPT conversation for a personal knowledge graph.
Write 2-3 sentences capturing what the user was trying to do, what was covered, and any outcome.
Write in third person. Do not mention "the conversation" or "the user asked". No preamble.`

// Summarize implements knowledge.Summarizer: a free-text Responses call over
// the formatted transcript.
func (o *OpenAI) Summarize(ctx context.Context, conv knowledge.ParsedConversation) (knowledge.ConversationSummary, error) {
	input := knowledge.FormatConversationText(conv)

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(300),
		Instructions:    openai.String(summarizerInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(input, responses.EasyInputMessageRoleUser),
			},
		},
	}

	resp, err := callWithRetry(ctx, o.client, params)
	if err != nil {
		return knowledge.ConversationSummary{}, fmt.Errorf("Summarize: %w", err)
	}

	summary := strings.TrimSpace(resp.OutputText())
	if summary == "" {
		return knowledge.ConversationSummary{}, fmt.Errorf("Summarize: empty model output")
	}

	return knowledge.ConversationSummary{
		ConversationID: conv.ID,
		Title:          conv.Title,
		Summary:        summary,
		Timestamp:      conv.Timestamp,
		MessageCount:   conv.MessageCount,
	}, nil
}
