package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/responses"

	"github.com/solsticeworks/chatgraph/knowledge"
	"github.com/solsticeworks/chatgraph/knowledge/fileutils"
)

// Extraction prompt budget: enough context to name the entities without
// paying for full transcripts.
const (
	extractMaxMessages     = 10
	extractMaxMessageChars = 500
)

const extractorInstructions = `Extract named entities from a ChatGPT conversation excerpt.
Return technologies (languages, frameworks, tools), concepts (techniques and ideas discussed),
people (real, named individuals only), resources (books, articles, courses, sites mentioned)
and skills (abilities the user practiced or asked about).
Only include entities actually present in the text. Empty arrays are fine.`

type entitiesResponse struct {
	Technologies []string `json:"technologies"`
	Concepts     []string `json:"concepts"`
	People       []string `json:"people"`
	Resources    []string `json:"resources"`
	Skills       []string `json:"skills"`
}

var entitiesSchema = generateSchema[entitiesResponse]()

// ExtractEntities implements knowledge.EntityExtractor with a strict
// structured-output call over a truncated excerpt.
func (o *OpenAI) ExtractEntities(ctx context.Context, conv knowledge.ParsedConversation) (knowledge.ExtractedEntities, error) {
	input := buildExcerpt(conv, extractMaxMessages, extractMaxMessageChars)

	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        "ExtractedEntities",
			Schema:      entitiesSchema,
			Strict:      openai.Bool(true),
			Description: openai.String("Entities extracted from the conversation"),
			Type:        "json_schema",
		},
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(800),
		Instructions:    openai.String(extractorInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(input, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: format,
		},
	}

	resp, err := callWithRetry(ctx, o.client, params)
	if err != nil {
		return knowledge.ExtractedEntities{}, fmt.Errorf("ExtractEntities: %w", err)
	}

	var out entitiesResponse
	if err := fileutils.DecodeModelJSON(resp.OutputText(), &out); err != nil {
		return knowledge.ExtractedEntities{}, fmt.Errorf("ExtractEntities: unmarshal: %w", err)
	}
	return knowledge.ExtractedEntities{
		Technologies: out.Technologies,
		Concepts:     out.Concepts,
		People:       out.People,
		Resources:    out.Resources,
		Skills:       out.Skills,
	}, nil
}

// buildExcerpt renders the first maxMessages messages as role-prefixed lines,
// each body truncated to maxChars, preceded by the title.
func buildExcerpt(conv knowledge.ParsedConversation, maxMessages, maxChars int) string {
	var b strings.Builder
	b.WriteString("Title: ")
	b.WriteString(conv.Title)
	b.WriteString("\n\n")

	msgs := conv.Messages
	if len(msgs) > maxMessages {
		msgs = msgs[:maxMessages]
	}
	for _, m := range msgs {
		prefix := "Assistant:"
		if m.Role == "user" {
			prefix = "User:"
		}
		b.WriteString(prefix)
		b.WriteString(" ")
		b.WriteString(fileutils.Truncate(m.Content, maxChars))
		b.WriteString("\n")
	}
	return b.String()
}
