package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/responses"

	"github.com/solsticeworks/chatgraph/knowledge"
	"github.com/solsticeworks/chatgraph/knowledge/fileutils"
)

const (
	classifyMaxMessages     = 8
	classifyMaxMessageChars = 400
)

const classifierInstructions = `Classify a ChatGPT conversation excerpt by the kind of learning it represents.
Exactly one of:
  conceptual   - understanding ideas, theory, how things work
  practical    - building, implementing, writing code or configs
  debugging    - diagnosing and fixing errors or broken behavior
  exploratory  - surveying a new topic, getting started, orientation
  deep-dive    - advanced, detailed study of a known topic
Give a confidence score between 0 and 1 and a one-sentence reasoning.`

type classifyResponse struct {
	LearningType    string  `json:"learning_type"`
	ConfidenceScore float64 `json:"confidence_score"`
	Reasoning       string  `json:"reasoning"`
}

var classifySchema = generateSchema[classifyResponse]()

// Classify implements knowledge.Classifier. The result is normalized by the
// caller's FallbackClassifier, so an out-of-vocabulary learning type here is
// not an error.
func (o *OpenAI) Classify(ctx context.Context, conv knowledge.ParsedConversation) (knowledge.LearningClassification, error) {
	input := buildExcerpt(conv, classifyMaxMessages, classifyMaxMessageChars)

	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        "LearningClassification",
			Schema:      classifySchema,
			Strict:      openai.Bool(true),
			Description: openai.String("Learning-type classification JSON"),
			Type:        "json_schema",
		},
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(300),
		Instructions:    openai.String(classifierInstructions),
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
		return knowledge.LearningClassification{}, fmt.Errorf("Classify: %w", err)
	}

	var out classifyResponse
	if err := fileutils.DecodeModelJSON(resp.OutputText(), &out); err != nil {
		return knowledge.LearningClassification{}, fmt.Errorf("Classify: unmarshal: %w", err)
	}
	return knowledge.LearningClassification{
		LearningType:    out.LearningType,
		ConfidenceScore: out.ConfidenceScore,
		Reasoning:       out.Reasoning,
	}, nil
}
