package knowledge

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// Caps applied when merging extraction results.
const (
	maxTechnologies = 10
	maxConcepts     = 8
	maxSkills       = 8
	maxPeople       = 5
	maxResources    = 5
)

// TechKeywords is the fixed vocabulary scanned for by KeywordExtractor:
// languages, frameworks, tools and a handful of ubiquitous protocol terms.
var TechKeywords = []string{
	// Languages
	"JavaScript", "TypeScript", "Python", "Java", "C++", "C#", "Go", "Rust", "Swift", "Kotlin",
	"Ruby", "PHP", "HTML", "CSS", "SQL", "Bash", "Shell",
	// Frameworks/libraries
	"React", "Vue", "Angular", "Next.js", "Nuxt", "Svelte", "Express", "FastAPI", "Django", "Flask",
	"Spring", "Laravel", "Rails", "TensorFlow", "PyTorch", "Keras",
	// Tools/platforms
	"Git", "Docker", "Kubernetes", "AWS", "Azure", "GCP", "Firebase", "Supabase", "PostgreSQL",
	"MongoDB", "Redis", "Nginx", "Apache", "VSCode", "Vim", "Webpack", "Vite", "npm", "yarn",
	// Protocols/concepts
	"API", "REST", "GraphQL", "OAuth", "JWT", "WebSocket", "HTTP", "HTTPS", "DNS", "CDN",
}

// KeywordExtractor is the fast deterministic half of entity extraction: a
// case-insensitive substring scan of the full transcript against a fixed
// technology vocabulary. It never errors and fills only Technologies.
type KeywordExtractor struct {
	// Vocabulary defaults to TechKeywords when empty.
	Vocabulary []string
}

// ExtractEntities implements EntityExtractor.
func (k KeywordExtractor) ExtractEntities(_ context.Context, conv ParsedConversation) (ExtractedEntities, error) {
	vocab := k.Vocabulary
	if len(vocab) == 0 {
		vocab = TechKeywords
	}

	var sb strings.Builder
	for _, m := range conv.Messages {
		sb.WriteString(m.Content)
		sb.WriteString(" ")
	}
	text := strings.ToUpper(sb.String())

	var techs []string
	for _, term := range vocab {
		if strings.Contains(text, strings.ToUpper(term)) {
			techs = append(techs, term)
		}
	}

	return ExtractedEntities{Technologies: techs}, nil
}

// HybridExtractor combines the keyword scan with a model-backed extractor.
// The merged technologies list is the deduplicated union of both, keyword
// hits first; on model failure the keyword result stands alone and no error
// is returned.
type HybridExtractor struct {
	Keyword KeywordExtractor
	Model   EntityExtractor

	// Log receives model-extraction failures. Defaults to the standard logger.
	Log logrus.FieldLogger
}

// ExtractEntities implements EntityExtractor. It never returns an error.
func (h HybridExtractor) ExtractEntities(ctx context.Context, conv ParsedConversation) (ExtractedEntities, error) {
	keyword, _ := h.Keyword.ExtractEntities(ctx, conv)

	if h.Model == nil {
		return capEntities(keyword), nil
	}

	model, err := h.Model.ExtractEntities(ctx, conv)
	if err != nil {
		log := h.Log
		if log == nil {
			log = logrus.StandardLogger()
		}
		log.WithField("conversation_id", conv.ID).WithError(err).
			Warn("entity extraction fell back to keyword scan")
		return capEntities(keyword), nil
	}

	return MergeEntities(keyword, model), nil
}

// MergeEntities merges the keyword scan with a model extraction: the
// technologies union is deduplicated case-insensitively and capped, the
// remaining fields come from the model alone, capped.
func MergeEntities(keyword, model ExtractedEntities) ExtractedEntities {
	return ExtractedEntities{
		Technologies: capStrings(dedupeStrings(append(append([]string(nil), keyword.Technologies...), model.Technologies...)), maxTechnologies),
		Concepts:     capStrings(dedupeStrings(model.Concepts), maxConcepts),
		People:       capStrings(dedupeStrings(model.People), maxPeople),
		Resources:    capStrings(dedupeStrings(model.Resources), maxResources),
		Skills:       capStrings(dedupeStrings(model.Skills), maxSkills),
	}
}

func capEntities(e ExtractedEntities) ExtractedEntities {
	return MergeEntities(e, ExtractedEntities{})
}

func capStrings(in []string, max int) []string {
	if max <= 0 || len(in) <= max {
		return in
	}
	return in[:max]
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

var learningIndicators = []string{
	"learned", "understood", "discovered", "explored", "implemented",
	"solved", "debugged", "figured out", "realized", "grasped",
}

// ExtractKeyLearnings picks out of a summary the sentences that state
// something was learned, capped at 5.
func ExtractKeyLearnings(summary string) []string {
	sentences := strings.FieldsFunc(summary, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})

	var learnings []string
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		lower := strings.ToLower(s)
		for _, ind := range learningIndicators {
			if strings.Contains(lower, ind) {
				learnings = append(learnings, s)
				break
			}
		}
		if len(learnings) == 5 {
			break
		}
	}
	return learnings
}

// ExtractQuestions collects the user's substantial questions (more than
// three words, ending in '?'), capped at 5.
func ExtractQuestions(conv ParsedConversation) []string {
	var questions []string
	for _, m := range conv.Messages {
		if m.Role != "user" {
			continue
		}
		for _, s := range strings.FieldsFunc(m.Content, func(r rune) bool {
			return r == '.' || r == '!' || r == '\n'
		}) {
			s = strings.TrimSpace(s)
			if !strings.HasSuffix(s, "?") {
				continue
			}
			if len(strings.Fields(s)) <= 3 {
				continue
			}
			questions = append(questions, s)
			if len(questions) == 5 {
				return questions
			}
		}
	}
	return questions
}
