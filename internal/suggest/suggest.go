package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/xeipuuv/gojsonschema"

	"cryptolaw-rag/internal/llmservice"
	"cryptolaw-rag/internal/models"
)

const suggestionCount = 4
const maxRequirements = 3

var replySchema = gojsonschema.NewGoLoader(map[string]any{
	"type":     "object",
	"required": []string{"suggestions"},
	"properties": map[string]any{
		"suggestions": map[string]any{
			"type":     "array",
			"minItems": suggestionCount,
			"maxItems": suggestionCount,
			"items":    map[string]any{"type": "string", "minLength": 1},
		},
		"requirements": map[string]any{
			"type":     "array",
			"maxItems": maxRequirements,
			"items":    map[string]any{"type": "string"},
		},
	},
})

var errNoObject = errors.New("reply contains no JSON object")

// Composer asks the chat model for follow-up questions and requirement tags for an answer.
type Composer struct {
	llm         llms.Model
	temperature float64
}

func NewComposer(llm llms.Model, temperature float64) *Composer {
	return &Composer{llm: llm, temperature: temperature}
}

// Compose never fails: any upstream or parse problem yields Defaults.
func (c *Composer) Compose(ctx context.Context, answer string) models.Suggestions {
	prompt, err := BuildPrompt(answer)
	if err != nil {
		log.Error().Err(err).Msg("Could not build suggestion prompt, returning defaults")
		return Defaults()
	}
	raw, err := llmservice.GenerateText(ctx, c.llm, prompt, c.temperature)
	if err != nil {
		log.Error().Err(err).Msg("Suggestion request failed, returning defaults")
		return Defaults()
	}
	log.Debug().Str("reply", raw).Msg("Suggestion reply received")

	s, err := ParseReply(raw)
	if err != nil {
		log.Warn().Err(err).Msg("Error parsing suggestions and requirements, returning defaults")
		return Defaults()
	}
	return s
}

func BuildPrompt(answer string) (string, error) {
	var list strings.Builder
	for i, r := range models.Requirements {
		fmt.Fprintf(&list, "%d. %s\n", i+1, r)
	}
	tmpl := prompts.PromptTemplate{
		Template:       models.SuggestPromptTemplate,
		InputVariables: []string{"requirements", "response"},
		TemplateFormat: prompts.TemplateFormatGoTemplate,
	}
	return tmpl.Format(map[string]any{
		"requirements": strings.TrimRight(list.String(), "\n"),
		"response":     answer,
	})
}

// ParseReply strictly decodes the composer reply. It accepts JSON only, optionally wrapped
// in a code fence or surrounded by prose, and validates its shape before decoding.
// Requirement tags outside models.Requirements are dropped.
func ParseReply(raw string) (models.Suggestions, error) {
	obj, err := extractObject(raw)
	if err != nil {
		return models.Suggestions{}, err
	}

	result, err := gojsonschema.Validate(replySchema, gojsonschema.NewStringLoader(obj))
	if err != nil {
		return models.Suggestions{}, fmt.Errorf("reply is not valid JSON: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return models.Suggestions{}, fmt.Errorf("reply validation failed: %s", strings.Join(errs, ", "))
	}

	var s models.Suggestions
	if err := json.Unmarshal([]byte(obj), &s); err != nil {
		return models.Suggestions{}, fmt.Errorf("could not decode reply: %w", err)
	}
	for i, q := range s.Suggestions {
		q = strings.TrimSpace(q)
		if q == "" {
			return models.Suggestions{}, fmt.Errorf("suggestion %d is blank", i+1)
		}
		s.Suggestions[i] = q
	}
	s.Requirements = knownRequirements(s.Requirements)
	return s, nil
}

// Defaults returns fresh copies of the fixed fallback suggestions and no requirements.
func Defaults() models.Suggestions {
	return models.Suggestions{
		Suggestions:  append([]string(nil), models.DefaultSuggestions...),
		Requirements: []string{},
	}
}

func extractObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", errNoObject
	}
	return s[start : end+1], nil
}

func knownRequirements(tags []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		for _, known := range models.Requirements {
			if strings.EqualFold(tag, known) && !seen[known] {
				seen[known] = true
				out = append(out, known)
			}
		}
	}
	return out
}
