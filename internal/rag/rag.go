package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"

	"cryptolaw-rag/internal/config"
	"cryptolaw-rag/internal/llmservice"
	"cryptolaw-rag/internal/models"
	"cryptolaw-rag/internal/persona"
)

// Retriever finds the chunks closest to a query embedding.
type Retriever interface {
	Search(ctx context.Context, embedding []float32, k int) ([]models.RetrievedChunk, error)
}

// AllowedTags is the only markup an answer may contain.
var AllowedTags = []string{"br", "b", "i", "sup", "table", "thead", "tbody", "tr", "th", "td"}

// blank is anything that renders as whitespace or a line break
const blank = `(?:[\s\x{00a0}]|&nbsp;|<br\s*/?>|</br\s*>)`

var (
	codeFenceRe   = regexp.MustCompile("(?s)^\\s*```[a-zA-Z]*\\s*\\n?(.*?)\\n?\\s*```\\s*$")
	trailingBreak = regexp.MustCompile(`(?i)` + blank + `+$`)
	emptyElement  = regexp.MustCompile(`(?i)` + emptyElements())
)

// emptyElements matches an allowed element holding only blanks
func emptyElements() string {
	var alts []string
	for _, tag := range AllowedTags {
		if tag != "br" {
			alts = append(alts, fmt.Sprintf("<%s>%s*</%s>", tag, blank, tag))
		}
	}
	return strings.Join(alts, "|")
}

type RAG struct {
	llm         llms.Model
	embedder    embeddings.Embedder
	index       Retriever
	personas    *persona.Registry
	topK        int
	temperature float64
	policy      *bluemonday.Policy
}

// Answer is the responder output for one chat turn.
type Answer struct {
	Question string
	Content  string
	Persona  persona.Persona
	Sources  []models.RetrievedChunk
}

func NewRAG(llm llms.Model, embedder embeddings.Embedder, index Retriever, personas *persona.Registry, cfg *config.RAGConfig) *RAG {
	return &RAG{
		llm:         llm,
		embedder:    embedder,
		index:       index,
		personas:    personas,
		topK:        cfg.TopK,
		temperature: cfg.Temperature,
		policy:      newPolicy(),
	}
}

// Respond answers the latest user message of messages in the voice of the named persona.
// Only the latest message is embedded for retrieval; earlier turns are passed as plain-text history.
func (r *RAG) Respond(ctx context.Context, messages []models.ChatMessage, personality string) (Answer, error) {
	p := r.personas.Select(personality)
	answer := Answer{Persona: p, Content: models.FallbackAnswer}
	log.Debug().Str("requested", personality).Str("persona", p.Name).Msg("Persona selected")

	question := LatestQuestion(messages)
	if question == "" {
		log.Warn().Int("messages", len(messages)).Msg("Conversation does not end with a user message")
		return answer, nil
	}
	answer.Question = question

	queryEmbedding, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return answer, fmt.Errorf("failed to embed question: %w", err)
	}
	chunks, err := r.index.Search(ctx, queryEmbedding, r.topK)
	if err != nil {
		return answer, fmt.Errorf("failed to retrieve context: %w", err)
	}
	answer.Sources = chunks

	prompt, err := BuildPrompt(p, chunks, ChatHistory(messages), question)
	if err != nil {
		return answer, err
	}

	raw, err := llmservice.GenerateText(ctx, r.llm, prompt, r.temperature)
	if err != nil {
		return answer, fmt.Errorf("failed to generate answer: %w", err)
	}
	if content := r.FormatHTML(raw); content != "" {
		answer.Content = content
	}

	log.Info().Str("question", question).Int("sources", len(chunks)).Int("answer_len", len(answer.Content)).Msg("Answer generated")
	return answer, nil
}

// LatestQuestion returns the content of the last message if it is a user turn, else "".
func LatestQuestion(messages []models.ChatMessage) string {
	if len(messages) == 0 {
		return ""
	}
	last := messages[len(messages)-1]
	if last.Role != models.RoleUser {
		return ""
	}
	return last.Content
}

// ChatHistory renders every turn except the last as "Human: ..." / "AI: ..." lines.
// Messages with other roles are skipped before the last entry is dropped.
func ChatHistory(messages []models.ChatMessage) string {
	var lines []string
	for _, m := range messages {
		switch m.Role {
		case models.RoleUser:
			lines = append(lines, "Human: "+m.Content)
		case models.RoleAssistant:
			lines = append(lines, "AI: "+m.Content)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines[:len(lines)-1], "\n")
}

// BuildPrompt fills the answer template for persona p
func BuildPrompt(p persona.Persona, chunks []models.RetrievedChunk, history, question string) (string, error) {
	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}

	tmpl := prompts.PromptTemplate{
		Template:       models.AnswerPromptTemplate,
		InputVariables: []string{"context", "chat_history", "question"},
		TemplateFormat: prompts.TemplateFormatGoTemplate,
		PartialVariables: map[string]any{
			"agent_name":        p.Name,
			"agent_personality": p.Descriptor,
		},
	}
	prompt, err := tmpl.Format(map[string]any{
		"context":      strings.Join(contents, models.ContextSeparator),
		"chat_history": history,
		"question":     question,
	})
	if err != nil {
		return "", fmt.Errorf("failed to format prompt: %w", err)
	}
	return prompt, nil
}

// FormatHTML turns a raw model reply into the answer markup: fences removed, escaped newlines
// turned into <br>, anything outside AllowedTags stripped and no trailing line breaks.
func (r *RAG) FormatHTML(raw string) string {
	s := strings.TrimSpace(raw)
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.ReplaceAll(s, `\n`, "<br>")
	s = r.policy.Sanitize(s)
	for {
		next := emptyElement.ReplaceAllStringFunc(s, unwrap)
		next = trailingBreak.ReplaceAllString(next, "")
		if next == s {
			return s
		}
		s = next
	}
}

// unwrap drops the tags of an empty element and keeps its blanks
func unwrap(element string) string {
	return element[strings.Index(element, ">")+1 : strings.LastIndex(element, "<")]
}

func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(AllowedTags...)
	return p
}
