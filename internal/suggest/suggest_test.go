package suggest

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"cryptolaw-rag/internal/models"
)

type fakeLLM struct {
	reply   string
	err     error
	prompts []string
	temps   []float64
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	f.temps = append(f.temps, opts.Temperature)
	for _, m := range messages {
		for _, part := range m.Parts {
			if text, ok := part.(llms.TextContent); ok {
				f.prompts = append(f.prompts, text.Text)
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

const validReply = `{"suggestions": ["🪙 What is a cryptoasset?", "🏦 FCA registration steps?", "📜 Travel rule details?", "⚖️ Penalties for breaches?"], "requirements": ["Tokenomics Study", "Data Governance Principles Study"]}`

func TestComposeValidReply(t *testing.T) {
	llm := &fakeLLM{reply: validReply}
	got := NewComposer(llm, 0.2).Compose(context.Background(), "A cryptoasset is ...")

	if len(got.Suggestions) != 4 || got.Suggestions[1] != "🏦 FCA registration steps?" {
		t.Fatalf("unexpected suggestions %v", got.Suggestions)
	}
	want := []string{"Tokenomics Study", "Data Governance Principles Study"}
	if !reflect.DeepEqual(got.Requirements, want) {
		t.Fatalf("requirements = %v, want %v", got.Requirements, want)
	}
	if llm.temps[0] != 0.2 {
		t.Fatalf("expected temperature 0.2, got %v", llm.temps[0])
	}
	prompt := llm.prompts[0]
	for _, s := range []string{"1. Tokenomics Study", "10. SocialFi Engagement Study", "A cryptoasset is ..."} {
		if !strings.Contains(prompt, s) {
			t.Fatalf("prompt missing %q:\n%s", s, prompt)
		}
	}
}

func TestComposeFallsBackToDefaults(t *testing.T) {
	cases := map[string]*fakeLLM{
		"upstream error":     {err: errors.New("quota exceeded")},
		"prose":              {reply: "Here are some questions you might ask."},
		"python literal":     {reply: `{'suggestions': ['a', 'b', 'c', 'd'], 'requirements': []}`},
		"three suggestions":  {reply: `{"suggestions": ["a", "b", "c"], "requirements": []}`},
		"blank suggestion":   {reply: `{"suggestions": ["a", "b", "c", "  "], "requirements": []}`},
		"too many tags":      {reply: `{"suggestions": ["a", "b", "c", "d"], "requirements": ["x", "y", "z", "w"]}`},
		"missing suggestion": {reply: `{"requirements": []}`},
		"wrong type":         {reply: `{"suggestions": "a, b, c, d"}`},
	}
	for name, llm := range cases {
		t.Run(name, func(t *testing.T) {
			got := NewComposer(llm, 0.2).Compose(context.Background(), "answer")
			if !reflect.DeepEqual(got, Defaults()) {
				t.Fatalf("expected defaults, got %+v", got)
			}
		})
	}
}

func TestParseReply(t *testing.T) {
	fenced := "```json\n" + validReply + "\n```"
	got, err := ParseReply(fenced)
	if err != nil {
		t.Fatalf("ParseReply(fenced): %v", err)
	}
	if len(got.Suggestions) != 4 {
		t.Fatalf("expected 4 suggestions, got %v", got.Suggestions)
	}

	got, err = ParseReply(`Sure! {"suggestions": [" a ", "b", "c", "d"], "requirements": ["tokenomics study", "Made Up", "Tokenomics Study"]} Hope that helps.`)
	if err != nil {
		t.Fatalf("ParseReply(prose): %v", err)
	}
	if got.Suggestions[0] != "a" {
		t.Fatalf("suggestion not trimmed: %q", got.Suggestions[0])
	}
	if !reflect.DeepEqual(got.Requirements, []string{"Tokenomics Study"}) {
		t.Fatalf("unexpected requirements %v", got.Requirements)
	}

	got, err = ParseReply(`{"suggestions": ["a", "b", "c", "d"]}`)
	if err != nil {
		t.Fatalf("ParseReply(no requirements): %v", err)
	}
	if got.Requirements == nil || len(got.Requirements) != 0 {
		t.Fatalf("expected empty requirements, got %#v", got.Requirements)
	}

	if _, err := ParseReply("no braces here"); !errors.Is(err, errNoObject) {
		t.Fatalf("expected errNoObject, got %v", err)
	}
}

func TestDefaultsAreCopies(t *testing.T) {
	d := Defaults()
	d.Suggestions[0] = "changed"
	if models.DefaultSuggestions[0] == "changed" {
		t.Fatal("Defaults must not alias the package defaults")
	}
	if len(d.Requirements) != 0 || d.Requirements == nil {
		t.Fatalf("expected empty non-nil requirements, got %#v", d.Requirements)
	}
}
