package server

import (
	"context"
	"errors"

	"github.com/tmc/langchaingo/llms"
)

// failingModel rejects every call.
type failingModel struct{}

func (failingModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	return nil, errors.New("model unavailable")
}

func (m failingModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}
