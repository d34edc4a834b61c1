package models

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	EventResponse    = "response"
	EventSuggestions = "suggestions"
)

// TranscriptRecord is one page of the extracted corpus.
type TranscriptRecord struct {
	Page    int    `json:"page"`
	Content string `json:"content"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /sendChat. Both fields are pointers so a missing key can be told apart from an empty value.
type ChatRequest struct {
	Messages    *[]ChatMessage `json:"messages"`
	Personality *string        `json:"personality"`
}

type ResponseEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type SuggestionsEvent struct {
	Type         string   `json:"type"`
	Content      []string `json:"content"`
	Requirements []string `json:"requirements"`
}

// Suggestions is the parsed reply of the suggestion composer.
type Suggestions struct {
	Suggestions  []string `json:"suggestions"`
	Requirements []string `json:"requirements"`
}
