package server

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cryptolaw-rag/internal/helper"
	"cryptolaw-rag/internal/models"
	"cryptolaw-rag/internal/persona"
)

const maxBodyBytes = 1 << 20

// Returned for a chat body missing one of its keys.
var (
	ErrMissingMessages    = errors.New("messages is required")
	ErrMissingPersonality = errors.New("personality is required")
)

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"index_version"`
	Chunks  int    `json:"chunks"`
}

type pageData struct {
	Intro    template.HTML
	Personas []persona.Persona
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	res, err := s.index.EnsureFresh(r.Context())
	if err != nil {
		// the previous index keeps serving
		logger.Error().Err(err).Msg("Index refresh failed")
	} else if !res.Skipped {
		logger.Info().Str("version", res.Version).Int("chunks", res.Chunks).Dur("took", res.Duration).Msg("Index rebuilt")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, pageData{Intro: s.intro, Personas: s.personas}); err != nil {
		logger.Error().Err(err).Msg("Failed to render page")
	}
}

func (s *Server) handleSendChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	req, err := decodeChat(w, r)
	if err != nil {
		logger.Warn().Err(err).Msg("Bad chat request")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	answer, err := s.responder.Respond(ctx, *req.Messages, *req.Personality)
	if err != nil {
		logger.Error().Err(err).Msg("Responder failed")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "upstream model request failed"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := writeEvent(w, models.ResponseEvent{Type: models.EventResponse, Content: answer.Content}); err != nil {
		logger.Warn().Err(err).Msg("Client went away before the answer was sent")
		return
	}

	suggestions := s.composer.Compose(ctx, answer.Content)
	if err := writeEvent(w, models.SuggestionsEvent{
		Type:         models.EventSuggestions,
		Content:      suggestions.Suggestions,
		Requirements: suggestions.Requirements,
	}); err != nil {
		logger.Warn().Err(err).Msg("Client went away before suggestions were sent")
		return
	}
	logger.Info().Str("persona", answer.Persona.Name).Int("messages", len(*req.Messages)).Msg("Chat turn served")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: s.stats.Version(), Chunks: s.stats.Count()})
}

func decodeChat(w http.ResponseWriter, r *http.Request) (models.ChatRequest, error) {
	var req models.ChatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, errors.New("invalid JSON: " + err.Error())
	}
	if req.Messages == nil {
		return req, ErrMissingMessages
	}
	if req.Personality == nil {
		return req, ErrMissingPersonality
	}
	return req, nil
}

// writeEvent writes v as one JSON line and flushes it to the client
func writeEvent(w http.ResponseWriter, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return http.NewResponseController(w).Flush()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withRequestID tags each request with a uuid and a request-scoped logger
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := helper.GenerateUUID()
		if err != nil {
			log.Warn().Err(err).Msg("Could not generate request id")
		}
		logger := log.With().Str("request_id", id).Str("method", r.Method).Str("path", r.URL.Path).Logger()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}
