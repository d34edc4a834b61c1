package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"cryptolaw-rag/internal/config"
	"cryptolaw-rag/internal/indexer"
	"cryptolaw-rag/internal/models"
	"cryptolaw-rag/internal/persona"
	"cryptolaw-rag/internal/rag"
)

//go:embed templates
var templateFS embed.FS

const shutdownTimeout = 15 * time.Second

type Responder interface {
	Respond(ctx context.Context, messages []models.ChatMessage, personality string) (rag.Answer, error)
}

type Composer interface {
	Compose(ctx context.Context, answer string) models.Suggestions
}

// Index is the freshness check run before the chat page is served.
type Index interface {
	EnsureFresh(ctx context.Context) (indexer.Result, error)
}

type IndexStats interface {
	Version() string
	Count() int
}

type Server struct {
	responder Responder
	composer  Composer
	index     Index
	stats     IndexStats
	personas  []persona.Persona
	page      *template.Template
	intro     template.HTML
}

func New(responder Responder, composer Composer, index Index, stats IndexStats, personas *persona.Registry) (*Server, error) {
	page, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse page template: %w", err)
	}
	introMD, err := templateFS.ReadFile("templates/intro.md")
	if err != nil {
		return nil, err
	}
	intro, err := renderMarkdown(introMD)
	if err != nil {
		return nil, fmt.Errorf("failed to render intro: %w", err)
	}

	return &Server{
		responder: responder,
		composer:  composer,
		index:     index,
		stats:     stats,
		personas:  personas.List(),
		page:      page,
		intro:     intro,
	}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /sendChat", s.handleSendChat)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return withRequestID(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, cfg *config.ServerConfig) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func renderMarkdown(src []byte) (template.HTML, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
		),
	)
	var buf bytes.Buffer
	if err := md.Convert(src, &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
