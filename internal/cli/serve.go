package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"cryptolaw-rag/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat page and the /sendChat endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		if res, err := a.builder.EnsureFresh(ctx); err != nil {
			log.Error().Err(err).Msg("Initial index build failed, serving the last persisted index")
		} else {
			log.Info().Str("version", res.Version).Int("chunks", res.Chunks).Bool("skipped", res.Skipped).Msg("Index ready")
		}

		srv, err := server.New(a.responder, a.composer, a.builder, a.store, a.personas)
		if err != nil {
			return err
		}
		return srv.ListenAndServe(ctx, &cfg.Server)
	},
}
