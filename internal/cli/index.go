package cli

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"cryptolaw-rag/internal/helper"
)

var forceRebuild bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the similarity index from the transcript if it changed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		stop := helper.StartSpinner(helper.ProgressEnabled(), "embedding")
		build := a.builder.EnsureFresh
		if forceRebuild {
			build = a.builder.Rebuild
		}
		res, err := build(ctx)
		stop()
		if err != nil {
			return err
		}

		log.Info().Str("version", res.Version).Int("chunks", res.Chunks).Bool("skipped", res.Skipped).Dur("took", res.Duration).Msg("Index build finished")
		return nil
	},
}

func init() {
	indexCmd.Flags().BoolVarP(&forceRebuild, "force", "f", false, "re-embed the corpus even if it is unchanged")
}
