package cli

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"cryptolaw-rag/internal/extractor"
	"cryptolaw-rag/internal/llmservice"
)

var (
	extractSource string
	extractMode   string
	extractOut    string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Download the guidance PDF and transcribe it page by page",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		source := firstNonEmpty(extractSource, cfg.Extractor.Source)
		mode := firstNonEmpty(extractMode, cfg.Extractor.Mode)
		out := firstNonEmpty(extractOut, cfg.RAG.TranscriptPath)

		var e *extractor.Extractor
		if mode == extractor.ModeText {
			e = extractor.New(nil, &cfg.Extractor)
		} else {
			llm, err := llmservice.NewModel(ctx, &cfg.LLM)
			if err != nil {
				return err
			}
			e = extractor.New(llm, &cfg.Extractor)
		}

		records, err := e.Run(ctx, source, mode, out)
		if err != nil {
			return err
		}
		log.Info().Int("pages", len(records)).Str("mode", mode).Str("file", out).Msg("Extraction finished")
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVarP(&extractSource, "source", "s", "", "pdf path or URL (default from config)")
	extractCmd.Flags().StringVarP(&extractMode, "mode", "m", "", "ocr or text (default from config)")
	extractCmd.Flags().StringVarP(&extractOut, "out", "o", "", "transcript output path (default rag.transcript_path)")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
