package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cryptolaw-rag/internal/helper"
	"cryptolaw-rag/internal/models"
)

var askPersonality string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question from the terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.builder.EnsureFresh(ctx); err != nil {
			return err
		}

		question := strings.Join(args, " ")
		answer, err := a.responder.Respond(ctx, []models.ChatMessage{{Role: models.RoleUser, Content: question}}, askPersonality)
		if err != nil {
			return err
		}
		suggestions := a.composer.Compose(ctx, answer.Content)

		fmt.Printf("%s:\n%s\n\n", answer.Persona.Name, answer.Content)
		helper.PrettyPrint(suggestions)
		return nil
	},
}

func init() {
	askCmd.Flags().StringVarP(&askPersonality, "personality", "p", "", "persona to answer as (veri, dandy, ...)")
}
