package main

import (
	"fmt"
	"strings"

	"rag-chat/internal/helper"
	"rag-chat/internal/rag"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var askJSON bool

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question from the terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the answer with its sources as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.Build(cmd.Context()); err != nil {
		if a.svc.Status().State != rag.StateReady {
			return err
		}
		log.Warn().Err(err).Msg("Answering from a partial index")
	}

	res, err := a.svc.Ask(cmd.Context(), question)
	if err != nil {
		return err
	}
	if askJSON {
		helper.PrettyPrint(res)
		return nil
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", res.Query)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", strings.Join(res.Sources, "\n"))

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", res.Content)
	return nil
}
