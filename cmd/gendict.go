package main

import (
	"fmt"

	"rag-chat/internal/db"
	"rag-chat/internal/dictionary"
	"rag-chat/internal/llmservice"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	dictOutput   string
	dictSchema   string
	dictRows     int
	dictDescribe bool
	dictRate     float64
)

var gendictCmd = &cobra.Command{
	Use:   "gendict",
	Short: "Generate the Markdown data dictionary from a Postgres database",
	Long:  `gendict lists the tables of the configured database, samples a few rows of each and writes one "##" section per table to the knowledge file.`,
	RunE:  runGendict,
}

func init() {
	gendictCmd.Flags().StringVarP(&dictOutput, "output", "o", "", "output file (default rag.knowledge_base_path)")
	gendictCmd.Flags().StringVar(&dictSchema, "schema", "public", "database schema to document")
	gendictCmd.Flags().IntVar(&dictRows, "rows", dictionary.DefaultSampleRows, "sample rows per table")
	gendictCmd.Flags().BoolVar(&dictDescribe, "describe", false, "ask the chat model for a description of each table")
	gendictCmd.Flags().Float64Var(&dictRate, "rate", 0.5, "description requests per second")
	rootCmd.AddCommand(gendictCmd)
}

func runGendict(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := dictOutput
	if out == "" {
		out = cfg.RAG.KnowledgeBasePath
	}

	bunDB := db.NewDB(cfg.Database.DSN(), cfg.Database.Debug)
	defer bunDB.Close()
	if err := bunDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database %s: %w", cfg.Database.Name, err)
	}

	opts := []dictionary.Option{
		dictionary.WithSchema(dictSchema),
		dictionary.WithSampleRows(dictRows),
	}
	if dictDescribe {
		model, err := llmservice.NewModel(ctx, cfg.LLM)
		if err != nil {
			return fmt.Errorf("failed to create chat model: %w", err)
		}
		opts = append(opts,
			dictionary.WithDescriber(dictionary.NewLLMDescriber(model, cfg.LLM.Temperature)),
			dictionary.WithRate(dictRate),
		)
	}
	gen := dictionary.NewGenerator(dictionary.NewPGSource(bunDB, dictSchema), opts...)

	stats, err := gen.WriteFile(ctx, out, cfg.Database.Name)
	if err != nil {
		return err
	}

	log.Info().
		Int("tables", stats.Tables).
		Int("written", stats.Written).
		Int("skipped", stats.Skipped).
		Int("described", stats.Described).
		Str("output", out).
		Msg("Data dictionary generated")
	return nil
}
