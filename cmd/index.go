package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var printConfig bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the knowledge index and print its stats",
	Long:  `index loads, chunks and embeds the knowledge document once. With a cache dir or the pgvector store the result is kept for the next start.`,
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&printConfig, "print-config", false, "print the effective config (secrets masked) and exit")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if printConfig {
		return cfg.WriteYAML(out)
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	buildErr := a.svc.Build(cmd.Context())
	st := a.svc.Status()

	fmt.Fprintf(out, "state:   %s\n", st.State)
	fmt.Fprintf(out, "chunks:  %d\n", st.Chunks)
	fmt.Fprintf(out, "partial: %t\n", st.Partial)
	if st.ErrorKind != "" {
		fmt.Fprintf(out, "error:   %s\n", st.ErrorKind)
	}
	fmt.Fprintf(out, "took:    %s\n", time.Since(start).Round(time.Millisecond))
	return buildErr
}
