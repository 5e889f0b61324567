package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-cefr/internal/domain"
	"github.com/ahrav/go-cefr/internal/server"
)

func newPredictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict [flags] TEXT...",
		Short: "Classify a text once and print the result",
		Long: "Classify a text with every configured source and print the ensemble result. " +
			"Pass - to read the text from standard input.",
		Args: cobra.MinimumNArgs(1),
		RunE: runPredict,
	}
	cmd.Flags().Bool("json", false, "Print the result as JSON, as the HTTP service does")
	return cmd
}

func runPredict(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	if text == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("text cannot be empty")
	}

	cfg, log, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ens, err := buildEnsemble(cmd.Context(), cfg, log, nil)
	if err != nil {
		return err
	}

	result, err := ens.Predict(cmd.Context(), text)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(server.NewPredictResponse(result))
	}
	printResult(out, result)
	return nil
}

func printResult(w io.Writer, r *domain.EnsembleResult) {
	fmt.Fprintf(w, "%-16s  %-5s  %s\n", "Source", "Level", "Probability")
	fmt.Fprintln(w, strings.Repeat("─", 36))
	for _, p := range r.Predictions {
		fmt.Fprintf(w, "%-16s  %-5s  %.3f\n", p.Source, p.Label, p.Distribution[p.Label])
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Majority vote:  %s (%d/%d agree", r.MajorityLabel, r.AgreementCount, r.NumSources)
	if !r.QuorumMet {
		fmt.Fprint(w, ", no quorum")
	}
	fmt.Fprintln(w, ")")
	fmt.Fprintf(w, "Mean estimate:  %s (p=%.3f)\n", r.MeanLabel, r.MeanConfidence)
}
