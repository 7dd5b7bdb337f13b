package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cbc-screen/internal/common"
	"cbc-screen/internal/evaluate"
	"cbc-screen/internal/ml"
	"cbc-screen/internal/storage"

	"github.com/spf13/cobra"
)

func newEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a model artifact on a labelled CSV",
		Long: "Score a model artifact on a labelled CSV. The file needs one column per panel field " +
			"plus a label column holding a label or class number; an id column is optional.",
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, _ := cmd.Flags().GetInt("batch")

			spec, err := ml.ParseLabelSpec(flagString(cmd, "labels"))
			if err != nil {
				return err
			}
			labels, err := ml.NewLabelTable(spec)
			if err != nil {
				return err
			}
			model, err := ml.LoadModel(flagString(cmd, "model"))
			if err != nil {
				return err
			}
			formatter, err := ml.NewFormatter(model, labels)
			if err != nil {
				return err
			}

			loader := evaluate.NewDataLoader(labels)
			if err := loader.LoadFromCSV(flagString(cmd, "data"), flagString(cmd, "encoding")); err != nil {
				return err
			}

			results, err := evaluate.NewEngine(formatter, batch).Run(cmd.Context(), loader.Samples())
			if err != nil {
				return err
			}
			results.Skipped = loader.Skipped()

			printResults(cmd.OutOrStdout(), model.Metadata.Version, results)

			if output := flagString(cmd, "output"); output != "" {
				if err := evaluate.NewReporter(results, output).GenerateReport(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reports written to %s\n", output)
			}
			return nil
		},
	}
	cmd.Flags().String("model", envOr(common.EnvModelPath, common.DefaultModelPath), "Model artifact")
	cmd.Flags().String("labels", envOr(common.EnvClassLabels, common.DefaultClassLabels), "Class labels as 0=normal,1=RB")
	cmd.Flags().String("data", "", "Labelled CSV file")
	cmd.Flags().String("encoding", evaluate.EncodingUTF8, "CSV encoding: utf-8 or gbk")
	cmd.Flags().String("output", "", "Directory for the summary, JSON and per-row reports")
	cmd.Flags().Int("batch", evaluate.DefaultBatchSize, "Panels per classifier call")
	cmd.MarkFlagRequired("data")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List saved screenings from a local history store",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			since, _ := cmd.Flags().GetDuration("since")

			store, err := storage.New(flagString(cmd, "data-path"))
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			var records []storage.Screening
			if since > 0 {
				now := time.Now()
				records, err = store.ScreeningsInRange(now.Add(-since), now)
			} else {
				records, err = store.RecentScreenings(limit)
			}
			if err != nil {
				return fmt.Errorf("query history: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No screenings found.")
				return nil
			}

			fmt.Fprintf(out, "%-36s  %-19s  %-12s  %-16s  %10s  %s\n",
				"ID", "Timestamp", "Profile", "Label", "Confidence", "Model")
			fmt.Fprintln(out, strings.Repeat("─", 112))
			for _, r := range records {
				fmt.Fprintf(out, "%-36s  %-19s  %-12s  %-16s  %9.2f%%  %s\n",
					r.ID,
					r.Timestamp.Local().Format("2006-01-02 15:04:05"),
					r.Profile,
					r.Label,
					r.Confidence()*100,
					r.ModelVersion,
				)
			}
			return nil
		},
	}
	cmd.Flags().String("data-path", envOr(common.EnvDataPath, "data"), "History directory")
	cmd.Flags().Int("limit", 20, "Number of most recent screenings")
	cmd.Flags().Duration("since", 0, "List every screening in this window instead, e.g. 24h")
	return cmd
}

func printResults(out io.Writer, version string, r *evaluate.Results) {
	fmt.Fprintf(out, "Model: %s\n", version)
	fmt.Fprintf(out, "Samples: %d (skipped %d)\n", r.Total, r.Skipped)
	fmt.Fprintf(out, "Accuracy: %.2f%%\n", r.Accuracy*100)
	fmt.Fprintf(out, "Macro F1: %.4f\n", r.MacroF1)
	fmt.Fprintf(out, "Log loss: %.4f\n", r.LogLoss)
	fmt.Fprintf(out, "Brier: %.4f\n", r.Brier)
	for _, cs := range r.Classes {
		fmt.Fprintf(out, "  %-16s precision %.4f  recall %.4f  f1 %.4f  support %d\n",
			cs.Label, cs.Precision, cs.Recall, cs.F1, cs.Support)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
