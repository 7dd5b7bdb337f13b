package evaluate

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Report file names written under the output directory.
const (
	SummaryFile     = "evaluation_summary.txt"
	JSONFile        = "evaluation.json"
	PredictionsFile = "predictions.csv"
)

// Reporter generates evaluation reports
type Reporter struct {
	results    *Results
	outputPath string
}

// NewReporter creates a new reporter
func NewReporter(results *Results, outputPath string) *Reporter {
	return &Reporter{
		results:    results,
		outputPath: outputPath,
	}
}

// GenerateReport writes the summary, the JSON report and the per-row
// prediction log.
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateSummary(); err != nil {
		return err
	}

	if err := r.generatePredictionLog(); err != nil {
		return err
	}

	return r.generateJSONReport()
}

func (r *Reporter) generateSummary() error {
	summaryPath := filepath.Join(r.outputPath, SummaryFile)
	file, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	res := r.results
	fmt.Fprintf(file, "EVALUATION SUMMARY\n")
	fmt.Fprintf(file, "==================\n\n")

	fmt.Fprintf(file, "Run: %s (%s)\n\n",
		res.StartTime.Format("2006-01-02 15:04:05"),
		res.EndTime.Sub(res.StartTime))

	fmt.Fprintf(file, "OVERALL\n")
	fmt.Fprintf(file, "-------\n")
	fmt.Fprintf(file, "Samples: %d (skipped %d)\n", res.Total, res.Skipped)
	fmt.Fprintf(file, "Accuracy: %.2f%% (%d/%d)\n", res.Accuracy*100, res.Correct, res.Total)
	fmt.Fprintf(file, "Macro F1: %.4f\n", res.MacroF1)
	fmt.Fprintf(file, "Log Loss: %.4f\n", res.LogLoss)
	fmt.Fprintf(file, "Brier Score: %.4f\n\n", res.Brier)

	fmt.Fprintf(file, "PER CLASS\n")
	fmt.Fprintf(file, "---------\n")
	for _, cs := range res.Classes {
		fmt.Fprintf(file, "%s: precision %.4f, recall %.4f, f1 %.4f, support %d\n",
			cs.Label, cs.Precision, cs.Recall, cs.F1, cs.Support)
	}

	fmt.Fprintf(file, "\nCONFUSION MATRIX (rows = actual, columns = predicted)\n")
	fmt.Fprintf(file, "-----------------------------------------------------\n")
	for i, row := range res.Confusion {
		fmt.Fprintf(file, "%-16s", res.Labels[i])
		for _, n := range row {
			fmt.Fprintf(file, " %8d", n)
		}
		fmt.Fprintln(file)
	}

	log.Info().Str("file", summaryPath).Msg("Summary report generated")
	return nil
}

func (r *Reporter) generatePredictionLog() error {
	logPath := filepath.Join(r.outputPath, PredictionsFile)
	file, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("failed to create prediction log: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"row", "id", "actual", "predicted", "correct"}
	header = append(header, r.results.Labels...)
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range r.results.Predictions {
		actual := strconv.Itoa(p.Truth)
		for _, cs := range r.results.Classes {
			if cs.Class == p.Truth {
				actual = cs.Label
			}
		}
		record := []string{
			strconv.Itoa(p.Row),
			p.ID,
			actual,
			p.Result.Label,
			strconv.FormatBool(p.Correct),
		}
		for _, lp := range p.Result.Probabilities {
			record = append(record, strconv.FormatFloat(lp.Probability, 'f', 6, 64))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}

	log.Info().Str("file", logPath).Msg("Prediction log generated")
	return nil
}

func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, JSONFile)

	data, err := json.MarshalIndent(r.results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}

	log.Info().Str("file", jsonPath).Msg("JSON report generated")
	return nil
}
