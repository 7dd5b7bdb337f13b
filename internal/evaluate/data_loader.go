// Package evaluate runs the screening formatter over a labelled panel file and
// scores it: accuracy, confusion matrix, per-class precision/recall/F1, log
// loss and Brier score.
package evaluate

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"cbc-screen/internal/ml"
	"cbc-screen/internal/panel"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// Column names besides the panel features.
const (
	LabelColumn = "label"
	IDColumn    = "id"
)

// Supported file encodings.
const (
	EncodingUTF8 = "utf-8"
	EncodingGBK  = "gbk"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Sample is one labelled panel.
type Sample struct {
	Row    int // 1-based line number in the source file
	ID     string
	Values panel.Vector
	Truth  int
}

// DataLoader reads labelled panels.
type DataLoader struct {
	labels  *ml.LabelTable
	samples []Sample
	skipped int
}

// NewDataLoader creates a loader that resolves the label column through labels.
func NewDataLoader(labels *ml.LabelTable) *DataLoader {
	return &DataLoader{
		labels:  labels,
		samples: make([]Sample, 0),
	}
}

// Samples returns the rows loaded so far.
func (dl *DataLoader) Samples() []Sample { return dl.samples }

// Skipped is the number of malformed rows that were dropped.
func (dl *DataLoader) Skipped() int { return dl.skipped }

// LoadFromCSV loads a CSV file. Lab exports from Chinese hospital systems are
// often GBK encoded; pass EncodingGBK for those.
func (dl *DataLoader) LoadFromCSV(filePath, encoding string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	var r io.Reader = file
	switch strings.ToLower(encoding) {
	case "", EncodingUTF8, "utf8":
	case EncodingGBK:
		r = transform.NewReader(file, simplifiedchinese.GBK.NewDecoder())
	default:
		return fmt.Errorf("unsupported encoding %q", encoding)
	}

	if err := dl.Load(r); err != nil {
		return fmt.Errorf("%s: %w", filePath, err)
	}

	log.Info().
		Str("file", filePath).
		Int("samples", len(dl.samples)).
		Int("skipped", dl.skipped).
		Msg("Evaluation data loaded")
	return nil
}

// Load reads CSV rows. The header must name all panel features and the label
// column, in any order; an id column is optional and other columns are ignored.
func (dl *DataLoader) Load(r io.Reader) error {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(bom, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	// Read header
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	// Map header indices
	indices := make(map[string]int)
	for i, col := range header {
		indices[strings.TrimSpace(col)] = i
	}

	var missing []string
	for _, name := range panel.Names {
		if _, ok := indices[name]; !ok {
			missing = append(missing, name)
		}
	}
	if _, ok := indices[LabelColumn]; !ok {
		missing = append(missing, LabelColumn)
	}
	if len(missing) > 0 {
		return fmt.Errorf("header is missing columns: %s", strings.Join(missing, ", "))
	}
	idCol, hasID := indices[IDColumn]

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}

		sample, err := dl.parseRecord(record, indices)
		if err != nil {
			log.Warn().Err(err).Int("line", line).Msg("Skipping malformed row")
			dl.skipped++
			continue
		}
		sample.Row = line
		if hasID && idCol < len(record) {
			sample.ID = strings.TrimSpace(record[idCol])
		}
		dl.samples = append(dl.samples, sample)
	}

	return nil
}

func (dl *DataLoader) parseRecord(record []string, indices map[string]int) (Sample, error) {
	values := make(panel.Vector, panel.Size)
	for i, name := range panel.Names {
		col := indices[name]
		if col >= len(record) {
			return Sample{}, fmt.Errorf("%w: %s", panel.ErrMissingFeature, name)
		}
		s := strings.TrimSpace(record[col])
		if s == "" {
			return Sample{}, fmt.Errorf("%w: %s", panel.ErrMissingFeature, name)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Sample{}, fmt.Errorf("%s: %w", name, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Sample{}, fmt.Errorf("%s: %q is not a finite number", name, s)
		}
		values[i] = v
	}

	col := indices[LabelColumn]
	if col >= len(record) {
		return Sample{}, errors.New("missing label")
	}
	truth, err := dl.resolveLabel(strings.TrimSpace(record[col]))
	if err != nil {
		return Sample{}, err
	}

	return Sample{Values: values, Truth: truth}, nil
}

// resolveLabel accepts a label string or a class number.
func (dl *DataLoader) resolveLabel(s string) (int, error) {
	if class, ok := dl.labels.Class(s); ok {
		return class, nil
	}
	if class, err := strconv.Atoi(s); err == nil {
		if _, err := dl.labels.Label(class); err != nil {
			return 0, err
		}
		return class, nil
	}
	return 0, fmt.Errorf("%w: label %q", ml.ErrUnknownClass, s)
}
