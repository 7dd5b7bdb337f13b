package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"os"
	"strconv"

	"cbc-screen/internal/ml"
	"cbc-screen/internal/panel"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// shift moves a positive panel away from the defaults, in standard deviations.
var shift = map[string]float64{
	"WBC":    1.2,
	"NEUT%":  1.5,
	"NEUT#":  1.4,
	"LYMPH%": -1.3,
	"LYMPH#": -1.1,
	"PLT":    0.8,
	"HGB":    -0.9,
	"RDW-CV": 0.7,
	"CRP":    2.5,
}

func main() {
	var (
		outPath      = flag.String("out", "data/labelled.csv", "Output CSV path")
		rows         = flag.Int("rows", 500, "Number of panels to generate")
		positiveRate = flag.Float64("positive-rate", 0.3, "Share of positive panels")
		labelSpec    = flag.String("labels", "0=normal,1=RB", "Class labels; class 1 is the positive class")
		encoding     = flag.String("encoding", "utf-8", "Output encoding: utf-8 or gbk")
		seed         = flag.Int64("seed", 1, "Random seed")
	)
	flag.Parse()

	spec, err := ml.ParseLabelSpec(*labelSpec)
	if err != nil {
		log.Fatalf("Invalid labels: %v", err)
	}
	labels, err := ml.NewLabelTable(spec)
	if err != nil {
		log.Fatalf("Invalid labels: %v", err)
	}
	negative, err := labels.Label(0)
	if err != nil {
		log.Fatalf("Invalid labels: %v", err)
	}
	positive, err := labels.Label(1)
	if err != nil {
		log.Fatalf("Invalid labels: %v", err)
	}

	fmt.Printf("Generating %d labelled panels...\n", *rows)
	fmt.Printf("  Labels: %s / %s\n", negative, positive)
	fmt.Printf("  Positive rate: %.0f%%\n", *positiveRate*100)
	fmt.Printf("  Output: %s (%s)\n", *outPath, *encoding)

	file, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("Failed to create output: %v", err)
	}
	defer file.Close()

	var w io.Writer = file
	switch *encoding {
	case "utf-8":
	case "gbk":
		gbk := transform.NewWriter(file, simplifiedchinese.GBK.NewEncoder())
		defer gbk.Close()
		w = gbk
	default:
		log.Fatalf("Unsupported encoding %q", *encoding)
	}

	rng := rand.New(rand.NewSource(*seed))
	count, err := generatePanels(w, rng, *rows, *positiveRate, negative, positive)
	if err != nil {
		log.Fatalf("Failed to generate data: %v", err)
	}

	fmt.Printf("✓ Generated %d panels (%d positive)\n", *rows, count)
}

func generatePanels(w io.Writer, rng *rand.Rand, rows int, positiveRate float64, negative, positive string) (int, error) {
	writer := csv.NewWriter(w)

	header := append([]string{"id"}, panel.Names...)
	header = append(header, "label")
	if err := writer.Write(header); err != nil {
		return 0, err
	}

	feats := panel.Features()
	positives := 0
	for i := 0; i < rows; i++ {
		isPositive := rng.Float64() < positiveRate
		label := negative
		if isPositive {
			label = positive
			positives++
		}

		record := make([]string, 0, len(header))
		record = append(record, fmt.Sprintf("S%05d", i+1))
		for _, f := range feats {
			// one standard deviation is a fortieth of the soft range
			sd := (f.Max - f.Min) / 40
			mean := f.Default
			if isPositive {
				mean += shift[f.Name] * sd * 4
			}
			v := mean + rng.NormFloat64()*sd
			v = math.Max(f.Min, math.Min(f.Max, v))
			record = append(record, strconv.FormatFloat(v, 'f', 2, 64))
		}
		record = append(record, label)

		if err := writer.Write(record); err != nil {
			return positives, err
		}
	}

	writer.Flush()
	return positives, writer.Error()
}
