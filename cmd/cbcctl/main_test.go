package main

import (
	"bytes"
	"encoding/csv"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"cbc-screen/internal/evaluate"
	"cbc-screen/internal/ml"
	"cbc-screen/internal/panel"
	"cbc-screen/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = "../../internal/ml/testdata/rb_model.json"

func newService(t *testing.T) string {
	t.Helper()
	model, err := ml.LoadModel(fixture)
	require.NoError(t, err)
	labels, err := ml.NewLabelTable(map[int]string{0: "normal", 1: "RB"})
	require.NoError(t, err)
	f, err := ml.NewFormatter(model, labels)
	require.NoError(t, err)

	srv := httptest.NewServer(ml.NewModelServer(f, model, ml.ServerConfig{}).Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPredict(t *testing.T) {
	url := newService(t)

	out, err := run(t, "predict", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Prediction: normal")
	assert.Contains(t, out, "RB: 0.3543 (35.43%)")
	assert.Contains(t, out, "Model: rb-test-1")

	out, err = run(t, "predict", "--server", url, "--set", "CRP=20", "--set", "NEUT%=80")
	require.NoError(t, err)
	assert.Contains(t, out, "Prediction: RB")
	assert.Contains(t, out, "RB: 0.7503 (75.03%)")
}

func TestPredictFromFile(t *testing.T) {
	url := newService(t)

	path := filepath.Join(t.TempDir(), "panel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("CRP: 20\nNEUT%: 80\nHGB: 900\n"), 0644))

	out, err := run(t, "predict", "--server", url, "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Prediction: RB")
	assert.Contains(t, out, "Outside the usual range: HGB")

	out, err = run(t, "predict", "--server", url, "--file", path, "--set", "CRP=1", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"label": "RB"`)
	assert.Contains(t, out, `"probability_map"`)
}

func TestPredictErrors(t *testing.T) {
	url := newService(t)

	_, err := run(t, "predict", "--server", url, "--set", "FOO=1")
	assert.ErrorIs(t, err, panel.ErrUnknownFeature)

	_, err = run(t, "predict", "--server", url, "--set", "CRP")
	assert.ErrorContains(t, err, "NAME=VALUE")

	// Without defaults the service rejects an incomplete panel.
	_, err = run(t, "predict", "--server", url, "--defaults=false", "--set", "CRP=20")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ml.KindInvalidInput)
}

func TestFeaturesInfoHealth(t *testing.T) {
	url := newService(t)

	out, err := run(t, "features", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "P-LCR")
	assert.Contains(t, out, panel.GroupInflammation)

	out, err = run(t, "info", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Version: rb-test-1")
	assert.Contains(t, out, "1 = RB")

	out, err = run(t, "health", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Healthy: true")
}

func TestResolveServer(t *testing.T) {
	t.Setenv("SCREENER_URL", "http://screener:9000")

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags(nil))
	assert.Equal(t, "http://screener:9000", resolveServer(cmd))

	require.NoError(t, cmd.ParseFlags([]string{"--server", "http://other"}))
	assert.Equal(t, "http://other", resolveServer(cmd))
}

func TestEvaluate(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "labelled.csv")

	f, err := os.Create(data)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	require.NoError(t, w.Write(append(append([]string{}, panel.Names...), "label")))
	rows := []struct {
		overrides map[string]float64
		label     string
	}{
		{nil, "normal"},
		{map[string]float64{"CRP": 20, "NEUT%": 80}, "RB"},
		{map[string]float64{"CRP": 20}, "normal"},
		{map[string]float64{"LYMPH#": 1}, "RB"},
	}
	for _, r := range rows {
		v, err := panel.DefaultsWith(r.overrides)
		require.NoError(t, err)
		record := make([]string, 0, panel.Size+1)
		for _, x := range v {
			record = append(record, strconv.FormatFloat(x, 'g', -1, 64))
		}
		require.NoError(t, w.Write(append(record, r.label)))
	}
	w.Flush()
	require.NoError(t, f.Close())

	reports := filepath.Join(dir, "reports")
	out, err := run(t, "evaluate", "--model", fixture, "--labels", "0=normal,1=RB", "--data", data, "--output", reports)
	require.NoError(t, err)
	assert.Contains(t, out, "Model: rb-test-1")
	assert.Contains(t, out, "Samples: 4 (skipped 0)")
	assert.Contains(t, out, "Accuracy: 50.00%")
	assert.FileExists(t, filepath.Join(reports, evaluate.SummaryFile))
	assert.FileExists(t, filepath.Join(reports, evaluate.PredictionsFile))

	_, err = run(t, "evaluate", "--model", fixture, "--labels", "0=normal", "--data", data)
	assert.Error(t, err, "label table smaller than the model")

	_, err = run(t, "evaluate", "--model", fixture)
	assert.Error(t, err, "--data is required")
}

func TestHistory(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, "history", "--data-path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No screenings found.")

	store, err := storage.New(dir)
	require.NoError(t, err)
	for i, label := range []string{"normal", "RB"} {
		_, err := store.SaveScreening(storage.Screening{
			Timestamp: time.Now().Add(time.Duration(i-2) * time.Hour),
			Profile:   "rb",
			Values:    panel.Defaults(),
			Label:     label,
			Class:     i,
			Probabilities: []ml.LabelProbability{
				{Class: 0, Label: "normal", Probability: 0.25},
				{Class: 1, Label: "RB", Probability: 0.75},
			},
			ModelVersion: "rb-test-1",
		})
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	out, err = run(t, "history", "--data-path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "RB")
	assert.Contains(t, out, "75.00%")
	assert.Contains(t, out, "rb-test-1")

	out, err = run(t, "history", "--data-path", dir, "--since", "90m")
	require.NoError(t, err)
	assert.Contains(t, out, "RB")
	assert.NotContains(t, out, "normal")
}

func TestParseSets(t *testing.T) {
	got, err := parseSets([]string{"CRP=12.5", " HGB = 118 "})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"CRP": 12.5, "HGB": 118}, got)

	_, err = parseSets([]string{"CRP=abc"})
	assert.Error(t, err)
}
