package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"cbc-screen/internal/ml"
	"cbc-screen/internal/panel"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newFeaturesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "features",
		Short: "List the panel fields with the service's defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			feats, err := newClient(cmd).Features(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch features: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-3s  %-8s  %-10s  %-20s  %10s  %s\n", "#", "Name", "Unit", "Group", "Default", "Range")
			fmt.Fprintln(out, strings.Repeat("─", 72))
			for i, f := range feats.Features {
				fmt.Fprintf(out, "%-3d  %-8s  %-10s  %-20s  %10s  %s-%s\n",
					i+1, f.Name, f.Unit, f.Group, formatFloat(f.Default), formatFloat(f.Min), formatFloat(f.Max))
			}
			return nil
		},
	}
}

func newPredictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Screen one panel",
		Long: "Screen one panel. Values start from the service's defaults, then the --file panel " +
			"(JSON or YAML mapping of field name to value), then each --set NAME=VALUE.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sets, _ := cmd.Flags().GetStringArray("set")
			file := flagString(cmd, "file")
			useDefaults, _ := cmd.Flags().GetBool("defaults")
			asJSON, _ := cmd.Flags().GetBool("json")

			c := newClient(cmd)
			values := make(map[string]float64, panel.Size)
			if useDefaults {
				feats, err := c.Features(cmd.Context())
				if err != nil {
					return fmt.Errorf("fetch defaults: %w", err)
				}
				for _, f := range feats.Features {
					values[f.Name] = f.Default
				}
			}
			if file != "" {
				fromFile, err := readPanelFile(file)
				if err != nil {
					return err
				}
				for k, v := range fromFile {
					values[k] = v
				}
			}
			overrides, err := parseSets(sets)
			if err != nil {
				return err
			}
			for k, v := range overrides {
				values[k] = v
			}

			resp, err := c.Predict(cmd.Context(), ml.PredictionRequest{
				Features:  values,
				RequestID: uuid.NewString(),
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printPrediction(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().StringArray("set", nil, "Field value as NAME=VALUE (repeatable)")
	cmd.Flags().String("file", "", "JSON or YAML file mapping field names to values")
	cmd.Flags().Bool("defaults", true, "Start from the service's default panel")
	cmd.Flags().Bool("json", false, "Print the raw JSON response")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newClient(cmd).Health(cmd.Context())
			if h != nil {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Healthy: %t\n", h.Healthy)
				fmt.Fprintf(out, "Model: %s (loaded %t)\n", h.ModelVersion, h.ModelLoaded)
				fmt.Fprintf(out, "Predictions: %d, errors: %d (%.2f%%)\n", h.PredictionCount, h.ErrorCount, h.ErrorRate*100)
				fmt.Fprintf(out, "Average latency: %.3f ms\n", h.AverageLatency)
			}
			return err
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the loaded model and its labels",
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := newClient(cmd).ModelInfo(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Version: %s\n", info.Version)
			if info.Description != "" {
				fmt.Fprintf(out, "Description: %s\n", info.Description)
			}
			fmt.Fprintf(out, "Objective: %s (%d classes)\n", info.Objective, info.Classes)
			if !info.TrainedAt.IsZero() {
				fmt.Fprintf(out, "Trained: %s\n", info.TrainedAt.Format("2006-01-02"))
			}
			if info.Accuracy > 0 {
				fmt.Fprintf(out, "Accuracy: %.2f%% (validation %.2f%%)\n", info.Accuracy*100, info.ValidationAcc*100)
			}

			classes := make([]int, 0, len(info.Labels))
			for c := range info.Labels {
				classes = append(classes, c)
			}
			sort.Ints(classes)
			fmt.Fprintln(out, "Labels:")
			for _, c := range classes {
				fmt.Fprintf(out, "  %d = %s\n", c, info.Labels[c])
			}
			return nil
		},
	}
}

// parseSets parses NAME=VALUE pairs, rejecting names outside the panel.
func parseSets(sets []string) (map[string]float64, error) {
	out := make(map[string]float64, len(sets))
	for _, s := range sets {
		name, raw, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("--set %q: expected NAME=VALUE", s)
		}
		name = strings.TrimSpace(name)
		if _, ok := panel.Lookup(name); !ok {
			return nil, fmt.Errorf("--set %q: %w: %s", s, panel.ErrUnknownFeature, name)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("--set %q: %w", s, err)
		}
		out[name] = v
	}
	return out, nil
}

// readPanelFile reads a name→value mapping. YAML is a superset of the JSON
// used here, so one decoder serves both.
func readPanelFile(path string) (map[string]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read panel file: %w", err)
	}
	var values map[string]float64
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse panel file %s: %w", path, err)
	}
	return values, nil
}

func printPrediction(out io.Writer, resp *ml.PredictionResponse) {
	fmt.Fprintf(out, "Prediction: %s\n", resp.Label)
	for _, p := range resp.Probabilities {
		fmt.Fprintf(out, "  %s: %.4f (%.2f%%)\n", p.Label, p.Probability, p.Probability*100)
	}
	if len(resp.OutOfRange) > 0 {
		fmt.Fprintf(out, "Outside the usual range: %s\n", strings.Join(resp.OutOfRange, ", "))
	}
	if resp.ScreeningID != "" {
		fmt.Fprintf(out, "Screening: %s\n", resp.ScreeningID)
	}
	fmt.Fprintf(out, "Model: %s\n", resp.ModelVersion)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
