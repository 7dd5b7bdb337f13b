package ml

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cbc-screen/internal/panel"

	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/model_artifact.json
var artifactSchemaJSON []byte

var (
	artifactSchemaOnce sync.Once
	artifactSchema     *jsonschema.Schema
	artifactSchemaErr  error
)

// ModelMetadata contains information about the loaded model
type ModelMetadata struct {
	Version       string    `json:"version"`
	TrainedAt     time.Time `json:"trained_at,omitempty"`
	Accuracy      float64   `json:"accuracy,omitempty"`
	ValidationAcc float64   `json:"validation_accuracy,omitempty"`
	TrainingRows  int       `json:"training_rows,omitempty"`
	Description   string    `json:"description,omitempty"`
}

// Model is a loaded classifier artifact.
type Model struct {
	*Booster
	Metadata   ModelMetadata
	Path       string
	ModifiedAt time.Time
	LoadedAt   time.Time
}

type artifact struct {
	Format       string         `json:"format"`
	Objective    string         `json:"objective"`
	NumClass     int            `json:"num_class"`
	BaseScore    *float64       `json:"base_score"`
	FeatureNames []string       `json:"feature_names"`
	TreeInfo     []int          `json:"tree_info"`
	Trees        []TreeNode     `json:"trees"`
	Metadata     *ModelMetadata `json:"metadata"`
}

// LoadModel reads the classifier artifact at path. It is the only way a model
// enters the process: there is no fallback, any failure is reported as
// ErrMissingModel (or ErrInvalidModel, which wraps it).
func LoadModel(path string) (*Model, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMissingModel, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrMissingModel, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrMissingModel, path, err)
	}

	m, err := ParseModel(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Path = path
	m.ModifiedAt = info.ModTime()

	log.Info().
		Str("model_path", path).
		Str("version", m.Metadata.Version).
		Str("objective", m.Objective()).
		Int("classes", m.NumClasses()).
		Int("trees", len(m.trees)).
		Msg("model loaded")

	return m, nil
}

// ParseModel decodes an artifact held in memory. The document is checked
// against the artifact schema and its feature order against the panel.
func ParseModel(data []byte) (*Model, error) {
	if err := validateArtifact(data); err != nil {
		return nil, err
	}

	var a artifact
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidModel, err)
	}

	if err := checkFeatureOrder(a.FeatureNames, panel.Names); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}

	booster, err := NewBooster(BoosterSpec{
		Objective:    a.Objective,
		NumClass:     a.NumClass,
		BaseScore:    a.BaseScore,
		FeatureNames: a.FeatureNames,
		TreeInfo:     a.TreeInfo,
		Trees:        a.Trees,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}

	var md ModelMetadata
	if a.Metadata != nil {
		md = *a.Metadata
	}
	if md.Version == "" {
		sum := sha256.Sum256(data)
		md.Version = "sha256:" + hex.EncodeToString(sum[:6])
	}

	return &Model{
		Booster:  booster,
		Metadata: md,
		LoadedAt: time.Now(),
	}, nil
}

// Age is the time since the artifact file was last written.
func (m *Model) Age() time.Duration {
	if m.ModifiedAt.IsZero() {
		return 0
	}
	return time.Since(m.ModifiedAt)
}

func validateArtifact(data []byte) error {
	schema, err := compiledArtifactSchema()
	if err != nil {
		return fmt.Errorf("%w: compile artifact schema: %w", ErrInvalidModel, err)
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("%w: invalid JSON: %w", ErrInvalidModel, err)
	}
	if err := schema.Validate(parsed); err != nil {
		return fmt.Errorf("%w: schema validation failed: %w", ErrInvalidModel, err)
	}
	return nil
}

func compiledArtifactSchema() (*jsonschema.Schema, error) {
	artifactSchemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal(artifactSchemaJSON, &doc); err != nil {
			artifactSchemaErr = fmt.Errorf("parse schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		const url = "schema://model_artifact.json"
		if err := c.AddResource(url, doc); err != nil {
			artifactSchemaErr = fmt.Errorf("add resource: %w", err)
			return
		}
		artifactSchema, artifactSchemaErr = c.Compile(url)
	})
	return artifactSchema, artifactSchemaErr
}

func checkFeatureOrder(model, expected []string) error {
	if len(model) != len(expected) {
		return fmt.Errorf("model has %d features, panel has %d", len(model), len(expected))
	}
	for i := range expected {
		if model[i] != expected[i] {
			return fmt.Errorf("feature order mismatch at position %d: model %q, panel %q", i, model[i], expected[i])
		}
	}
	return nil
}

// IsMissingModel reports whether err is any model load failure.
func IsMissingModel(err error) bool {
	return errors.Is(err, ErrMissingModel)
}
