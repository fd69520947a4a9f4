// Package model loads the trained price model and invokes it on feature vectors.
package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/nekruzvatanshoev/carprice/pkg/carprice/dal"
)

// Predictor is the opaque model boundary: one ordered feature row in,
// one or more scalar outputs back.
type Predictor interface {
	Predict(features []float64) ([]float64, error)
}

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(features []float64) ([]float64, error)

// Predict calls f.
func (f PredictorFunc) Predict(features []float64) ([]float64, error) {
	return f(features)
}

// Model kinds supported by the artifact format.
const (
	KindLinear       = "linear"
	KindTreeEnsemble = "tree_ensemble"
)

var (
	// ErrInvalidArtifact is returned when a model artifact fails validation.
	ErrInvalidArtifact = errors.New("invalid model artifact")
	// ErrShape is returned when a vector does not match the model's feature count.
	ErrShape = errors.New("feature vector shape mismatch")
)

// Artifact is the persisted form of a trained model.
type Artifact struct {
	Name     string   `yaml:"name"`
	Version  string   `yaml:"version"`
	Kind     string   `yaml:"kind"`
	Features []string `yaml:"features"`

	// linear
	Intercept    float64   `yaml:"intercept"`
	Coefficients []float64 `yaml:"coefficients"`

	// tree_ensemble
	Trees       []Tree  `yaml:"trees"`
	Aggregation string  `yaml:"aggregation"`
	BaseScore   float64 `yaml:"base_score"`
}

// Tree is a binary regression tree stored as a flat node list rooted at 0.
type Tree struct {
	Nodes []Node `yaml:"nodes"`
}

// Node is a split when Left and Right are node indices, a leaf when both are -1.
type Node struct {
	Feature   int     `yaml:"feature"`
	Threshold float64 `yaml:"threshold"`
	Left      int     `yaml:"left"`
	Right     int     `yaml:"right"`
	Value     float64 `yaml:"value"`
}

func (n Node) leaf() bool {
	return n.Left < 0 && n.Right < 0
}

// Model is a loaded artifact. It is read-only and safe for concurrent use.
type Model struct {
	artifact Artifact
}

// Load reads and validates the artifact at path. JSON artifacts are accepted
// as well as YAML.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading model artifact %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("loading model artifact %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates an artifact.
func Parse(data []byte) (*Model, error) {
	var a Artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return &Model{artifact: a}, nil
}

func (a *Artifact) validate() error {
	if len(a.Features) != dal.FeatureCount {
		return fmt.Errorf("%w: model has %d features, expected %d", ErrInvalidArtifact, len(a.Features), dal.FeatureCount)
	}
	for i, name := range a.Features {
		if name != dal.FeatureNames[i] {
			return fmt.Errorf("%w: feature %d is %q, expected %q", ErrInvalidArtifact, i, name, dal.FeatureNames[i])
		}
	}

	switch a.Kind {
	case KindLinear:
		if len(a.Coefficients) != dal.FeatureCount {
			return fmt.Errorf("%w: %d coefficients for %d features", ErrInvalidArtifact, len(a.Coefficients), dal.FeatureCount)
		}
	case KindTreeEnsemble:
		if len(a.Trees) == 0 {
			return fmt.Errorf("%w: tree ensemble has no trees", ErrInvalidArtifact)
		}
		switch a.Aggregation {
		case "":
			a.Aggregation = "mean"
		case "mean", "sum":
		default:
			return fmt.Errorf("%w: unknown aggregation %q", ErrInvalidArtifact, a.Aggregation)
		}
		for i, t := range a.Trees {
			if err := t.validate(); err != nil {
				return fmt.Errorf("%w: tree %d: %v", ErrInvalidArtifact, i, err)
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidArtifact, a.Kind)
	}
	return nil
}

// validate checks node references and that every path from the root ends
// in a leaf without revisiting a node.
func (t Tree) validate() error {
	n := len(t.Nodes)
	if n == 0 {
		return errors.New("empty tree")
	}
	for i, node := range t.Nodes {
		if node.leaf() {
			continue
		}
		if node.Left < 0 || node.Left >= n || node.Right < 0 || node.Right >= n {
			return fmt.Errorf("node %d has child out of range", i)
		}
		if node.Feature < 0 || node.Feature >= dal.FeatureCount {
			return fmt.Errorf("node %d splits on unknown feature %d", i, node.Feature)
		}
	}

	state := make([]byte, n) // 0 unvisited, 1 on path, 2 done
	var walk func(i int) error
	walk = func(i int) error {
		switch state[i] {
		case 1:
			return fmt.Errorf("cycle at node %d", i)
		case 2:
			return nil
		}
		state[i] = 1
		if node := t.Nodes[i]; !node.leaf() {
			if err := walk(node.Left); err != nil {
				return err
			}
			if err := walk(node.Right); err != nil {
				return err
			}
		}
		state[i] = 2
		return nil
	}
	return walk(0)
}

func (t Tree) eval(x []float64) float64 {
	i := 0
	for {
		node := t.Nodes[i]
		if node.leaf() {
			return node.Value
		}
		if x[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}

// Name returns the artifact name, or its kind when unnamed.
func (m *Model) Name() string {
	if m.artifact.Name != "" {
		return m.artifact.Name
	}
	return m.artifact.Kind
}

// Version returns the artifact version.
func (m *Model) Version() string {
	return m.artifact.Version
}

// Predict returns a single predicted price for one feature row.
func (m *Model) Predict(features []float64) ([]float64, error) {
	if len(features) != len(m.artifact.Features) {
		return nil, fmt.Errorf("%w: got %d fields, model expects %d", ErrShape, len(features), len(m.artifact.Features))
	}

	a := m.artifact
	switch a.Kind {
	case KindLinear:
		y := a.Intercept
		for i, c := range a.Coefficients {
			y += c * features[i]
		}
		return []float64{y}, nil
	default:
		var sum float64
		for _, t := range a.Trees {
			sum += t.eval(features)
		}
		if a.Aggregation == "mean" {
			sum /= float64(len(a.Trees))
		}
		return []float64{a.BaseScore + sum}, nil
	}
}
