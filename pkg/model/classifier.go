// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package model implements the Iris classifier: a seeded bagged ensemble of
// CART trees trained on the embedded Iris dataset.
package model

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
)

// ClassNames are the Iris species in label order.
var ClassNames = []string{"setosa", "versicolor", "virginica"}

// FeatureNames are the measurements in column order.
var FeatureNames = []string{"sepal_length", "sepal_width", "petal_length", "petal_width"}

// ErrNotTrained is returned when predicting with or serializing a
// classifier that has not been fitted.
var ErrNotTrained = errors.New("model must be trained before use")

const formatVersion = 1

// Classifier is a random forest over Iris measurements.
type Classifier struct {
	NEstimators int
	// MaxDepth of each tree; 0 grows until leaves are pure.
	MaxDepth    int
	RandomState int64

	trees []Tree
}

// New returns an untrained classifier.
func New(nEstimators, maxDepth int, randomState int64) *Classifier {
	return &Classifier{NEstimators: nEstimators, MaxDepth: maxDepth, RandomState: randomState}
}

// Trained reports whether Fit has completed.
func (c *Classifier) Trained() bool { return len(c.trees) > 0 }

// Fit grows NEstimators trees, each on a bootstrap sample of d. Every tree
// draws its own seed from a generator seeded with RandomState, so a given
// configuration always produces the same forest.
func (c *Classifier) Fit(d Dataset) error {
	if c.NEstimators < 1 {
		return fmt.Errorf("n_estimators must be >= 1, got %d", c.NEstimators)
	}
	if d.Len() == 0 {
		return fmt.Errorf("cannot fit on an empty dataset")
	}
	maxFeatures := int(math.Sqrt(float64(len(d.X[0]))))
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	master := rand.New(rand.NewSource(c.RandomState))
	trees := make([]Tree, 0, c.NEstimators)
	for t := 0; t < c.NEstimators; t++ {
		rng := rand.New(rand.NewSource(master.Int63()))
		sample := make([]int, d.Len())
		for i := range sample {
			sample[i] = rng.Intn(d.Len())
		}
		trees = append(trees, growTree(d, sample, c.MaxDepth, maxFeatures, len(ClassNames), rng))
	}
	c.trees = trees
	return nil
}

// PredictProba returns the averaged per-class probabilities for x.
func (c *Classifier) PredictProba(x []float64) ([]float64, error) {
	if !c.Trained() {
		return nil, ErrNotTrained
	}
	if len(x) != len(FeatureNames) {
		return nil, fmt.Errorf("expected %d features, got %d", len(FeatureNames), len(x))
	}
	proba := make([]float64, len(ClassNames))
	for _, t := range c.trees {
		for i, p := range t.leaf(x) {
			proba[i] += p
		}
	}
	for i := range proba {
		proba[i] /= float64(len(c.trees))
	}
	return proba, nil
}

// Predict returns the most probable class index for x. Ties go to the
// lower index.
func (c *Classifier) Predict(x []float64) (int, error) {
	proba, err := c.PredictProba(x)
	if err != nil {
		return 0, err
	}
	return argmax(proba), nil
}

func argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// Prediction is the labelled result for a single sample.
type Prediction struct {
	Class         string             `json:"prediction"`
	Index         int                `json:"prediction_index"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Classify predicts x and labels the result with the species names.
func (c *Classifier) Classify(x []float64) (Prediction, error) {
	proba, err := c.PredictProba(x)
	if err != nil {
		return Prediction{}, err
	}
	idx := argmax(proba)
	p := Prediction{
		Class:         ClassNames[idx],
		Index:         idx,
		Confidence:    proba[idx],
		Probabilities: make(map[string]float64, len(ClassNames)),
	}
	for i, name := range ClassNames {
		p.Probabilities[name] = proba[i]
	}
	return p, nil
}

type encodedClassifier struct {
	Version     int      `json:"version"`
	Classes     []string `json:"classes"`
	Features    []string `json:"features"`
	NEstimators int      `json:"n_estimators"`
	MaxDepth    int      `json:"max_depth"`
	RandomState int64    `json:"random_state"`
	Trees       []Tree   `json:"trees"`
}

// MarshalBinary encodes the fitted forest as gzip-compressed JSON. The
// encoding is deterministic: equal forests produce equal bytes.
func (c *Classifier) MarshalBinary() ([]byte, error) {
	if !c.Trained() {
		return nil, fmt.Errorf("cannot save an untrained model: %w", ErrNotTrained)
	}
	raw, err := json.Marshal(encodedClassifier{
		Version:     formatVersion,
		Classes:     ClassNames,
		Features:    FeatureNames,
		NEstimators: c.NEstimators,
		MaxDepth:    c.MaxDepth,
		RandomState: c.RandomState,
		Trees:       c.trees,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress model: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress model: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a forest written by MarshalBinary.
func (c *Classifier) UnmarshalBinary(data []byte) error {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("model artifact is not gzip data: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("failed to decompress model: %w", err)
	}
	var enc encodedClassifier
	if err := json.Unmarshal(raw, &enc); err != nil {
		return fmt.Errorf("failed to decode model: %w", err)
	}
	if enc.Version != formatVersion {
		return fmt.Errorf("unsupported model format version %d", enc.Version)
	}
	if len(enc.Classes) != len(ClassNames) || len(enc.Features) != len(FeatureNames) {
		return fmt.Errorf("model was trained for %d classes and %d features", len(enc.Classes), len(enc.Features))
	}
	if len(enc.Trees) == 0 {
		return fmt.Errorf("model artifact holds no trees: %w", ErrNotTrained)
	}
	for i, t := range enc.Trees {
		if err := t.validate(len(FeatureNames), len(ClassNames)); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	*c = Classifier{
		NEstimators: enc.NEstimators,
		MaxDepth:    enc.MaxDepth,
		RandomState: enc.RandomState,
		trees:       enc.Trees,
	}
	return nil
}

// Load decodes a classifier from an artifact blob.
func Load(data []byte) (*Classifier, error) {
	c := &Classifier{}
	if err := c.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return c, nil
}

// validate rejects trees whose links could loop or index out of range.
func (t Tree) validate(nFeatures, nClasses int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Left < 0 {
			if len(n.Value) != nClasses {
				return fmt.Errorf("leaf %d has %d class values", i, len(n.Value))
			}
			continue
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has invalid children", i)
		}
		if n.Feature < 0 || n.Feature >= nFeatures {
			return fmt.Errorf("node %d splits on unknown feature %d", i, n.Feature)
		}
	}
	return nil
}
