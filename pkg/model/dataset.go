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

package model

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
)

//go:embed iris.csv
var irisCSV string

// Dataset is a feature matrix with integer class labels.
type Dataset struct {
	X [][]float64
	Y []int
}

// Len returns the number of samples.
func (d Dataset) Len() int { return len(d.Y) }

func (d Dataset) subset(idx []int) Dataset {
	out := Dataset{X: make([][]float64, len(idx)), Y: make([]int, len(idx))}
	for i, j := range idx {
		out.X[i] = d.X[j]
		out.Y[i] = d.Y[j]
	}
	return out
}

// LoadIris parses the embedded 150-sample Iris dataset.
func LoadIris() (Dataset, error) {
	records, err := csv.NewReader(strings.NewReader(irisCSV)).ReadAll()
	if err != nil {
		return Dataset{}, fmt.Errorf("failed to parse iris dataset: %w", err)
	}
	if len(records) < 2 {
		return Dataset{}, fmt.Errorf("iris dataset is empty")
	}
	var d Dataset
	for line, rec := range records[1:] {
		if len(rec) != len(FeatureNames)+1 {
			return Dataset{}, fmt.Errorf("iris dataset line %d: expected %d columns, got %d", line+2, len(FeatureNames)+1, len(rec))
		}
		row := make([]float64, len(FeatureNames))
		for i := range FeatureNames {
			v, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				return Dataset{}, fmt.Errorf("iris dataset line %d: %w", line+2, err)
			}
			row[i] = v
		}
		label, err := strconv.Atoi(rec[len(FeatureNames)])
		if err != nil || label < 0 || label >= len(ClassNames) {
			return Dataset{}, fmt.Errorf("iris dataset line %d: bad label %q", line+2, rec[len(FeatureNames)])
		}
		d.X = append(d.X, row)
		d.Y = append(d.Y, label)
	}
	return d, nil
}

// TrainTestSplit shuffles d with seed and holds out ceil(testSize*n)
// samples for evaluation. The same seed always yields the same split.
func TrainTestSplit(d Dataset, testSize float64, seed int64) (train, test Dataset, err error) {
	if testSize < 0 || testSize >= 1 {
		return Dataset{}, Dataset{}, fmt.Errorf("test size must be in [0, 1), got %v", testSize)
	}
	n := d.Len()
	// Tolerate float noise in the product before rounding up.
	nTest := int(math.Ceil(float64(n)*testSize - 1e-9))
	if nTest >= n {
		return Dataset{}, Dataset{}, fmt.Errorf("test size %v leaves no training samples", testSize)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return d.subset(perm[nTest:]), d.subset(perm[:nTest]), nil
}
