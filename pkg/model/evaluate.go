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

import "fmt"

// ClassReport holds per-class scores.
type ClassReport struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// Metrics is the evaluation report written next to the artifact.
type Metrics struct {
	Accuracy        float64                `json:"accuracy"`
	ConfusionMatrix [][]int                `json:"confusion_matrix"`
	Report          map[string]ClassReport `json:"classification_report"`
	TrainSamples    int                    `json:"train_samples"`
	TestSamples     int                    `json:"test_samples"`
}

// Evaluate scores the classifier against d. Rows of the confusion matrix
// are true labels, columns are predictions.
func (c *Classifier) Evaluate(d Dataset) (Metrics, error) {
	if d.Len() == 0 {
		return Metrics{}, fmt.Errorf("cannot evaluate on an empty dataset")
	}
	k := len(ClassNames)
	cm := make([][]int, k)
	for i := range cm {
		cm[i] = make([]int, k)
	}
	correct := 0
	for i, x := range d.X {
		pred, err := c.Predict(x)
		if err != nil {
			return Metrics{}, err
		}
		cm[d.Y[i]][pred]++
		if pred == d.Y[i] {
			correct++
		}
	}

	report := make(map[string]ClassReport, k)
	for class, name := range ClassNames {
		tp := cm[class][class]
		predicted, actual := 0, 0
		for j := 0; j < k; j++ {
			predicted += cm[j][class]
			actual += cm[class][j]
		}
		r := ClassReport{
			Precision: ratio(tp, predicted),
			Recall:    ratio(tp, actual),
			Support:   actual,
		}
		if r.Precision+r.Recall > 0 {
			r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
		}
		report[name] = r
	}
	return Metrics{
		Accuracy:        ratio(correct, d.Len()),
		ConfusionMatrix: cm,
		Report:          report,
		TestSamples:     d.Len(),
	}, nil
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}
