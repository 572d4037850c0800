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

// Package train is the body of the training task.
package train

import (
	"context"
	"fmt"

	"iris-mlops/pkg/artifact"
	"iris-mlops/pkg/config"
	"iris-mlops/pkg/logging"
	"iris-mlops/pkg/model"

	digest "github.com/opencontainers/go-digest"
)

// Result summarises a completed training run.
type Result struct {
	ModelPath   string
	MetricsPath string
	Digest      digest.Digest
	Metrics     model.Metrics
	// PublishedURL is empty unless the artifact was uploaded.
	PublishedURL string
}

// Run loads the Iris dataset, fits a classifier with the configured
// hyperparameters, writes the artifact and its metrics to store and, when
// publisher is non-nil, uploads the artifact. Any error means the
// artifact must be considered absent.
func Run(ctx context.Context, s config.Settings, store *artifact.Store, publisher artifact.Publisher) (Result, error) {
	logging.Info("Starting training: random_state=%d test_size=%v n_estimators=%d max_depth=%d",
		s.RandomState, s.TestSize, s.NEstimators, s.MaxDepth)

	data, err := model.LoadIris()
	if err != nil {
		return Result{}, err
	}
	trainSet, testSet, err := model.TrainTestSplit(data, s.TestSize, int64(s.RandomState))
	if err != nil {
		return Result{}, err
	}
	logging.Info("Training samples: %d, test samples: %d", trainSet.Len(), testSet.Len())

	clf := model.New(s.NEstimators, s.MaxDepth, int64(s.RandomState))
	if err := clf.Fit(trainSet); err != nil {
		return Result{}, fmt.Errorf("failed to fit model: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var metrics model.Metrics
	if testSet.Len() > 0 {
		metrics, err = clf.Evaluate(testSet)
		if err != nil {
			return Result{}, fmt.Errorf("failed to evaluate model: %w", err)
		}
		logging.Info("Test accuracy: %.4f", metrics.Accuracy)
		for _, name := range model.ClassNames {
			r := metrics.Report[name]
			logging.Debug("%s: precision=%.4f recall=%.4f f1=%.4f support=%d", name, r.Precision, r.Recall, r.F1, r.Support)
		}
	} else {
		logging.Warn("test_size is 0, skipping evaluation")
	}
	metrics.TrainSamples = trainSet.Len()

	blob, err := clf.MarshalBinary()
	if err != nil {
		return Result{}, err
	}
	logging.Info("Saving model to %s", s.ModelPath)
	d, err := store.Write(s.ModelPath, blob)
	if err != nil {
		return Result{}, fmt.Errorf("failed to save model: %w", err)
	}

	res := Result{
		ModelPath:   s.ModelPath,
		MetricsPath: s.MetricsPath(),
		Digest:      d,
		Metrics:     metrics,
	}
	logging.Info("Saving metrics to %s", res.MetricsPath)
	if err := store.WriteJSON(res.MetricsPath, metrics); err != nil {
		return Result{}, fmt.Errorf("failed to save metrics: %w", err)
	}

	if publisher != nil {
		url, err := publisher.Publish(ctx, s.ModelPath, blob, d)
		if err != nil {
			return Result{}, fmt.Errorf("failed to publish model: %w", err)
		}
		logging.Info("Published model to %s", url)
		res.PublishedURL = url
	}

	logging.Info("Training completed, artifact %s", d)
	return res, nil
}
