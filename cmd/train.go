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

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"iris-mlops/pkg/artifact"
	"iris-mlops/pkg/config"
	"iris-mlops/pkg/logging"
	"iris-mlops/pkg/train"

	"github.com/spf13/cobra"
)

var (
	modelPath     string
	publishPrefix string
)

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().StringVar(&modelPath, "model-path", "", "Where to write the model artifact. Overrides MODEL_PATH.")
	trainCmd.Flags().StringVar(&publishPrefix, "publish-prefix", "models", "Object prefix of the published artifact when GCS_BUCKET is set.")
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Trains the classifier and writes the model artifact.",
	Long: `The 'train' command fits the classifier on the Iris dataset with the configured
seed and hyperparameters, evaluates it on the held-out split and writes the
model artifact, its digest and metrics.json. When GCS_BUCKET is set the
artifact is also uploaded to the bucket.

This is the body of the training Job; any failure exits non-zero.`,
	Run:          runTrainCmd,
	SilenceUsage: true,
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runTrainCmd(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	s := settings
	if modelPath != "" {
		s = s.WithModelPath(modelPath)
	}

	var publisher artifact.Publisher
	if s.GCSBucket != "" {
		p, err := artifact.NewGCSPublisher(ctx, s.GCSBucket, publishPrefix)
		if err != nil {
			logging.Fatal("Failed to create GCS publisher: %v", err)
		}
		publisher = p
	}

	res, err := runTraining(ctx, s, artifact.NewOSStore(), publisher)
	if err != nil {
		logging.Fatal("Training failed: %v", err)
	}
	logging.Info("Model saved to %s (%s)", res.ModelPath, res.Digest)
	logging.Info("Metrics saved to %s", res.MetricsPath)
	if res.PublishedURL != "" {
		logging.Info("Model published to %s", res.PublishedURL)
	}
}

// runTraining trains once and closes publisher before returning, so the
// upload client is released even when the caller exits on error.
func runTraining(ctx context.Context, s config.Settings, store *artifact.Store, publisher artifact.Publisher) (train.Result, error) {
	res, err := train.Run(ctx, s, store, publisher)
	if publisher != nil {
		if cerr := publisher.Close(); cerr != nil {
			logging.Warn("Failed to close publisher: %v", cerr)
		}
	}
	return res, err
}
