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

// Package cmd defines the iris command line.
package cmd

import (
	"os"

	"iris-mlops/pkg/config"
	"iris-mlops/pkg/logging"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	imageTag   string

	// settings is resolved before any subcommand runs.
	settings config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "iris",
	Short: "Train, serve and deploy the Iris classifier.",
	Long: `iris trains a small classifier on the Iris dataset, serves it behind a REST
API and deploys both tasks to a Kubernetes cluster (local or GKE).

Settings come from built-in defaults, then the --config YAML file, then
environment variables such as N_ESTIMATORS or API_PORT.`,
	PersistentPreRun: loadSettings,
	SilenceUsage:     true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML settings file.")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error). Overrides LOG_LEVEL.")
	rootCmd.PersistentFlags().StringVar(&imageTag, "tag", "", "Tag of the training and serving images.")
}

func loadSettings(cmd *cobra.Command, args []string) {
	var err error
	settings, err = config.LoadFromEnvironment(configPath)
	if err != nil {
		logging.Fatal("Failed to load settings: %v", err)
	}
	level := settings.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if err := logging.SetLevel(level); err != nil {
		logging.Fatal("%v", err)
	}
	logging.Debug("Settings: %+v", settings)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
