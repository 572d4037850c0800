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
	"iris-mlops/pkg/artifact"
	"iris-mlops/pkg/logging"
	"iris-mlops/pkg/serving"

	"github.com/spf13/cobra"
)

var (
	serveHost    string
	servePort    int
	requireModel bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Address to bind. Overrides API_HOST.")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to bind. Overrides API_PORT.")
	serveCmd.Flags().BoolVar(&requireModel, "require-model", true, "Exit non-zero when the model artifact cannot be loaded instead of serving unready.")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves predictions over HTTP.",
	Long: `The 'serve' command loads the model artifact, checks it with one warm-up
prediction and serves the prediction API. The replica only reports ready on
/readyz once the model is loaded.

With --require-model=false a replica whose model cannot be loaded keeps
running and answers 503 on the prediction routes.`,
	Run:          runServeCmd,
	SilenceUsage: true,
}

func runServeCmd(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	s := settings
	if serveHost != "" {
		s.APIHost = serveHost
	}
	if servePort != 0 {
		s.APIPort = servePort
	}
	if err := s.Validate(); err != nil {
		logging.Fatal("%v", err)
	}

	replica := serving.NewReplica(artifact.NewOSStore(), s.ModelPath)
	if err := replica.Start(); err != nil {
		if requireModel {
			logging.Fatal("Model not loaded: %v", err)
		}
		logging.Warn("Model not loaded, serving unready: %v", err)
	}

	server := serving.NewServer(replica, s)
	if err := server.Serve(ctx, s.APIAddress()); err != nil {
		logging.Fatal("%v", err)
	}
}
