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
	"fmt"
	"io"
	"os"
	"strings"

	"iris-mlops/pkg/cluster"
	"iris-mlops/pkg/logging"
	"iris-mlops/pkg/orchestrator"
	"iris-mlops/pkg/orchestrator/gke"
	"iris-mlops/pkg/orchestrator/local"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	target        string
	scaleReplicas int32
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scaleCmd)
	rootCmd.AddCommand(cleanupCmd)

	for _, c := range []*cobra.Command{statusCmd, scaleCmd, cleanupCmd} {
		c.Flags().StringVar(&target, "target", "local", "Cluster kind: 'local' or 'gke'.")
		addLocalFlags(c.Flags())
		addGKEFlags(c.Flags())
	}
	scaleCmd.Flags().Int32Var(&scaleReplicas, "replicas", 0, "Number of serving replicas. Required.")
	_ = scaleCmd.MarkFlagRequired("replicas")
}

var statusCmd = &cobra.Command{
	Use:          "status",
	Short:        "Shows the state of a deployment.",
	Run:          runStatusCmd,
	SilenceUsage: true,
}

var scaleCmd = &cobra.Command{
	Use:          "scale",
	Short:        "Sets the number of serving replicas.",
	Run:          runScaleCmd,
	SilenceUsage: true,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Deletes the deployment namespace and everything in it.",
	Long: `The 'cleanup' command deletes the namespace of the deployment, including the
model storage claim. Images and the cluster are kept.`,
	Run:          runCleanupCmd,
	SilenceUsage: true,
}

func targetOrchestrator() orchestrator.Orchestrator {
	switch target {
	case "local":
		return local.New()
	case "gke":
		return gke.NewGKEOrchestrator()
	}
	logging.Fatal("Unknown --target %q, expected 'local' or 'gke'.", target)
	return nil
}

func runStatusCmd(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	st, err := targetOrchestrator().Status(ctx, definition())
	if err != nil {
		logging.Fatal("Failed to get status: %v", err)
	}
	printStatus(os.Stdout, st)
}

func runScaleCmd(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	if err := targetOrchestrator().Scale(ctx, definition(), scaleReplicas); err != nil {
		logging.Fatal("Failed to scale: %v", err)
	}
}

func runCleanupCmd(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	if err := targetOrchestrator().Cleanup(ctx, definition()); err != nil {
		logging.Fatal("Cleanup failed: %v", err)
	}
	logging.Info("Namespace %s is being deleted", settings.K8sNamespace)
}

func mark(ok bool, s string) string {
	if ok {
		return color.GreenString(s)
	}
	return color.YellowString(s)
}

func printStatus(w io.Writer, st cluster.Status) {
	fmt.Fprintf(w, "Namespace:   %s %s\n", st.Namespace, mark(st.NamespaceExists, present(st.NamespaceExists)))
	if !st.NamespaceExists {
		return
	}
	fmt.Fprintf(w, "ConfigMap:   %s\n", mark(st.ConfigMapExists, present(st.ConfigMapExists)))
	fmt.Fprintf(w, "Storage:     %s\n", mark(st.PVCPhase == "Bound", orNone(string(st.PVCPhase))))
	fmt.Fprintf(w, "Training:    %s\n", mark(st.Job == cluster.JobComplete, string(st.Job)))
	if st.DeploymentExists {
		fmt.Fprintf(w, "Serving:     %s\n", mark(st.Available, fmt.Sprintf("%d/%d ready", st.ReadyReplicas, st.DesiredReplicas)))
	} else {
		fmt.Fprintf(w, "Serving:     %s\n", mark(false, "absent"))
	}
	if !st.ServiceExists {
		fmt.Fprintf(w, "Service:     %s\n", mark(false, "absent"))
		return
	}
	fmt.Fprintf(w, "Service:     %s\n", mark(st.Endpoint != "", orNone(st.Endpoint)))
	fmt.Fprintf(w, "Reachable:   %s\n", mark(len(st.Reachable) > 0, orNone(strings.Join(st.Reachable, ", "))))
}

func present(ok bool) string {
	if ok {
		return "present"
	}
	return "absent"
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
