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
	"time"

	"iris-mlops/pkg/imagebuilder"
	"iris-mlops/pkg/logging"
	"iris-mlops/pkg/orchestrator"
	"iris-mlops/pkg/orchestrator/gke"
	"iris-mlops/pkg/orchestrator/local"
	"iris-mlops/pkg/sequencer"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	corev1 "k8s.io/api/core/v1"
)

var (
	retrain        bool
	strict         bool
	waitTimeout    time.Duration
	replicas       int32
	trainImage     string
	serveImage     string
	outputManifest string

	storageSize  string
	storageClass string
	accessMode   string

	kubeconfig  string
	kubeContext string

	projectID       string
	clusterName     string
	clusterLocation string

	deployBaseImage    string
	deployBuildContext string
	deployPlatform     string
)

func init() {
	rootCmd.AddCommand(deployLocalCmd)
	rootCmd.AddCommand(deployGKECmd)

	for _, c := range []*cobra.Command{deployLocalCmd, deployGKECmd} {
		addDeployFlags(c.Flags())
	}
	addLocalFlags(deployLocalCmd.Flags())

	addGKEFlags(deployGKECmd.Flags())
	deployGKECmd.Flags().StringVar(&deployBaseImage, "base-image", "", "Base image to build the task images on with crane. Requires --build-context.")
	deployGKECmd.Flags().StringVarP(&deployBuildContext, "build-context", "c", "", "Directory holding the iris binary for the crane build.")
	deployGKECmd.Flags().StringVarP(&deployPlatform, "platform", "f", string(imagebuilder.LinuxAMD64), "Target platform of the built images.")
	deployGKECmd.Flags().StringVarP(&outputManifest, "output-manifest", "o", "", "Write the manifests to this path instead of applying them.")
}

func addDeployFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&retrain, "retrain", false, "Delete the previous training Job, replace drifted settings and restart the serving replicas.")
	fs.BoolVar(&strict, "strict", false, "Skip the serving rollout unless training completed.")
	fs.DurationVar(&waitTimeout, "timeout", orchestrator.DefaultTimeout, "Bound of each wait for training completion and serving availability.")
	fs.Int32Var(&replicas, "replicas", 2, "Number of serving replicas.")
	fs.StringVar(&trainImage, "train-image", "", "Training image. Defaults to iris-train:<tag>.")
	fs.StringVar(&serveImage, "serve-image", "", "Serving image. Defaults to iris-serve:<tag>.")
	fs.StringVar(&storageSize, "storage-size", "1Gi", "Size of the model volume claim.")
	fs.StringVar(&storageClass, "storage-class", "", "Storage class of the model volume claim. Defaults to the cluster default class.")
	fs.StringVar(&accessMode, "access-mode", string(corev1.ReadWriteOnce), "Access mode of the model volume claim: ReadWriteOnce or ReadWriteMany. Serving replicas on several nodes need ReadWriteMany.")
}

func addLocalFlags(fs *pflag.FlagSet) {
	fs.StringVar(&kubeconfig, "kubeconfig", "", "Path to the kubeconfig. Defaults to KUBECONFIG or ~/.kube/config.")
	fs.StringVar(&kubeContext, "context", "", "Kubeconfig context to use. Defaults to the current context.")
}

func addGKEFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&projectID, "project", "p", "", "Google Cloud Project ID. If not provided, it is taken from GCP_PROJECT_ID or your gcloud configuration.")
	fs.StringVar(&clusterName, "cluster-name", "", "Name of the GKE cluster. Defaults to CLUSTER_NAME.")
	fs.StringVar(&clusterLocation, "cluster-location", "", "Location (zone or region) of the GKE cluster. Defaults to GCP_ZONE.")
}

var deployLocalCmd = &cobra.Command{
	Use:   "deploy-local",
	Short: "Deploys training and serving to a local cluster.",
	Long: `The 'deploy-local' command runs the deployment workflow against the cluster of
the local kubeconfig: namespace and settings, model storage, the training Job,
the serving Deployment and a NodePort Service.

The images iris-train:<tag> and iris-serve:<tag> must already be available
to the cluster nodes (for example 'docker build --target train' followed by
'kind load docker-image').`,
	Run:          runDeployCmd,
	SilenceUsage: true,
}

var deployGKECmd = &cobra.Command{
	Use:   "deploy-gke",
	Short: "Deploys training and serving to a GKE cluster.",
	Long: `The 'deploy-gke' command fetches credentials for the GKE cluster, optionally
builds the task images with crane (--base-image with --build-context) and runs
the deployment workflow, exposing the API through a LoadBalancer Service.

With --output-manifest the manifests are only written to a file.`,
	Run:          runDeployCmd,
	SilenceUsage: true,
}

func definition() orchestrator.DeploymentDefinition {
	return orchestrator.DeploymentDefinition{
		Settings:         settings,
		Tag:              imageTag,
		TrainImage:       trainImage,
		ServeImage:       serveImage,
		Replicas:         replicas,
		StorageSize:      storageSize,
		StorageClassName: storageClass,
		AccessMode:       corev1.PersistentVolumeAccessMode(accessMode),
		Retrain:          retrain,
		Strict:           strict,
		Timeout:          waitTimeout,
		OutputManifest:   outputManifest,
		Kubeconfig:       kubeconfig,
		KubeContext:      kubeContext,
		ProjectID:        projectID,
		ClusterName:      clusterName,
		ClusterLocation:  clusterLocation,
		BaseDockerImage:  deployBaseImage,
		BuildContext:     deployBuildContext,
		Platform:         deployPlatform,
	}
}

// deployDefinition keeps the live replica count of a redeployed serving
// Deployment unless --replicas was given.
func deployDefinition(cmd *cobra.Command) orchestrator.DeploymentDefinition {
	def := definition()
	def.KeepReplicas = !cmd.Flags().Changed("replicas")
	return def
}

func runDeployCmd(cmd *cobra.Command, args []string) {
	if deployBaseImage != "" && deployBuildContext == "" {
		logging.Fatal("A --build-context must be provided when --base-image is used for a crane build.")
	}
	ctx, stop := signalContext()
	defer stop()

	var o orchestrator.Orchestrator = local.New()
	if cmd.Name() == "deploy-gke" {
		o = gke.NewGKEOrchestrator()
	}
	report, err := o.Deploy(ctx, deployDefinition(cmd))
	if err != nil {
		logging.Fatal("%s failed: %v", cmd.Name(), err)
	}
	if len(report.Results) == 0 {
		return
	}
	switch report.Outcome() {
	case sequencer.Failed:
		logging.Fatal("%s failed after reaching %q", cmd.Name(), report.Reached)
	case sequencer.Warning:
		logging.Warn("%s finished with warnings; check 'iris status'", cmd.Name())
	default:
		logging.Info("%s succeeded", cmd.Name())
	}
}
