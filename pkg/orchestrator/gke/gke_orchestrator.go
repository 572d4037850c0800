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

package gke

import (
	"context"
	"fmt"
	"strings"

	"iris-mlops/pkg/cluster"
	"iris-mlops/pkg/imagebuilder"
	"iris-mlops/pkg/logging"
	"iris-mlops/pkg/manifests"
	"iris-mlops/pkg/orchestrator"
	"iris-mlops/pkg/sequencer"
	"iris-mlops/pkg/shell"

	"github.com/spf13/afero"
	corev1 "k8s.io/api/core/v1"
)

// GKEOrchestrator implements the Orchestrator interface for GKE.
type GKEOrchestrator struct {
	run     func(name string, args ...string) shell.CommandResult
	connect func(namespace string) (*cluster.Client, error)
	build   func(ctx context.Context, opts imagebuilder.BuildOptions) (imagebuilder.TaskImages, error)
	fs      afero.Fs
}

var _ orchestrator.Orchestrator = (*GKEOrchestrator)(nil)

// NewGKEOrchestrator creates and returns a new GKEOrchestrator instance.
func NewGKEOrchestrator() *GKEOrchestrator {
	return &GKEOrchestrator{
		run: shell.ExecuteNonInteractive,
		connect: func(namespace string) (*cluster.Client, error) {
			// get-credentials made the cluster the current context.
			return cluster.FromKubeconfig("", "", namespace)
		},
		build: imagebuilder.BuildTaskImages,
		fs:    afero.NewOsFs(),
	}
}

// Registry returns the container registry of project.
func Registry(projectID string) string {
	return "gcr.io/" + projectID
}

// Deploy builds the images when a base image is given, then either writes
// the manifests to def.OutputManifest or runs the deployment workflow on
// the GKE cluster.
func (g *GKEOrchestrator) Deploy(ctx context.Context, def orchestrator.DeploymentDefinition) (sequencer.Report, error) {
	logging.Info("Starting GKE deployment workflow...")

	def, err := g.resolve(def)
	if err != nil {
		return sequencer.Report{}, err
	}
	if def.BaseDockerImage != "" {
		logging.Info("Building images with crane on top of %s...", def.BaseDockerImage)
		images, err := g.build(ctx, imagebuilder.BuildOptions{
			BaseImage:    def.BaseDockerImage,
			BuildContext: def.BuildContext,
			Platform:     def.Platform,
			Registry:     Registry(def.ProjectID),
			Tag:          def.Tag,
		})
		if err != nil {
			return sequencer.Report{}, fmt.Errorf("crane-based image build failed: %w", err)
		}
		def.TrainImage, def.ServeImage = images.Train, images.Serve
	}
	logging.Info("Training image: %s", def.TrainImage)
	logging.Info("Serving image: %s", def.ServeImage)

	if def.OutputManifest != "" {
		return sequencer.Report{}, g.writeManifests(def)
	}

	client, err := g.client(def)
	if err != nil {
		return sequencer.Report{}, err
	}
	deployer, err := orchestrator.NewDeployer(client, def)
	if err != nil {
		return sequencer.Report{}, err
	}
	report := deployer.Run(ctx)
	logging.Info("GKE deployment workflow completed.")
	return report, nil
}

// Status reports the state of the deployment on the GKE cluster.
func (g *GKEOrchestrator) Status(ctx context.Context, def orchestrator.DeploymentDefinition) (cluster.Status, error) {
	client, err := g.resolveClient(def)
	if err != nil {
		return cluster.Status{}, err
	}
	return client.Status(ctx, orchestrator.ObjectNames())
}

// Scale sets the number of serving replicas.
func (g *GKEOrchestrator) Scale(ctx context.Context, def orchestrator.DeploymentDefinition, replicas int32) error {
	client, err := g.resolveClient(def)
	if err != nil {
		return err
	}
	return client.ScaleDeployment(ctx, orchestrator.ObjectNames().Deployment, replicas)
}

// Cleanup deletes the namespace with everything in it. The images and
// the cluster itself are kept.
func (g *GKEOrchestrator) Cleanup(ctx context.Context, def orchestrator.DeploymentDefinition) error {
	client, err := g.resolveClient(def)
	if err != nil {
		return err
	}
	logging.Info("Deleting namespace %s", client.Namespace())
	return client.DeleteNamespace(ctx)
}

func (g *GKEOrchestrator) resolveClient(def orchestrator.DeploymentDefinition) (*cluster.Client, error) {
	def, err := g.resolve(def)
	if err != nil {
		return nil, err
	}
	return g.client(def)
}

// resolve fills in project, cluster, images and the GKE defaults.
func (g *GKEOrchestrator) resolve(def orchestrator.DeploymentDefinition) (orchestrator.DeploymentDefinition, error) {
	if def.ProjectID == "" {
		def.ProjectID = def.Settings.GCPProjectID
	}
	projectID, err := g.getProjectID(def.ProjectID)
	if err != nil {
		return def, err
	}
	def.ProjectID = projectID

	if def.ClusterName == "" {
		def.ClusterName = def.Settings.ClusterName
	}
	if def.ClusterLocation == "" {
		def.ClusterLocation = def.Settings.GCPZone
	}
	if def.ClusterLocation == "" {
		def.ClusterLocation = def.Settings.GCPRegion
	}

	if def.Tag == "" {
		if def.BaseDockerImage != "" {
			def.Tag = imagebuilder.NewTag()
		} else {
			def.Tag = "latest"
		}
	}
	images := imagebuilder.Images(Registry(def.ProjectID), def.Tag)
	if def.TrainImage == "" {
		def.TrainImage = images.Train
	}
	if def.ServeImage == "" {
		def.ServeImage = images.Serve
	}
	if def.ImagePullPolicy == "" {
		def.ImagePullPolicy = corev1.PullIfNotPresent
		if def.Tag == "latest" {
			def.ImagePullPolicy = corev1.PullAlways
		}
	}
	if def.ServiceType == "" {
		def.ServiceType = corev1.ServiceTypeLoadBalancer
	}
	return def, nil
}

func (g *GKEOrchestrator) client(def orchestrator.DeploymentDefinition) (*cluster.Client, error) {
	if def.ClusterName == "" {
		logging.Warn("No cluster name given, using the current kubectl context")
	} else {
		logging.Info("Configuring kubectl for GKE cluster '%s'...", def.ClusterName)
		if err := g.configureKubectl(def.ClusterName, def.ClusterLocation, def.ProjectID); err != nil {
			return nil, err
		}
		logging.Info("kubectl configured successfully.")
	}
	return g.connect(def.Settings.K8sNamespace)
}

func (g *GKEOrchestrator) getProjectID(initialProjectID string) (string, error) {
	if initialProjectID != "" {
		logging.Info("Using provided GCP Project ID: %s", initialProjectID)
		return initialProjectID, nil
	}
	res := g.run("gcloud", "config", "get-value", "project")
	if res.ExitCode != 0 {
		return "", fmt.Errorf("failed to get GCP project ID from gcloud config: %s", res.Stderr)
	}
	projectID := strings.TrimSpace(res.Stdout)
	if projectID == "" || projectID == "(unset)" {
		return "", fmt.Errorf("GCP project ID is empty, provide it via --project or configure the gcloud CLI")
	}
	logging.Info("Using GCP Project ID inferred from gcloud config: %s", projectID)
	return projectID, nil
}

// locationFlag picks --zone for zonal locations (us-central1-a) and
// --region for regional ones (us-central1).
func locationFlag(location string) string {
	if strings.Count(location, "-") >= 2 {
		return "--zone"
	}
	return "--region"
}

func (g *GKEOrchestrator) configureKubectl(clusterName, clusterLocation, projectID string) error {
	args := []string{"container", "clusters", "get-credentials", clusterName, "--project", projectID}
	if clusterLocation != "" {
		args = append(args, locationFlag(clusterLocation), clusterLocation)
	}
	credsRes := g.run("gcloud", args...)
	if credsRes.ExitCode != 0 {
		return fmt.Errorf("failed to get GKE cluster credentials: %s\n%s", credsRes.Stderr, credsRes.Stdout)
	}
	return nil
}

func (g *GKEOrchestrator) writeManifests(def orchestrator.DeploymentDefinition) error {
	set, err := manifests.Build(orchestrator.ManifestOptions(def))
	if err != nil {
		return fmt.Errorf("failed to build manifests: %w", err)
	}
	content, err := manifests.Render(set)
	if err != nil {
		return fmt.Errorf("failed to render manifests: %w", err)
	}
	logging.Info("Saving GKE manifests to %s", def.OutputManifest)
	if err := afero.WriteFile(g.fs, def.OutputManifest, content, 0o644); err != nil {
		return fmt.Errorf("failed to write GKE manifests to file %s: %w", def.OutputManifest, err)
	}
	logging.Info("GKE manifests saved successfully. Apply them with: kubectl apply -f %s", def.OutputManifest)
	return nil
}
