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

package orchestrator

import (
	"context"
	"time"

	"iris-mlops/pkg/cluster"
	"iris-mlops/pkg/config"
	"iris-mlops/pkg/manifests"
	"iris-mlops/pkg/sequencer"

	corev1 "k8s.io/api/core/v1"
)

// DefaultTimeout bounds each of the two wait steps.
const DefaultTimeout = 300 * time.Second

// DeploymentDefinition holds all the parameters of one deployment.
// It is intended to be general enough to support every orchestrator,
// with specific implementations extracting the fields relevant to them.
type DeploymentDefinition struct {
	Settings config.Settings

	// Tag of both task images. Empty means a generated tag.
	Tag             string
	TrainImage      string
	ServeImage      string
	ImagePullPolicy corev1.PullPolicy
	ServiceType     corev1.ServiceType
	Replicas        int32
	// KeepReplicas leaves the replica count of an existing serving
	// Deployment alone, so Replicas only applies when it is created.
	KeepReplicas    bool

	StorageSize      string
	StorageClassName string
	AccessMode       corev1.PersistentVolumeAccessMode

	// Retrain deletes a previous training Job and replaces a drifted
	// ConfigMap before submitting.
	Retrain bool
	// Strict skips the serving rollout unless training completed.
	Strict  bool
	Timeout time.Duration

	OutputManifest string

	// Local cluster access.
	Kubeconfig  string
	KubeContext string

	// GKE cluster access and image build.
	ProjectID       string
	ClusterName     string
	ClusterLocation string
	BaseDockerImage string
	BuildContext    string
	Platform        string
}

// Orchestrator deploys and manages the training and serving workloads on
// a cluster.
type Orchestrator interface {
	// Deploy runs the full workflow and reports every step.
	Deploy(ctx context.Context, def DeploymentDefinition) (sequencer.Report, error)
	// Status inspects the objects of a deployment without changing them.
	Status(ctx context.Context, def DeploymentDefinition) (cluster.Status, error)
	// Scale sets the number of serving replicas.
	Scale(ctx context.Context, def DeploymentDefinition, replicas int32) error
	// Cleanup removes the namespace and everything in it.
	Cleanup(ctx context.Context, def DeploymentDefinition) error
}

// ManifestOptions maps def onto the options of manifests.Build.
func ManifestOptions(def DeploymentDefinition) manifests.Options {
	return manifests.Options{
		Settings:         def.Settings,
		TrainImage:       def.TrainImage,
		ServeImage:       def.ServeImage,
		ImagePullPolicy:  def.ImagePullPolicy,
		Replicas:         def.Replicas,
		ServiceType:      def.ServiceType,
		StorageSize:      def.StorageSize,
		StorageClassName: def.StorageClassName,
		AccessMode:       def.AccessMode,
	}
}

// ObjectNames are the names Status inspects.
func ObjectNames() cluster.Names {
	return cluster.Names{
		ConfigMap:  manifests.ConfigMapName,
		PVC:        manifests.PVCName,
		Job:        manifests.JobName,
		Deployment: manifests.DeploymentName,
		Service:    manifests.ServiceName,
	}
}
