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

// Package local deploys to a cluster reachable through the local
// kubeconfig, such as minikube, kind or Docker Desktop.
package local

import (
	"context"

	"iris-mlops/pkg/cluster"
	"iris-mlops/pkg/imagebuilder"
	"iris-mlops/pkg/logging"
	"iris-mlops/pkg/orchestrator"
	"iris-mlops/pkg/sequencer"

	corev1 "k8s.io/api/core/v1"
)

// Orchestrator implements orchestrator.Orchestrator for a local cluster.
// Images are expected to be present on the nodes already.
type Orchestrator struct {
	connect func(def orchestrator.DeploymentDefinition) (*cluster.Client, error)
}

var _ orchestrator.Orchestrator = (*Orchestrator)(nil)

// New returns an orchestrator using the kubeconfig and context of each
// definition.
func New() *Orchestrator {
	return &Orchestrator{connect: connect}
}

func connect(def orchestrator.DeploymentDefinition) (*cluster.Client, error) {
	return cluster.FromKubeconfig(def.Kubeconfig, def.KubeContext, def.Settings.K8sNamespace)
}

// Resolve fills in the local defaults: images iris-{train,serve}:<tag>
// that are never pulled, and a NodePort Service.
func Resolve(def orchestrator.DeploymentDefinition) orchestrator.DeploymentDefinition {
	if def.Tag == "" {
		def.Tag = "latest"
	}
	images := imagebuilder.Images("", def.Tag)
	if def.TrainImage == "" {
		def.TrainImage = images.Train
	}
	if def.ServeImage == "" {
		def.ServeImage = images.Serve
	}
	if def.ImagePullPolicy == "" {
		def.ImagePullPolicy = corev1.PullIfNotPresent
	}
	if def.ServiceType == "" {
		def.ServiceType = corev1.ServiceTypeNodePort
	}
	return def
}

// Deploy runs the deployment workflow against the local cluster.
func (o *Orchestrator) Deploy(ctx context.Context, def orchestrator.DeploymentDefinition) (sequencer.Report, error) {
	def = Resolve(def)
	logging.Info("Deploying %s and %s to the local cluster", def.TrainImage, def.ServeImage)

	client, err := o.connect(def)
	if err != nil {
		return sequencer.Report{}, err
	}
	deployer, err := orchestrator.NewDeployer(client, def)
	if err != nil {
		return sequencer.Report{}, err
	}
	return deployer.Run(ctx), nil
}

// Status reports the state of the deployment.
func (o *Orchestrator) Status(ctx context.Context, def orchestrator.DeploymentDefinition) (cluster.Status, error) {
	client, err := o.connect(def)
	if err != nil {
		return cluster.Status{}, err
	}
	return client.Status(ctx, orchestrator.ObjectNames())
}

// Scale sets the number of serving replicas.
func (o *Orchestrator) Scale(ctx context.Context, def orchestrator.DeploymentDefinition, replicas int32) error {
	client, err := o.connect(def)
	if err != nil {
		return err
	}
	return client.ScaleDeployment(ctx, orchestrator.ObjectNames().Deployment, replicas)
}

// Cleanup deletes the namespace with everything in it.
func (o *Orchestrator) Cleanup(ctx context.Context, def orchestrator.DeploymentDefinition) error {
	client, err := o.connect(def)
	if err != nil {
		return err
	}
	logging.Info("Deleting namespace %s", client.Namespace())
	return client.DeleteNamespace(ctx)
}
