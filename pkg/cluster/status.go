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

package cluster

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Names of the objects Status inspects.
type Names struct {
	ConfigMap  string
	PVC        string
	Job        string
	Deployment string
	Service    string
}

// Status is a snapshot of one deployment.
type Status struct {
	Namespace       string
	NamespaceExists bool
	ConfigMapExists bool
	PVCPhase        corev1.PersistentVolumeClaimPhase
	Job             JobPhase

	DeploymentExists bool
	DesiredReplicas  int32
	ReadyReplicas    int32
	Available        bool

	ServiceExists bool
	Reachable     []string
	Endpoint      string
}

// Status collects the state of every object in names. Missing objects are
// reported, not treated as errors.
func (c *Client) Status(ctx context.Context, names Names) (Status, error) {
	st := Status{Namespace: c.namespace}

	_, err := c.kube.CoreV1().Namespaces().Get(ctx, c.namespace, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		return st, nil
	case err != nil:
		return st, fmt.Errorf("failed to get namespace %s: %w", c.namespace, err)
	}
	st.NamespaceExists = true

	_, err = c.kube.CoreV1().ConfigMaps(c.namespace).Get(ctx, names.ConfigMap, metav1.GetOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return st, fmt.Errorf("failed to get configmap %s: %w", names.ConfigMap, err)
	}
	st.ConfigMapExists = err == nil

	if st.PVCPhase, err = c.PVCPhase(ctx, names.PVC); err != nil {
		return st, err
	}
	if st.Job, err = c.JobPhase(ctx, names.Job); err != nil {
		return st, err
	}

	d, err := c.kube.AppsV1().Deployments(c.namespace).Get(ctx, names.Deployment, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
	case err != nil:
		return st, fmt.Errorf("failed to get deployment %s: %w", names.Deployment, err)
	default:
		st.DeploymentExists = true
		st.DesiredReplicas = desired(d)
		st.ReadyReplicas = d.Status.ReadyReplicas
		st.Available = DeploymentAvailable(d)
	}

	_, err = c.kube.CoreV1().Services(c.namespace).Get(ctx, names.Service, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		return st, nil
	case err != nil:
		return st, fmt.Errorf("failed to get service %s: %w", names.Service, err)
	}
	st.ServiceExists = true
	if st.Reachable, err = c.ReachableReplicas(ctx, names.Service); err != nil {
		return st, err
	}
	if st.Endpoint, err = c.Endpoint(ctx, names.Service); err != nil {
		return st, err
	}
	return st, nil
}
