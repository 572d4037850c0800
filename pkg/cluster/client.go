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

// Package cluster talks to the Kubernetes API on behalf of the deployment
// workflow. Every operation is scoped to one namespace and is safe to
// repeat: creating something that already exists is a no-op.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"iris-mlops/pkg/logging"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

var (
	// ErrJobFailed is returned when the training Job reached Failed.
	ErrJobFailed = errors.New("training job failed")
	// ErrConfigDrift is returned when the existing immutable ConfigMap holds
	// different values than the ones being applied.
	ErrConfigDrift = errors.New("existing configuration differs")
)

const defaultPollInterval = 2 * time.Second

// Client wraps a clientset and a namespace.
type Client struct {
	kube         kubernetes.Interface
	namespace    string
	pollInterval time.Duration
}

// New returns a Client over kube scoped to namespace.
func New(kube kubernetes.Interface, namespace string) *Client {
	return &Client{kube: kube, namespace: namespace, pollInterval: defaultPollInterval}
}

// FromKubeconfig builds a Client from a kubeconfig file. An empty path uses
// the default loading rules ($KUBECONFIG, then ~/.kube/config); an empty
// contextName uses the current context.
func FromKubeconfig(path, contextName, namespace string) (*Client, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		rules.ExplicitPath = path
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: contextName}
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	kube, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return New(kube, namespace), nil
}

// Namespace is the namespace every operation targets.
func (c *Client) Namespace() string { return c.namespace }

// Ping checks that the API server answers and returns its version.
func (c *Client) Ping(ctx context.Context) (string, error) {
	v, err := c.kube.Discovery().ServerVersion()
	if err != nil {
		return "", fmt.Errorf("cluster is not reachable: %w", err)
	}
	return v.GitVersion, nil
}

// EnsureNamespace creates ns unless it exists.
func (c *Client) EnsureNamespace(ctx context.Context, ns *corev1.Namespace) error {
	_, err := c.kube.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		logging.Debug("namespace %s already exists", ns.Name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create namespace %s: %w", ns.Name, err)
	}
	logging.Info("Created namespace %s", ns.Name)
	return nil
}

// DeleteNamespace removes the namespace and everything in it.
func (c *Client) DeleteNamespace(ctx context.Context) error {
	background := metav1.DeletePropagationBackground
	err := c.kube.CoreV1().Namespaces().Delete(ctx, c.namespace, metav1.DeleteOptions{PropagationPolicy: &background})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", c.namespace, err)
	}
	logging.Info("Deleted namespace %s", c.namespace)
	return nil
}

// EnsureConfigMap creates cm. An existing ConfigMap with identical data is
// accepted; one with different data yields ErrConfigDrift, since the
// object is immutable and running pods already read the old values.
func (c *Client) EnsureConfigMap(ctx context.Context, cm *corev1.ConfigMap) error {
	cms := c.kube.CoreV1().ConfigMaps(c.namespace)
	existing, err := cms.Get(ctx, cm.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if _, err := cms.Create(ctx, cm, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("failed to create configmap %s: %w", cm.Name, err)
		}
		logging.Info("Created configmap %s", cm.Name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get configmap %s: %w", cm.Name, err)
	}
	if diff := diffData(existing.Data, cm.Data); diff != "" {
		return fmt.Errorf("%w: configmap %s: %s", ErrConfigDrift, cm.Name, diff)
	}
	return nil
}

// ReplaceConfigMap deletes and recreates cm. Pods pick up the new values
// only when they restart.
func (c *Client) ReplaceConfigMap(ctx context.Context, cm *corev1.ConfigMap) error {
	cms := c.kube.CoreV1().ConfigMaps(c.namespace)
	if err := cms.Delete(ctx, cm.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete configmap %s: %w", cm.Name, err)
	}
	if _, err := cms.Create(ctx, cm, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("failed to create configmap %s: %w", cm.Name, err)
	}
	logging.Info("Replaced configmap %s", cm.Name)
	return nil
}

func diffData(have, want map[string]string) string {
	for k, v := range want {
		if hv, ok := have[k]; !ok {
			return fmt.Sprintf("%s is missing", k)
		} else if hv != v {
			return fmt.Sprintf("%s is %q, want %q", k, hv, v)
		}
	}
	for k := range have {
		if _, ok := want[k]; !ok {
			return fmt.Sprintf("%s is no longer set", k)
		}
	}
	return ""
}

// EnsurePVC creates the claim unless it exists. Claims are never updated.
func (c *Client) EnsurePVC(ctx context.Context, pvc *corev1.PersistentVolumeClaim) error {
	_, err := c.kube.CoreV1().PersistentVolumeClaims(c.namespace).Create(ctx, pvc, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		logging.Debug("persistentvolumeclaim %s already exists", pvc.Name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create persistentvolumeclaim %s: %w", pvc.Name, err)
	}
	logging.Info("Created persistentvolumeclaim %s", pvc.Name)
	return nil
}

// PVCPhase returns the phase of the named claim, or "" when absent.
func (c *Client) PVCPhase(ctx context.Context, name string) (corev1.PersistentVolumeClaimPhase, error) {
	pvc, err := c.kube.CoreV1().PersistentVolumeClaims(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get persistentvolumeclaim %s: %w", name, err)
	}
	return pvc.Status.Phase, nil
}
