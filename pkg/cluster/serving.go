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
	"sort"
	"time"

	"iris-mlops/pkg/logging"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/wait"
)

// EnsureDeployment creates d or replaces the spec of the existing
// Deployment. A changed pod template triggers a rolling update. With
// keepReplicas the live replica count of an existing Deployment is kept.
func (c *Client) EnsureDeployment(ctx context.Context, d *appsv1.Deployment, keepReplicas bool) error {
	deployments := c.kube.AppsV1().Deployments(c.namespace)
	existing, err := deployments.Get(ctx, d.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if _, err := deployments.Create(ctx, d, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("failed to create deployment %s: %w", d.Name, err)
		}
		logging.Info("Created deployment %s", d.Name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get deployment %s: %w", d.Name, err)
	}

	updated := existing.DeepCopy()
	updated.Labels = d.Labels
	updated.Spec = d.Spec
	if keepReplicas && existing.Spec.Replicas != nil {
		n := *existing.Spec.Replicas
		updated.Spec.Replicas = &n
	}
	if _, err := deployments.Update(ctx, updated, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update deployment %s: %w", d.Name, err)
	}
	logging.Info("Updated deployment %s", d.Name)
	return nil
}

// ScaleDeployment sets the desired replica count.
func (c *Client) ScaleDeployment(ctx context.Context, name string, replicas int32) error {
	if replicas < 0 {
		return fmt.Errorf("replicas must be >= 0, got %d", replicas)
	}
	deployments := c.kube.AppsV1().Deployments(c.namespace)
	d, err := deployments.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get deployment %s: %w", name, err)
	}
	d.Spec.Replicas = &replicas
	if _, err := deployments.Update(ctx, d, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to scale deployment %s: %w", name, err)
	}
	logging.Info("Scaled deployment %s to %d replicas", name, replicas)
	return nil
}

// DeploymentAvailable reports whether the Available condition is True for
// the current generation.
func DeploymentAvailable(d *appsv1.Deployment) bool {
	if d.Status.ObservedGeneration < d.Generation {
		return false
	}
	for _, cond := range d.Status.Conditions {
		if cond.Type == appsv1.DeploymentAvailable {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// WaitForDeployment polls until the Deployment is Available or timeout
// elapses. On timeout the error satisfies wait.Interrupted.
func (c *Client) WaitForDeployment(ctx context.Context, name string, timeout time.Duration) error {
	return wait.PollUntilContextTimeout(ctx, c.pollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		d, err := c.kube.AppsV1().Deployments(c.namespace).Get(ctx, name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return false, fmt.Errorf("deployment %s does not exist", name)
		}
		if err != nil {
			return false, fmt.Errorf("failed to get deployment %s: %w", name, err)
		}
		if DeploymentAvailable(d) {
			logging.Info("deployment %s is available (%d/%d ready)", name, d.Status.ReadyReplicas, desired(d))
			return true, nil
		}
		logging.Debug("deployment %s: %d/%d ready", name, d.Status.ReadyReplicas, desired(d))
		return false, nil
	})
}

func desired(d *appsv1.Deployment) int32 {
	if d.Spec.Replicas == nil {
		return 1
	}
	return *d.Spec.Replicas
}

// EnsureService creates svc or updates the existing Service in place,
// keeping its cluster IP and any allocated node ports.
func (c *Client) EnsureService(ctx context.Context, svc *corev1.Service) error {
	services := c.kube.CoreV1().Services(c.namespace)
	existing, err := services.Get(ctx, svc.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if _, err := services.Create(ctx, svc, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("failed to create service %s: %w", svc.Name, err)
		}
		logging.Info("Created service %s", svc.Name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get service %s: %w", svc.Name, err)
	}

	updated := existing.DeepCopy()
	updated.Labels = svc.Labels
	updated.Spec.Type = svc.Spec.Type
	updated.Spec.Selector = svc.Spec.Selector
	ports := make([]corev1.ServicePort, len(svc.Spec.Ports))
	for i, p := range svc.Spec.Ports {
		for _, old := range existing.Spec.Ports {
			if old.Name == p.Name && p.NodePort == 0 {
				p.NodePort = old.NodePort
			}
		}
		ports[i] = p
	}
	updated.Spec.Ports = ports
	if _, err := services.Update(ctx, updated, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update service %s: %w", svc.Name, err)
	}
	logging.Debug("Updated service %s", svc.Name)
	return nil
}

// podReady reports whether pod may receive traffic from a Service.
func podReady(pod *corev1.Pod) bool {
	if pod.DeletionTimestamp != nil {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// ReachableReplicas returns the names of the pods selected by the Service
// that are Ready and not terminating, sorted.
func (c *Client) ReachableReplicas(ctx context.Context, serviceName string) ([]string, error) {
	svc, err := c.kube.CoreV1().Services(c.namespace).Get(ctx, serviceName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get service %s: %w", serviceName, err)
	}
	if len(svc.Spec.Selector) == 0 {
		return nil, nil
	}
	pods, err := c.kube.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labels.SelectorFromSet(svc.Spec.Selector).String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods for service %s: %w", serviceName, err)
	}
	var names []string
	for i := range pods.Items {
		if podReady(&pods.Items[i]) {
			names = append(names, pods.Items[i].Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Endpoint returns a URL clients can reach the Service on, or "" while a
// load balancer address is still being provisioned.
func (c *Client) Endpoint(ctx context.Context, serviceName string) (string, error) {
	svc, err := c.kube.CoreV1().Services(c.namespace).Get(ctx, serviceName, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get service %s: %w", serviceName, err)
	}
	if len(svc.Spec.Ports) == 0 {
		return "", fmt.Errorf("service %s exposes no ports", serviceName)
	}
	port := svc.Spec.Ports[0]

	switch svc.Spec.Type {
	case corev1.ServiceTypeLoadBalancer:
		for _, ing := range svc.Status.LoadBalancer.Ingress {
			host := ing.IP
			if host == "" {
				host = ing.Hostname
			}
			if host != "" {
				return fmt.Sprintf("http://%s:%d", host, port.Port), nil
			}
		}
		return "", nil
	case corev1.ServiceTypeNodePort:
		if port.NodePort == 0 {
			return "", nil
		}
		host, err := c.nodeAddress(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("http://%s:%d", host, port.NodePort), nil
	default:
		return fmt.Sprintf("http://%s.%s.svc:%d", svc.Name, svc.Namespace, port.Port), nil
	}
}

func (c *Client) nodeAddress(ctx context.Context) (string, error) {
	nodes, err := c.kube.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to list nodes: %w", err)
	}
	for _, n := range nodes.Items {
		for _, addr := range n.Status.Addresses {
			if addr.Type == corev1.NodeInternalIP {
				return addr.Address, nil
			}
		}
	}
	return "localhost", nil
}
