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
	"errors"
	"io"
	"testing"
	"time"

	"iris-mlops/pkg/logging"

	"github.com/google/go-cmp/cmp"
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes/fake"
)

const ns = "iris-ml"

func init() {
	logging.SetOutput(io.Discard)
}

func newTestClient(objs ...runtime.Object) (*Client, *fake.Clientset) {
	kube := fake.NewSimpleClientset(objs...)
	c := New(kube, ns)
	c.pollInterval = 5 * time.Millisecond
	return c, kube
}

var selector = map[string]string{"app.kubernetes.io/name": "iris-classifier", "app.kubernetes.io/component": "serving"}

func pod(name string, ready bool, terminating bool) *corev1.Pod {
	status := corev1.ConditionFalse
	if ready {
		status = corev1.ConditionTrue
	}
	p := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, Labels: selector},
		Status: corev1.PodStatus{
			Phase:      corev1.PodRunning,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: status}},
		},
	}
	if terminating {
		now := metav1.Now()
		p.DeletionTimestamp = &now
	}
	return p
}

func service(typ corev1.ServiceType) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: "iris-api", Namespace: ns},
		Spec: corev1.ServiceSpec{
			Type:     typ,
			Selector: selector,
			Ports:    []corev1.ServicePort{{Name: "http", Port: 80}},
		},
	}
}

func deployment(replicas int32, image string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "iris-serve", Namespace: ns},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: selector},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: selector},
				Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "serve", Image: image}}},
			},
		},
	}
}

func jobWith(status batchv1.JobStatus) *batchv1.Job {
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "iris-train", Namespace: ns},
		Status:     status,
	}
}

func TestEnsureNamespaceIsIdempotent(t *testing.T) {
	c, kube := newTestClient()
	n := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: ns}}
	for i := 0; i < 2; i++ {
		if err := c.EnsureNamespace(context.Background(), n); err != nil {
			t.Fatalf("EnsureNamespace() call %d error = %v", i, err)
		}
	}
	list, _ := kube.CoreV1().Namespaces().List(context.Background(), metav1.ListOptions{})
	if len(list.Items) != 1 {
		t.Errorf("namespaces = %d, want 1", len(list.Items))
	}
}

func TestEnsureConfigMap(t *testing.T) {
	ctx := context.Background()
	c, kube := newTestClient()
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "iris-config", Namespace: ns},
		Data:       map[string]string{"RANDOM_STATE": "42"},
	}
	if err := c.EnsureConfigMap(ctx, cm); err != nil {
		t.Fatalf("EnsureConfigMap() error = %v", err)
	}
	if err := c.EnsureConfigMap(ctx, cm.DeepCopy()); err != nil {
		t.Errorf("EnsureConfigMap() with same data error = %v, want nil", err)
	}

	changed := cm.DeepCopy()
	changed.Data["RANDOM_STATE"] = "7"
	if err := c.EnsureConfigMap(ctx, changed); !errors.Is(err, ErrConfigDrift) {
		t.Errorf("EnsureConfigMap() with new data error = %v, want ErrConfigDrift", err)
	}

	if err := c.ReplaceConfigMap(ctx, changed); err != nil {
		t.Fatalf("ReplaceConfigMap() error = %v", err)
	}
	got, _ := kube.CoreV1().ConfigMaps(ns).Get(ctx, "iris-config", metav1.GetOptions{})
	if got.Data["RANDOM_STATE"] != "7" {
		t.Errorf("after ReplaceConfigMap() RANDOM_STATE = %q, want 7", got.Data["RANDOM_STATE"])
	}
}

func TestDiffData(t *testing.T) {
	tests := []struct {
		name      string
		have      map[string]string
		want      map[string]string
		wantEmpty bool
	}{
		{"equal", map[string]string{"A": "1"}, map[string]string{"A": "1"}, true},
		{"both empty", nil, map[string]string{}, true},
		{"changed", map[string]string{"A": "1"}, map[string]string{"A": "2"}, false},
		{"added", map[string]string{}, map[string]string{"A": "1"}, false},
		{"removed", map[string]string{"A": "1"}, map[string]string{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := diffData(tc.have, tc.want); (got == "") != tc.wantEmpty {
				t.Errorf("diffData() = %q, wantEmpty %v", got, tc.wantEmpty)
			}
		})
	}
}

func TestSubmitJobIsNoOpWhenPresent(t *testing.T) {
	ctx := context.Background()
	existing := jobWith(batchv1.JobStatus{Conditions: []batchv1.JobCondition{{Type: batchv1.JobComplete, Status: corev1.ConditionTrue}}})
	c, kube := newTestClient(existing)

	created, err := c.SubmitJob(ctx, jobWith(batchv1.JobStatus{}))
	if err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	if created {
		t.Error("SubmitJob() created a second job")
	}
	got, _ := kube.BatchV1().Jobs(ns).Get(ctx, "iris-train", metav1.GetOptions{})
	if phaseOf(got) != JobComplete {
		t.Errorf("existing job was modified, phase = %s", phaseOf(got))
	}

	if err := c.DeleteJob(ctx, "iris-train"); err != nil {
		t.Fatalf("DeleteJob() error = %v", err)
	}
	created, err = c.SubmitJob(ctx, jobWith(batchv1.JobStatus{}))
	if err != nil || !created {
		t.Errorf("SubmitJob() after delete = %v, %v; want created", created, err)
	}
}

func TestJobPhase(t *testing.T) {
	tests := []struct {
		name   string
		status batchv1.JobStatus
		want   JobPhase
	}{
		{"pending", batchv1.JobStatus{}, JobPending},
		{"running", batchv1.JobStatus{Active: 1}, JobRunning},
		{"complete", batchv1.JobStatus{Conditions: []batchv1.JobCondition{{Type: batchv1.JobComplete, Status: corev1.ConditionTrue}}}, JobComplete},
		{"failed", batchv1.JobStatus{Failed: 1, Conditions: []batchv1.JobCondition{{Type: batchv1.JobFailed, Status: corev1.ConditionTrue}}}, JobFailed},
		{"condition not true", batchv1.JobStatus{Active: 1, Conditions: []batchv1.JobCondition{{Type: batchv1.JobFailed, Status: corev1.ConditionFalse}}}, JobRunning},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(jobWith(tc.status))
			got, err := c.JobPhase(context.Background(), "iris-train")
			if err != nil {
				t.Fatalf("JobPhase() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("JobPhase() = %s, want %s", got, tc.want)
			}
		})
	}

	c, _ := newTestClient()
	if got, _ := c.JobPhase(context.Background(), "iris-train"); got != JobAbsent {
		t.Errorf("JobPhase() of missing job = %s, want %s", got, JobAbsent)
	}
}

func TestWaitForJob(t *testing.T) {
	tests := []struct {
		name        string
		status      batchv1.JobStatus
		wantPhase   JobPhase
		wantErr     error
		wantTimeout bool
	}{
		{
			name:      "complete",
			status:    batchv1.JobStatus{Conditions: []batchv1.JobCondition{{Type: batchv1.JobComplete, Status: corev1.ConditionTrue}}},
			wantPhase: JobComplete,
		},
		{
			name:      "failed",
			status:    batchv1.JobStatus{Conditions: []batchv1.JobCondition{{Type: batchv1.JobFailed, Status: corev1.ConditionTrue}}},
			wantPhase: JobFailed,
			wantErr:   ErrJobFailed,
		},
		{
			name:        "still running",
			status:      batchv1.JobStatus{Active: 1},
			wantPhase:   JobRunning,
			wantTimeout: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(jobWith(tc.status))
			phase, err := c.WaitForJob(context.Background(), "iris-train", 50*time.Millisecond)
			if phase != tc.wantPhase {
				t.Errorf("WaitForJob() phase = %s, want %s", phase, tc.wantPhase)
			}
			switch {
			case tc.wantTimeout:
				if !wait.Interrupted(err) {
					t.Errorf("WaitForJob() error = %v, want a timeout", err)
				}
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("WaitForJob() error = %v, want %v", err, tc.wantErr)
				}
			case err != nil:
				t.Errorf("WaitForJob() error = %v", err)
			}
		})
	}
}

func TestEnsureDeploymentUpdatesTemplate(t *testing.T) {
	ctx := context.Background()
	c, kube := newTestClient()
	if err := c.EnsureDeployment(ctx, deployment(2, "iris-serve:v1"), false); err != nil {
		t.Fatalf("EnsureDeployment() error = %v", err)
	}
	if err := c.EnsureDeployment(ctx, deployment(2, "iris-serve:v2"), false); err != nil {
		t.Fatalf("EnsureDeployment() update error = %v", err)
	}
	got, _ := kube.AppsV1().Deployments(ns).Get(ctx, "iris-serve", metav1.GetOptions{})
	if image := got.Spec.Template.Spec.Containers[0].Image; image != "iris-serve:v2" {
		t.Errorf("image = %s, want iris-serve:v2", image)
	}
}

func TestEnsureDeploymentReplicas(t *testing.T) {
	tests := []struct {
		name         string
		keepReplicas bool
		want         int32
	}{
		{"explicit count applied", false, 2},
		{"scaled count kept", true, 4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			c, kube := newTestClient(deployment(4, "iris-serve:v1"))
			if err := c.EnsureDeployment(ctx, deployment(2, "iris-serve:v2"), tc.keepReplicas); err != nil {
				t.Fatalf("EnsureDeployment() error = %v", err)
			}
			got, _ := kube.AppsV1().Deployments(ns).Get(ctx, "iris-serve", metav1.GetOptions{})
			if *got.Spec.Replicas != tc.want {
				t.Errorf("replicas = %d, want %d", *got.Spec.Replicas, tc.want)
			}
			if image := got.Spec.Template.Spec.Containers[0].Image; image != "iris-serve:v2" {
				t.Errorf("image = %s, want iris-serve:v2", image)
			}
		})
	}
}

func TestScaleDeployment(t *testing.T) {
	ctx := context.Background()
	c, kube := newTestClient(deployment(2, "iris-serve:v1"))
	if err := c.ScaleDeployment(ctx, "iris-serve", 4); err != nil {
		t.Fatalf("ScaleDeployment() error = %v", err)
	}
	got, _ := kube.AppsV1().Deployments(ns).Get(ctx, "iris-serve", metav1.GetOptions{})
	if *got.Spec.Replicas != 4 {
		t.Errorf("replicas = %d, want 4", *got.Spec.Replicas)
	}
	if err := c.ScaleDeployment(ctx, "iris-serve", -1); err == nil {
		t.Error("ScaleDeployment(-1) succeeded, want error")
	}
	if err := c.ScaleDeployment(ctx, "missing", 1); err == nil {
		t.Error("ScaleDeployment() of a missing deployment succeeded, want error")
	}
}

func TestWaitForDeployment(t *testing.T) {
	available := deployment(2, "img")
	available.Status.Conditions = []appsv1.DeploymentCondition{{Type: appsv1.DeploymentAvailable, Status: corev1.ConditionTrue}}
	c, _ := newTestClient(available)
	if err := c.WaitForDeployment(context.Background(), "iris-serve", time.Second); err != nil {
		t.Errorf("WaitForDeployment() error = %v", err)
	}

	notYet := deployment(2, "img")
	notYet.Status.Conditions = []appsv1.DeploymentCondition{{Type: appsv1.DeploymentAvailable, Status: corev1.ConditionFalse}}
	c, _ = newTestClient(notYet)
	if err := c.WaitForDeployment(context.Background(), "iris-serve", 30*time.Millisecond); !wait.Interrupted(err) {
		t.Errorf("WaitForDeployment() error = %v, want a timeout", err)
	}

	stale := available.DeepCopy()
	stale.Generation = 2
	stale.Status.ObservedGeneration = 1
	if DeploymentAvailable(stale) {
		t.Error("DeploymentAvailable() = true for an unobserved generation")
	}
}

func TestReachableReplicas(t *testing.T) {
	other := pod("unrelated", true, false)
	other.Labels = map[string]string{"app": "other"}
	c, _ := newTestClient(
		service(corev1.ServiceTypeNodePort),
		pod("serve-b", true, false),
		pod("serve-a", true, false),
		pod("serve-starting", false, false),
		pod("serve-terminating", true, true),
		other,
	)
	got, err := c.ReachableReplicas(context.Background(), "iris-api")
	if err != nil {
		t.Fatalf("ReachableReplicas() error = %v", err)
	}
	if diff := cmp.Diff([]string{"serve-a", "serve-b"}, got); diff != "" {
		t.Errorf("ReachableReplicas() mismatch (-want +got):\n%s", diff)
	}
}

func TestEnsureServiceKeepsNodePort(t *testing.T) {
	ctx := context.Background()
	existing := service(corev1.ServiceTypeNodePort)
	existing.Spec.ClusterIP = "10.0.0.5"
	existing.Spec.Ports[0].NodePort = 31234
	c, kube := newTestClient(existing)

	if err := c.EnsureService(ctx, service(corev1.ServiceTypeNodePort)); err != nil {
		t.Fatalf("EnsureService() error = %v", err)
	}
	got, _ := kube.CoreV1().Services(ns).Get(ctx, "iris-api", metav1.GetOptions{})
	if got.Spec.ClusterIP != "10.0.0.5" || got.Spec.Ports[0].NodePort != 31234 {
		t.Errorf("service = %s:%d, want cluster IP and node port kept", got.Spec.ClusterIP, got.Spec.Ports[0].NodePort)
	}
}

func TestEndpoint(t *testing.T) {
	lb := service(corev1.ServiceTypeLoadBalancer)
	pendingLB := lb.DeepCopy()
	lb.Status.LoadBalancer.Ingress = []corev1.LoadBalancerIngress{{IP: "34.1.2.3"}}
	np := service(corev1.ServiceTypeNodePort)
	np.Spec.Ports[0].NodePort = 30080
	node := &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "kind-control-plane"},
		Status:     corev1.NodeStatus{Addresses: []corev1.NodeAddress{{Type: corev1.NodeInternalIP, Address: "172.18.0.2"}}},
	}

	tests := []struct {
		name string
		objs []runtime.Object
		want string
	}{
		{"load balancer", []runtime.Object{lb}, "http://34.1.2.3:80"},
		{"load balancer pending", []runtime.Object{pendingLB}, ""},
		{"node port", []runtime.Object{np, node}, "http://172.18.0.2:30080"},
		{"cluster ip", []runtime.Object{service(corev1.ServiceTypeClusterIP)}, "http://iris-api.iris-ml.svc:80"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(tc.objs...)
			got, err := c.Endpoint(context.Background(), "iris-api")
			if err != nil {
				t.Fatalf("Endpoint() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("Endpoint() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	names := Names{ConfigMap: "iris-config", PVC: "iris-models", Job: "iris-train", Deployment: "iris-serve", Service: "iris-api"}

	c, _ := newTestClient()
	st, err := c.Status(context.Background(), names)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.NamespaceExists {
		t.Error("Status() reported a namespace that does not exist")
	}

	d := deployment(2, "img")
	d.Status.ReadyReplicas = 1
	c, _ = newTestClient(
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: ns}},
		&corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "iris-config", Namespace: ns}},
		&corev1.PersistentVolumeClaim{
			ObjectMeta: metav1.ObjectMeta{Name: "iris-models", Namespace: ns},
			Status:     corev1.PersistentVolumeClaimStatus{Phase: corev1.ClaimBound},
		},
		jobWith(batchv1.JobStatus{Active: 1}),
		d,
		service(corev1.ServiceTypeClusterIP),
		pod("serve-a", true, false),
	)
	st, err = c.Status(context.Background(), names)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	want := Status{
		Namespace:        ns,
		NamespaceExists:  true,
		ConfigMapExists:  true,
		PVCPhase:         corev1.ClaimBound,
		Job:              JobRunning,
		DeploymentExists: true,
		DesiredReplicas:  2,
		ReadyReplicas:    1,
		ServiceExists:    true,
		Reachable:        []string{"serve-a"},
		Endpoint:         "http://iris-api.iris-ml.svc:80",
	}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("Status() mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteNamespace(t *testing.T) {
	c, kube := newTestClient(&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: ns}})
	if err := c.DeleteNamespace(context.Background()); err != nil {
		t.Fatalf("DeleteNamespace() error = %v", err)
	}
	list, _ := kube.CoreV1().Namespaces().List(context.Background(), metav1.ListOptions{})
	if len(list.Items) != 0 {
		t.Errorf("namespaces left = %d, want 0", len(list.Items))
	}
	if err := c.DeleteNamespace(context.Background()); err != nil {
		t.Errorf("second DeleteNamespace() error = %v, want nil", err)
	}
}
