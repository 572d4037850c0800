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
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"iris-mlops/pkg/cluster"
	"iris-mlops/pkg/config"
	"iris-mlops/pkg/imagebuilder"
	"iris-mlops/pkg/logging"
	"iris-mlops/pkg/manifests"
	"iris-mlops/pkg/orchestrator"
	"iris-mlops/pkg/shell"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
	"sigs.k8s.io/yaml"
)

func init() {
	logging.SetOutput(io.Discard)
}

type fakeGcloud struct {
	calls   [][]string
	project string
	failOn  string
}

func (f *fakeGcloud) run(name string, args ...string) shell.CommandResult {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	joined := strings.Join(call, " ")
	if f.failOn != "" && strings.Contains(joined, f.failOn) {
		return shell.CommandResult{ExitCode: 1, Stderr: "ERROR: (gcloud) failed"}
	}
	if strings.HasPrefix(joined, "gcloud config get-value project") {
		return shell.CommandResult{Stdout: f.project + "\n"}
	}
	return shell.CommandResult{}
}

func newTestOrchestrator(gcloud *fakeGcloud) (*GKEOrchestrator, *fake.Clientset, afero.Fs) {
	kube := fake.NewSimpleClientset()
	fs := afero.NewMemMapFs()
	g := &GKEOrchestrator{
		run: gcloud.run,
		connect: func(namespace string) (*cluster.Client, error) {
			return cluster.New(kube, namespace), nil
		},
		build: func(ctx context.Context, opts imagebuilder.BuildOptions) (imagebuilder.TaskImages, error) {
			return imagebuilder.Images(opts.Registry, opts.Tag), nil
		},
		fs: fs,
	}
	return g, kube, fs
}

func TestGetProjectID(t *testing.T) {
	tests := []struct {
		name    string
		given   string
		gcloud  fakeGcloud
		want    string
		wantErr bool
	}{
		{name: "provided", given: "flag-project", want: "flag-project"},
		{name: "from gcloud", gcloud: fakeGcloud{project: "gcloud-project"}, want: "gcloud-project"},
		{name: "unset", gcloud: fakeGcloud{project: "(unset)"}, wantErr: true},
		{name: "gcloud fails", gcloud: fakeGcloud{failOn: "get-value"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _, _ := newTestOrchestrator(&tt.gcloud)
			got, err := g.getProjectID(tt.given)
			if (err != nil) != tt.wantErr {
				t.Fatalf("getProjectID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("getProjectID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLocationFlag(t *testing.T) {
	for loc, want := range map[string]string{
		"us-central1-a":   "--zone",
		"europe-west4-b":  "--zone",
		"us-central1":     "--region",
		"asia-southeast1": "--region",
	} {
		if got := locationFlag(loc); got != want {
			t.Errorf("locationFlag(%q) = %q, want %q", loc, got, want)
		}
	}
}

func TestResolveDefaults(t *testing.T) {
	s := config.Default()
	s.GCPProjectID = "settings-project"
	s.ClusterName = "iris-cluster"
	s.GCPZone = "us-central1-a"
	g, _, _ := newTestOrchestrator(&fakeGcloud{})

	def, err := g.resolve(orchestrator.DeploymentDefinition{Settings: s})
	if err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	want := orchestrator.DeploymentDefinition{
		Settings:        s,
		Tag:             "latest",
		TrainImage:      "gcr.io/settings-project/iris-train:latest",
		ServeImage:      "gcr.io/settings-project/iris-serve:latest",
		ImagePullPolicy: corev1.PullAlways,
		ServiceType:     corev1.ServiceTypeLoadBalancer,
		ProjectID:       "settings-project",
		ClusterName:     "iris-cluster",
		ClusterLocation: "us-central1-a",
	}
	if diff := cmp.Diff(want, def); diff != "" {
		t.Errorf("resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestDeployWritesManifests(t *testing.T) {
	gcloud := &fakeGcloud{}
	g, kube, fs := newTestOrchestrator(gcloud)
	def := orchestrator.DeploymentDefinition{
		Settings:         config.Default(),
		ProjectID:        "p",
		Tag:              "v3",
		BaseDockerImage:  "gcr.io/distroless/static:nonroot",
		OutputManifest:   "/out/iris.yaml",
		StorageClassName: "standard-rwx",
		AccessMode:       corev1.ReadWriteMany,
	}

	if _, err := g.Deploy(context.Background(), def); err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	data, err := afero.ReadFile(fs, "/out/iris.yaml")
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}

	var kinds []string
	for _, doc := range strings.Split(string(data), "---\n") {
		if strings.TrimSpace(doc) == "" {
			continue
		}
		var obj map[string]interface{}
		if err := yaml.Unmarshal([]byte(doc), &obj); err != nil {
			t.Fatalf("invalid yaml document: %v", err)
		}
		kinds = append(kinds, obj["kind"].(string))
	}
	wantKinds := []string{"Namespace", "ConfigMap", "PersistentVolumeClaim", "Job", "Deployment", "Service"}
	if diff := cmp.Diff(wantKinds, kinds); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(string(data), "gcr.io/p/iris-train:v3") || !strings.Contains(string(data), "gcr.io/p/iris-serve:v3") {
		t.Error("manifests do not reference the built images")
	}
	if !strings.Contains(string(data), "type: LoadBalancer") {
		t.Error("service is not a LoadBalancer")
	}
	if !strings.Contains(string(data), "storageClassName: standard-rwx") || !strings.Contains(string(data), "- ReadWriteMany") {
		t.Error("claim does not carry the requested storage class and access mode")
	}
	if len(kube.Actions()) != 0 || len(gcloud.calls) != 0 {
		t.Errorf("rendering touched the cluster: %d api calls, %d gcloud calls", len(kube.Actions()), len(gcloud.calls))
	}
}

func TestDeployConfiguresKubectl(t *testing.T) {
	gcloud := &fakeGcloud{}
	g, kube, _ := newTestOrchestrator(gcloud)
	def := orchestrator.DeploymentDefinition{
		Settings:        config.Default(),
		ProjectID:       "p",
		ClusterName:     "iris",
		ClusterLocation: "us-central1",
		Timeout:         20 * time.Millisecond,
	}

	report, err := g.Deploy(context.Background(), def)
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	wantCalls := [][]string{{"gcloud", "container", "clusters", "get-credentials", "iris", "--project", "p", "--region", "us-central1"}}
	if diff := cmp.Diff(wantCalls, gcloud.calls); diff != "" {
		t.Errorf("gcloud calls mismatch (-want +got):\n%s", diff)
	}
	if len(report.Results) != 9 {
		t.Errorf("got %d step results, want 9", len(report.Results))
	}
	svc, err := kube.CoreV1().Services("iris-ml").Get(context.Background(), manifests.ServiceName, metav1.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if svc.Spec.Type != corev1.ServiceTypeLoadBalancer {
		t.Errorf("service type = %s", svc.Spec.Type)
	}
}

func TestDeployStopsWhenCredentialsFail(t *testing.T) {
	g, kube, _ := newTestOrchestrator(&fakeGcloud{failOn: "get-credentials"})
	def := orchestrator.DeploymentDefinition{Settings: config.Default(), ProjectID: "p", ClusterName: "iris"}

	if _, err := g.Deploy(context.Background(), def); err == nil {
		t.Fatal("Deploy() succeeded without credentials")
	}
	if len(kube.Actions()) != 0 {
		t.Errorf("got %d api calls, want none", len(kube.Actions()))
	}
}

func TestDeployBuildFailure(t *testing.T) {
	g, _, _ := newTestOrchestrator(&fakeGcloud{})
	g.build = func(context.Context, imagebuilder.BuildOptions) (imagebuilder.TaskImages, error) {
		return imagebuilder.TaskImages{}, errors.New("registry unavailable")
	}
	def := orchestrator.DeploymentDefinition{Settings: config.Default(), ProjectID: "p", BaseDockerImage: "debian:12"}
	if _, err := g.Deploy(context.Background(), def); err == nil {
		t.Error("Deploy() succeeded after a failed build")
	}
}
