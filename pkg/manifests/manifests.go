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

// Package manifests builds the Kubernetes objects that make up an iris
// deployment and renders them as YAML.
package manifests

import (
	"bytes"
	"fmt"
	"path"

	"iris-mlops/pkg/config"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/yaml"
)

// Object names. They are fixed so re-running a deployment finds the
// resources of the previous run.
const (
	ConfigMapName  = "iris-config"
	PVCName        = "iris-models"
	JobName        = "iris-train"
	DeploymentName = "iris-serve"
	ServiceName    = "iris-api"

	// ModelsMountPath is where the shared claim is mounted in both tasks.
	ModelsMountPath = "/models"

	ComponentTraining = "training"
	ComponentServing  = "serving"
)

// Standard label keys.
const (
	LabelAppName      = "app.kubernetes.io/name"
	LabelAppComponent = "app.kubernetes.io/component"
	LabelAppVersion   = "app.kubernetes.io/version"
	LabelAppPartOf    = "app.kubernetes.io/part-of"
	LabelAppManagedBy = "app.kubernetes.io/managed-by"

	AppName   = "iris-classifier"
	PartOf    = "iris-mlops"
	ManagedBy = "iris"
)

const (
	defaultReplicas    int32 = 2
	defaultStorageSize       = "1Gi"
	httpPortName             = "http"
	jobTTLSeconds      int32 = 3600

	// nonrootID is the user of distroless nonroot images.
	nonrootID int64 = 65532
)

// Options parameterises Build.
type Options struct {
	Settings config.Settings

	TrainImage      string
	ServeImage      string
	ImagePullPolicy corev1.PullPolicy

	// Replicas of the serving Deployment; 0 means 2.
	Replicas    int32
	ServiceType corev1.ServiceType

	// StorageSize of the model claim; empty means 1Gi.
	StorageSize      string
	StorageClassName string
	// AccessMode of the model claim; empty means ReadWriteOnce. Serving
	// pods spread over several nodes need ReadWriteMany.
	AccessMode       corev1.PersistentVolumeAccessMode
}

// Set is every object of one deployment, in apply order.
type Set struct {
	Namespace  *corev1.Namespace
	ConfigMap  *corev1.ConfigMap
	PVC        *corev1.PersistentVolumeClaim
	Job        *batchv1.Job
	Deployment *appsv1.Deployment
	Service    *corev1.Service
}

// Objects returns the members of s in apply order.
func (s Set) Objects() []runtime.Object {
	return []runtime.Object{s.Namespace, s.ConfigMap, s.PVC, s.Job, s.Deployment, s.Service}
}

// SelectorLabels identify the pods of a component. They never change
// between releases so Deployment selectors stay valid.
func SelectorLabels(component string) map[string]string {
	return map[string]string{
		LabelAppName:      AppName,
		LabelAppComponent: component,
	}
}

// StandardLabels are applied to every object built for component.
func StandardLabels(component, version string) map[string]string {
	labels := SelectorLabels(component)
	labels[LabelAppPartOf] = PartOf
	labels[LabelAppManagedBy] = ManagedBy
	if version != "" {
		labels[LabelAppVersion] = version
	}
	return labels
}

// ClusterModelPath is MODEL_PATH as seen from inside the pods.
func ClusterModelPath(s config.Settings) string {
	return path.Join(ModelsMountPath, path.Base(s.ModelPath))
}

// Build assembles the objects for opts.
func Build(opts Options) (Set, error) {
	if opts.TrainImage == "" || opts.ServeImage == "" {
		return Set{}, fmt.Errorf("both a training and a serving image are required")
	}
	if err := opts.Settings.Validate(); err != nil {
		return Set{}, err
	}
	if opts.Replicas < 0 {
		return Set{}, fmt.Errorf("replicas must be >= 0, got %d", opts.Replicas)
	}
	if opts.Replicas == 0 {
		opts.Replicas = defaultReplicas
	}
	if opts.ServiceType == "" {
		opts.ServiceType = corev1.ServiceTypeClusterIP
	}
	if opts.ImagePullPolicy == "" {
		opts.ImagePullPolicy = corev1.PullIfNotPresent
	}
	if opts.StorageSize == "" {
		opts.StorageSize = defaultStorageSize
	}
	switch opts.AccessMode {
	case "":
		opts.AccessMode = corev1.ReadWriteOnce
	case corev1.ReadWriteOnce, corev1.ReadWriteMany:
	default:
		return Set{}, fmt.Errorf("unsupported access mode %q: the model volume must be ReadWriteOnce or ReadWriteMany", opts.AccessMode)
	}
	size, err := resource.ParseQuantity(opts.StorageSize)
	if err != nil {
		return Set{}, fmt.Errorf("invalid storage size %q: %w", opts.StorageSize, err)
	}

	ns := opts.Settings.K8sNamespace
	set := Set{
		Namespace: &corev1.Namespace{
			TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Namespace"},
			ObjectMeta: metav1.ObjectMeta{
				Name:   ns,
				Labels: map[string]string{LabelAppPartOf: PartOf, LabelAppManagedBy: ManagedBy},
			},
		},
		ConfigMap:  buildConfigMap(opts),
		PVC:        buildPVC(opts, size),
		Job:        buildJob(opts),
		Deployment: buildDeployment(opts),
		Service:    buildService(opts),
	}
	return set, nil
}

func buildConfigMap(opts Options) *corev1.ConfigMap {
	s := opts.Settings.WithModelPath(ClusterModelPath(opts.Settings))
	s.APIHost = "0.0.0.0"
	immutable := true
	return &corev1.ConfigMap{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      ConfigMapName,
			Namespace: s.K8sNamespace,
			Labels:    map[string]string{LabelAppName: AppName, LabelAppPartOf: PartOf, LabelAppManagedBy: ManagedBy},
		},
		Data:      s.ConfigData(),
		Immutable: &immutable,
	}
}

func buildPVC(opts Options, size resource.Quantity) *corev1.PersistentVolumeClaim {
	pvc := &corev1.PersistentVolumeClaim{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "PersistentVolumeClaim"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      PVCName,
			Namespace: opts.Settings.K8sNamespace,
			Labels:    map[string]string{LabelAppName: AppName, LabelAppPartOf: PartOf, LabelAppManagedBy: ManagedBy},
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{opts.AccessMode},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: size},
			},
		},
	}
	if opts.StorageClassName != "" {
		sc := opts.StorageClassName
		pvc.Spec.StorageClassName = &sc
	}
	return pvc
}

func modelsVolume(readOnly bool) corev1.Volume {
	return corev1.Volume{
		Name: "models",
		VolumeSource: corev1.VolumeSource{
			PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
				ClaimName: PVCName,
				ReadOnly:  readOnly,
			},
		},
	}
}

// podSecurityContext runs as non-root and gives the pod group ownership
// of the models claim.
func podSecurityContext() *corev1.PodSecurityContext {
	uid, fsGroup := nonrootID, nonrootID
	nonroot := true
	return &corev1.PodSecurityContext{
		RunAsUser:    &uid,
		RunAsNonRoot: &nonroot,
		FSGroup:      &fsGroup,
	}
}

func envFromConfig() []corev1.EnvFromSource {
	return []corev1.EnvFromSource{{
		ConfigMapRef: &corev1.ConfigMapEnvSource{
			LocalObjectReference: corev1.LocalObjectReference{Name: ConfigMapName},
		},
	}}
}

func buildJob(opts Options) *batchv1.Job {
	labels := StandardLabels(ComponentTraining, opts.Settings.ModelVersion)
	backoff := int32(0)
	ttl := jobTTLSeconds
	return &batchv1.Job{
		TypeMeta: metav1.TypeMeta{APIVersion: "batch/v1", Kind: "Job"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      JobName,
			Namespace: opts.Settings.K8sNamespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoff,
			TTLSecondsAfterFinished: &ttl,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy:   corev1.RestartPolicyNever,
					SecurityContext: podSecurityContext(),
					Containers: []corev1.Container{{
						Name:            "train",
						Image:           opts.TrainImage,
						ImagePullPolicy: opts.ImagePullPolicy,
						Args:            []string{"train"},
						EnvFrom:         envFromConfig(),
						Resources: corev1.ResourceRequirements{
							Requests: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse("250m"),
								corev1.ResourceMemory: resource.MustParse("256Mi"),
							},
							Limits: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse("1"),
								corev1.ResourceMemory: resource.MustParse("512Mi"),
							},
						},
						VolumeMounts: []corev1.VolumeMount{{
							Name:      "models",
							MountPath: ModelsMountPath,
						}},
					}},
					Volumes: []corev1.Volume{modelsVolume(false)},
				},
			},
		},
	}
}

func buildDeployment(opts Options) *appsv1.Deployment {
	labels := StandardLabels(ComponentServing, opts.Settings.ModelVersion)
	replicas := opts.Replicas
	maxUnavailable := intstr.FromInt32(0)
	maxSurge := intstr.FromInt32(1)
	port := int32(opts.Settings.APIPort)

	return &appsv1.Deployment{
		TypeMeta: metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      DeploymentName,
			Namespace: opts.Settings.K8sNamespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: SelectorLabels(ComponentServing)},
			Strategy: appsv1.DeploymentStrategy{
				Type: appsv1.RollingUpdateDeploymentStrategyType,
				RollingUpdate: &appsv1.RollingUpdateDeployment{
					MaxUnavailable: &maxUnavailable,
					MaxSurge:       &maxSurge,
				},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					SecurityContext: podSecurityContext(),
					Containers: []corev1.Container{{
						Name:            "serve",
						Image:           opts.ServeImage,
						ImagePullPolicy: opts.ImagePullPolicy,
						Args:            []string{"serve"},
						EnvFrom:         envFromConfig(),
						Ports: []corev1.ContainerPort{{
							Name:          httpPortName,
							ContainerPort: port,
							Protocol:      corev1.ProtocolTCP,
						}},
						Resources: corev1.ResourceRequirements{
							Requests: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse("100m"),
								corev1.ResourceMemory: resource.MustParse("128Mi"),
							},
							Limits: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse("500m"),
								corev1.ResourceMemory: resource.MustParse("256Mi"),
							},
						},
						LivenessProbe: &corev1.Probe{
							ProbeHandler: corev1.ProbeHandler{
								HTTPGet: &corev1.HTTPGetAction{Path: "/livez", Port: intstr.FromString(httpPortName)},
							},
							InitialDelaySeconds: 5,
							PeriodSeconds:       10,
						},
						ReadinessProbe: &corev1.Probe{
							ProbeHandler: corev1.ProbeHandler{
								HTTPGet: &corev1.HTTPGetAction{Path: "/readyz", Port: intstr.FromString(httpPortName)},
							},
							PeriodSeconds:    5,
							FailureThreshold: 3,
						},
						VolumeMounts: []corev1.VolumeMount{{
							Name:      "models",
							MountPath: ModelsMountPath,
							ReadOnly:  true,
						}},
					}},
					Volumes: []corev1.Volume{modelsVolume(true)},
				},
			},
		},
	}
}

func buildService(opts Options) *corev1.Service {
	return &corev1.Service{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      ServiceName,
			Namespace: opts.Settings.K8sNamespace,
			Labels:    StandardLabels(ComponentServing, opts.Settings.ModelVersion),
		},
		Spec: corev1.ServiceSpec{
			Type:     opts.ServiceType,
			Selector: SelectorLabels(ComponentServing),
			Ports: []corev1.ServicePort{{
				Name:       httpPortName,
				Port:       80,
				TargetPort: intstr.FromString(httpPortName),
				Protocol:   corev1.ProtocolTCP,
			}},
		},
	}
}

// Render writes the objects of s as a multi-document YAML stream suitable
// for kubectl apply.
func Render(s Set) ([]byte, error) {
	var buf bytes.Buffer
	for i, obj := range s.Objects() {
		out, err := yaml.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("failed to render manifest %d: %w", i, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(out)
	}
	return buf.Bytes(), nil
}
