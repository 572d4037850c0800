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
	"errors"
	"fmt"
	"strings"
	"time"

	"iris-mlops/pkg/cluster"
	"iris-mlops/pkg/logging"
	"iris-mlops/pkg/manifests"
	"iris-mlops/pkg/sequencer"
)

const (
	preflightTimeout = 30 * time.Second
	// RestartedAtAnnotation on the pod template rolls the serving replicas
	// so they load a retrained model.
	RestartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"
)

// Deployer turns a manifest set into the ordered deployment steps and runs
// them against one cluster. Both orchestrators share it.
type Deployer struct {
	client       *cluster.Client
	set          manifests.Set
	retrain      bool
	strict       bool
	keepReplicas bool
	timeout      time.Duration
	now          func() time.Time
}

// NewDeployer builds the manifests for def and binds them to client.
func NewDeployer(client *cluster.Client, def DeploymentDefinition) (*Deployer, error) {
	set, err := manifests.Build(ManifestOptions(def))
	if err != nil {
		return nil, fmt.Errorf("failed to build manifests: %w", err)
	}
	if set.Namespace.Name != client.Namespace() {
		return nil, fmt.Errorf("manifests target namespace %s but the client is bound to %s", set.Namespace.Name, client.Namespace())
	}
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Deployer{
		client:       client,
		set:          set,
		retrain:      def.Retrain,
		strict:       def.Strict,
		keepReplicas: def.KeepReplicas,
		timeout:      timeout,
		now:          time.Now,
	}, nil
}

// Run executes every step and returns the report.
func (d *Deployer) Run(ctx context.Context) sequencer.Report {
	seq := sequencer.Sequencer{Steps: d.Steps(), Strict: d.strict}
	report := seq.Run(ctx)
	logReport(report)
	return report
}

// Steps lists the workflow in execution order.
func (d *Deployer) Steps() []sequencer.Step {
	return []sequencer.Step{
		{State: sequencer.Preflight, Run: d.preflight, Timeout: preflightTimeout, Required: true},
		{State: sequencer.NamespaceReady, Run: d.ensureNamespace},
		{State: sequencer.ConfigReady, Run: d.ensureConfig},
		{State: sequencer.StorageReady, Run: d.ensureStorage},
		{State: sequencer.TrainingSubmitted, Run: d.submitTraining},
		{State: sequencer.TrainingComplete, Run: d.waitForTraining, Timeout: d.timeout},
		{State: sequencer.ServingSubmitted, Run: d.submitServing, Gate: sequencer.TrainingComplete},
		{State: sequencer.ServingReady, Run: d.waitForServing, Timeout: d.timeout, Gate: sequencer.ServingSubmitted},
		{State: sequencer.Exposed, Run: d.expose},
	}
}

func (d *Deployer) preflight(ctx context.Context) error {
	version, err := d.client.Ping(ctx)
	if err != nil {
		return err
	}
	logging.Info("Connected to Kubernetes %s, namespace %s", version, d.client.Namespace())
	return nil
}

func (d *Deployer) ensureNamespace(ctx context.Context) error {
	return d.client.EnsureNamespace(ctx, d.set.Namespace)
}

func (d *Deployer) ensureConfig(ctx context.Context) error {
	err := d.client.EnsureConfigMap(ctx, d.set.ConfigMap)
	if !errors.Is(err, cluster.ErrConfigDrift) {
		return err
	}
	if !d.retrain {
		return fmt.Errorf("%w (rerun with --retrain to replace it)", err)
	}
	logging.Warn("%v", err)
	return d.client.ReplaceConfigMap(ctx, d.set.ConfigMap)
}

func (d *Deployer) ensureStorage(ctx context.Context) error {
	if err := d.client.EnsurePVC(ctx, d.set.PVC); err != nil {
		return err
	}
	phase, err := d.client.PVCPhase(ctx, d.set.PVC.Name)
	if err != nil {
		return err
	}
	// Claims with WaitForFirstConsumer binding stay Pending until the
	// training pod is scheduled.
	logging.Info("persistentvolumeclaim %s is %s", d.set.PVC.Name, phase)
	return nil
}

func (d *Deployer) submitTraining(ctx context.Context) error {
	if d.retrain {
		if err := d.client.DeleteJob(ctx, d.set.Job.Name); err != nil {
			return err
		}
	}
	created, err := d.client.SubmitJob(ctx, d.set.Job)
	if err != nil {
		return err
	}
	if !created {
		phase, err := d.client.JobPhase(ctx, d.set.Job.Name)
		if err != nil {
			return err
		}
		if phase.Terminal() {
			logging.Info("Reusing finished job %s (%s); rerun with --retrain to train again", d.set.Job.Name, phase)
		} else {
			logging.Info("Reusing job %s (%s)", d.set.Job.Name, phase)
		}
	}
	return nil
}

func (d *Deployer) waitForTraining(ctx context.Context) error {
	phase, err := d.client.WaitForJob(ctx, d.set.Job.Name, d.timeout)
	if err != nil && sequencer.IsTimeout(err) {
		logging.Warn("job %s still %s after %v", d.set.Job.Name, phase, d.timeout)
	}
	return err
}

func (d *Deployer) submitServing(ctx context.Context) error {
	deployment := d.set.Deployment.DeepCopy()
	if d.retrain {
		tmpl := &deployment.Spec.Template
		if tmpl.Annotations == nil {
			tmpl.Annotations = map[string]string{}
		}
		tmpl.Annotations[RestartedAtAnnotation] = d.now().UTC().Format(time.RFC3339)
	}
	return d.client.EnsureDeployment(ctx, deployment, d.keepReplicas)
}

func (d *Deployer) waitForServing(ctx context.Context) error {
	return d.client.WaitForDeployment(ctx, d.set.Deployment.Name, d.timeout)
}

func (d *Deployer) expose(ctx context.Context) error {
	if err := d.client.EnsureService(ctx, d.set.Service); err != nil {
		return err
	}
	reachable, err := d.client.ReachableReplicas(ctx, d.set.Service.Name)
	if err != nil {
		return err
	}
	endpoint, err := d.client.Endpoint(ctx, d.set.Service.Name)
	if err != nil {
		return err
	}
	if len(reachable) == 0 {
		logging.Warn("service %s has no ready replicas yet", d.set.Service.Name)
	}
	logging.Info("Prediction API at %s (%d ready replicas)", endpoint, len(reachable))
	return nil
}

func logReport(r sequencer.Report) {
	var b strings.Builder
	for _, res := range r.Results {
		fmt.Fprintf(&b, "\n  %-18s %s", res.State, res.Outcome)
		if res.Err != nil {
			fmt.Fprintf(&b, ": %v", res.Err)
		}
	}
	logging.Info("Deployment %s finished with %s (reached %s):%s", r.RunID, r.Outcome(), r.Reached, b.String())
}
