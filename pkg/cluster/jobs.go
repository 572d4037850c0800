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
	"time"

	"iris-mlops/pkg/logging"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
)

// JobPhase is the lifecycle of a training Job.
type JobPhase string

const (
	// JobAbsent means no Job with that name exists.
	JobAbsent JobPhase = "Absent"
	// JobPending means no pod of the Job has started.
	JobPending  JobPhase = "Pending"
	JobRunning  JobPhase = "Running"
	JobComplete JobPhase = "Complete"
	JobFailed   JobPhase = "Failed"
)

// Terminal reports whether the Job will not change phase again.
func (p JobPhase) Terminal() bool {
	return p == JobComplete || p == JobFailed
}

func phaseOf(job *batchv1.Job) JobPhase {
	for _, cond := range job.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete:
			return JobComplete
		case batchv1.JobFailed:
			return JobFailed
		}
	}
	if job.Status.Active > 0 || job.Status.Succeeded > 0 || job.Status.Failed > 0 {
		return JobRunning
	}
	return JobPending
}

// SubmitJob creates job. If a Job with the same name already exists it is
// left untouched and created is false: a finished Job has to be deleted
// before training can run again.
func (c *Client) SubmitJob(ctx context.Context, job *batchv1.Job) (created bool, err error) {
	_, err = c.kube.BatchV1().Jobs(c.namespace).Create(ctx, job, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		logging.Info("job %s already exists, not resubmitting", job.Name)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create job %s: %w", job.Name, err)
	}
	logging.Info("Submitted job %s", job.Name)
	return true, nil
}

// DeleteJob removes the Job record and its pods. Artifacts the Job wrote
// to the shared claim are kept.
func (c *Client) DeleteJob(ctx context.Context, name string) error {
	background := metav1.DeletePropagationBackground
	err := c.kube.BatchV1().Jobs(c.namespace).Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &background})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", name, err)
	}
	logging.Info("Deleted job %s", name)
	return nil
}

// JobPhase returns the current phase of the named Job.
func (c *Client) JobPhase(ctx context.Context, name string) (JobPhase, error) {
	job, err := c.kube.BatchV1().Jobs(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return JobAbsent, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get job %s: %w", name, err)
	}
	return phaseOf(job), nil
}

// WaitForJob polls until the Job completes, fails or timeout elapses.
// Failed yields ErrJobFailed. On timeout the returned error satisfies
// wait.Interrupted and the last observed phase is returned with it.
func (c *Client) WaitForJob(ctx context.Context, name string, timeout time.Duration) (JobPhase, error) {
	last := JobPending
	err := wait.PollUntilContextTimeout(ctx, c.pollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		phase, err := c.JobPhase(ctx, name)
		if err != nil {
			return false, err
		}
		if phase != last {
			logging.Info("job %s is %s", name, phase)
		}
		last = phase
		switch phase {
		case JobComplete:
			return true, nil
		case JobFailed:
			return true, fmt.Errorf("%w: job %s", ErrJobFailed, name)
		case JobAbsent:
			return false, fmt.Errorf("job %s does not exist", name)
		}
		return false, nil
	})
	return last, err
}
