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

// Package sequencer runs the deployment workflow as an ordered list of
// steps, each advancing the deployment to a new State.
//
// A step that times out is recorded as a Warning and the run continues.
// A step that fails is recorded and the run continues, unless the step is
// Required, in which case every remaining step is Skipped. In strict mode a
// step whose Gate state did not succeed is Skipped instead of run.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"iris-mlops/pkg/logging"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/wait"
)

// State is a milestone of the deployment workflow.
type State string

const (
	Preflight         State = "Preflight"
	NamespaceReady    State = "NamespaceReady"
	ConfigReady       State = "ConfigReady"
	StorageReady      State = "StorageReady"
	TrainingSubmitted State = "TrainingSubmitted"
	TrainingComplete  State = "TrainingComplete"
	ServingSubmitted  State = "ServingSubmitted"
	ServingReady      State = "ServingReady"
	Exposed           State = "Exposed"
)

// Outcome is how a step ended.
type Outcome string

const (
	Succeeded Outcome = "Succeeded"
	// Warning means the step timed out; later steps still ran.
	Warning Outcome = "Warning"
	Failed  Outcome = "Failed"
	Skipped Outcome = "Skipped"
)

// Step advances the deployment to State.
type Step struct {
	State State
	Run   func(ctx context.Context) error
	// Timeout bounds Run; zero means no bound beyond the parent context.
	Timeout time.Duration
	// Required steps abort the run when they do not succeed.
	Required bool
	// Gate names an earlier state that must have Succeeded for this step
	// to run in strict mode.
	Gate State
}

// Result records one executed (or skipped) step.
type Result struct {
	State    State
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// Report is the outcome of a run.
type Report struct {
	RunID   string
	Results []Result
	// Reached is the last state whose step Succeeded.
	Reached State
	Aborted bool
}

// Outcome summarises the run: Failed if any step failed or the run was
// aborted, Warning if any step timed out or was skipped, else Succeeded.
func (r Report) Outcome() Outcome {
	if r.Aborted {
		return Failed
	}
	out := Succeeded
	for _, res := range r.Results {
		switch res.Outcome {
		case Failed:
			return Failed
		case Warning, Skipped:
			out = Warning
		}
	}
	return out
}

// Result returns the result recorded for state.
func (r Report) Result(state State) (Result, bool) {
	for _, res := range r.Results {
		if res.State == state {
			return res, true
		}
	}
	return Result{}, false
}

// Sequencer executes steps strictly in order on the calling goroutine.
type Sequencer struct {
	Steps  []Step
	Strict bool
}

// IsTimeout reports whether err came from a step running out of time.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || wait.Interrupted(err)
}

// Run executes every step. It only returns early when ctx is cancelled;
// the remaining steps are then Skipped.
func (s *Sequencer) Run(ctx context.Context) Report {
	report := Report{RunID: uuid.NewString()}
	log := logging.WithFields(map[string]interface{}{"run": report.RunID})
	succeeded := map[State]bool{}
	abort := false

	for _, step := range s.Steps {
		if abort || ctx.Err() != nil {
			report.Results = append(report.Results, Result{State: step.State, Outcome: Skipped, Err: ctx.Err()})
			continue
		}
		if s.Strict && step.Gate != "" && !succeeded[step.Gate] {
			log.Warnf("skipping %s: %s did not succeed", step.State, step.Gate)
			report.Results = append(report.Results, Result{
				State:   step.State,
				Outcome: Skipped,
				Err:     fmt.Errorf("gate %s did not succeed", step.Gate),
			})
			continue
		}

		log.Infof("%s: running", step.State)
		res := runStep(ctx, step)
		report.Results = append(report.Results, res)

		switch res.Outcome {
		case Succeeded:
			succeeded[step.State] = true
			report.Reached = step.State
			log.Infof("%s: succeeded in %v", step.State, res.Duration.Round(time.Millisecond))
		case Warning:
			log.Warnf("%s: timed out after %v, continuing", step.State, step.Timeout)
		case Failed:
			log.Errorf("%s: %v", step.State, res.Err)
		}
		if step.Required && res.Outcome != Succeeded {
			log.Errorf("%s is required, aborting", step.State)
			report.Aborted = true
			abort = true
		}
	}
	return report
}

func runStep(ctx context.Context, step Step) Result {
	stepCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := step.Run(stepCtx)
	res := Result{State: step.State, Err: err, Duration: time.Since(start)}
	switch {
	case err == nil:
		res.Outcome = Succeeded
	case ctx.Err() != nil:
		// The parent was cancelled; that is not the step's own timeout.
		res.Outcome = Failed
	case IsTimeout(err):
		res.Outcome = Warning
	default:
		res.Outcome = Failed
	}
	return res
}
