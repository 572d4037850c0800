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

// Package serving runs a serving replica: it loads the model artifact,
// gates readiness on a successful load and exposes the prediction API.
package serving

import (
	"errors"
	"fmt"
	"sync/atomic"

	"iris-mlops/pkg/artifact"
	"iris-mlops/pkg/logging"
	"iris-mlops/pkg/model"

	digest "github.com/opencontainers/go-digest"
)

// ErrNotReady is returned while no model has been loaded.
var ErrNotReady = errors.New("model not loaded")

// State is the lifecycle phase of a replica.
type State int32

const (
	Pending State = iota
	Unready
	Ready
	Terminated
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Unready:
		return "Unready"
	case Ready:
		return "Ready"
	case Terminated:
		return "Terminated"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// warmupSample is a known setosa used to exercise the prediction path
// before the replica reports ready.
var warmupSample = []float64{5.1, 3.5, 1.4, 0.2}

// Replica owns the loaded model. Handlers read it concurrently; it is set
// once by Start and never replaced.
type Replica struct {
	store *artifact.Store
	path  string

	state   atomic.Int32
	model   atomic.Pointer[model.Classifier]
	digest  atomic.Value
	lastErr atomic.Value
}

// NewReplica returns a Pending replica that will read its model from path.
func NewReplica(store *artifact.Store, path string) *Replica {
	return &Replica{store: store, path: path}
}

// Start loads and verifies the artifact, then runs one warm-up prediction.
// On any failure the replica stays Unready and the error is returned.
func (r *Replica) Start() error {
	if !r.state.CompareAndSwap(int32(Pending), int32(Unready)) {
		return fmt.Errorf("replica already started (state %s)", r.State())
	}
	logging.Info("Loading model from %s", r.path)

	blob, err := r.store.Read(r.path)
	if err != nil {
		return r.fail(fmt.Errorf("failed to read model artifact: %w", err))
	}
	if !blob.Verified {
		logging.Warn("no digest sidecar next to %s, loading unverified artifact", r.path)
	}
	clf, err := model.Load(blob.Data)
	if err != nil {
		return r.fail(fmt.Errorf("failed to load model: %w", err))
	}
	if _, err := clf.Predict(warmupSample); err != nil {
		return r.fail(fmt.Errorf("warm-up prediction failed: %w", err))
	}

	r.model.Store(clf)
	r.digest.Store(blob.Digest)
	if !r.state.CompareAndSwap(int32(Unready), int32(Ready)) {
		return fmt.Errorf("replica terminated during start")
	}
	logging.Info("Model loaded, digest %s", blob.Digest)
	return nil
}

func (r *Replica) fail(err error) error {
	r.lastErr.Store(err.Error())
	logging.Error("%v", err)
	return err
}

// Stop marks the replica Terminated. It never becomes ready again.
func (r *Replica) Stop() {
	r.state.Store(int32(Terminated))
}

// State returns the current lifecycle phase.
func (r *Replica) State() State {
	return State(r.state.Load())
}

// Ready reports whether the replica may receive traffic.
func (r *Replica) Ready() bool {
	return r.State() == Ready
}

// Model returns the loaded classifier or ErrNotReady.
func (r *Replica) Model() (*model.Classifier, error) {
	m := r.model.Load()
	if m == nil || r.State() == Terminated {
		return nil, ErrNotReady
	}
	return m, nil
}

// ModelPath is the artifact location the replica loads from.
func (r *Replica) ModelPath() string { return r.path }

// Digest is the digest of the loaded artifact, empty before a load.
func (r *Replica) Digest() digest.Digest {
	d, _ := r.digest.Load().(digest.Digest)
	return d
}

// LastError describes the most recent load failure, if any.
func (r *Replica) LastError() string {
	s, _ := r.lastErr.Load().(string)
	return s
}
