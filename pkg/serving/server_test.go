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

package serving

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"iris-mlops/pkg/artifact"
	"iris-mlops/pkg/config"
	"iris-mlops/pkg/logging"
	"iris-mlops/pkg/model"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

const modelPath = "/models/iris_model.bin"

func init() {
	logging.SetOutput(io.Discard)
}

func storeWithModel(t *testing.T) *artifact.Store {
	t.Helper()
	d, err := model.LoadIris()
	if err != nil {
		t.Fatalf("LoadIris() error = %v", err)
	}
	clf := model.New(10, 0, 42)
	if err := clf.Fit(d); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	blob, err := clf.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	store := artifact.NewStore(afero.NewMemMapFs())
	if _, err := store.Write(modelPath, blob); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return store
}

func readyServer(t *testing.T) *Server {
	t.Helper()
	r := NewReplica(storeWithModel(t), modelPath)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return NewServer(r, config.Default())
}

func emptyServer(t *testing.T) *Server {
	t.Helper()
	r := NewReplica(artifact.NewStore(afero.NewMemMapFs()), modelPath)
	if err := r.Start(); err == nil {
		t.Fatal("Start() without artifact succeeded")
	}
	return NewServer(r, config.Default())
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response %q is not a JSON object: %v", rec.Body.String(), err)
	}
	return out
}

func TestReplicaLifecycle(t *testing.T) {
	r := NewReplica(storeWithModel(t), modelPath)
	if r.State() != Pending || r.Ready() {
		t.Fatalf("new replica state = %s, want Pending and not ready", r.State())
	}
	if _, err := r.Model(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Model() before start error = %v, want ErrNotReady", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !r.Ready() || r.Digest() == "" {
		t.Errorf("after Start() state = %s digest = %q, want Ready with digest", r.State(), r.Digest())
	}
	if err := r.Start(); err == nil {
		t.Error("second Start() succeeded, want error")
	}
	r.Stop()
	if r.Ready() || r.State() != Terminated {
		t.Errorf("after Stop() state = %s, want Terminated", r.State())
	}
}

func TestReplicaStaysUnready(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(fs afero.Fs)
		wantErr error
	}{
		{
			name:    "artifact missing",
			setup:   func(afero.Fs) {},
			wantErr: artifact.ErrNotFound,
		},
		{
			name: "artifact corrupted after write",
			setup: func(fs afero.Fs) {
				artifact.NewStore(fs).Write(modelPath, []byte("a"))
				afero.WriteFile(fs, modelPath, []byte("b"), 0o644)
			},
			wantErr: artifact.ErrDigestMismatch,
		},
		{
			name: "artifact is not a model",
			setup: func(fs afero.Fs) {
				artifact.NewStore(fs).Write(modelPath, []byte("not a model"))
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			tc.setup(fs)
			r := NewReplica(artifact.NewStore(fs), modelPath)
			err := r.Start()
			if err == nil {
				t.Fatal("Start() succeeded, want error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("Start() error = %v, want %v", err, tc.wantErr)
			}
			if r.Ready() || r.State() != Unready {
				t.Errorf("state = %s, want Unready", r.State())
			}
			if r.LastError() == "" {
				t.Error("LastError() is empty after a failed start")
			}
		})
	}
}

func TestProbes(t *testing.T) {
	tests := []struct {
		name     string
		server   func(t *testing.T) *Server
		path     string
		wantCode int
		want     map[string]interface{}
	}{
		{"livez ready", readyServer, "/livez", 200, map[string]interface{}{"status": "alive"}},
		{"livez unready", emptyServer, "/livez", 200, map[string]interface{}{"status": "alive"}},
		{"healthz alias", emptyServer, "/healthz", 200, map[string]interface{}{"status": "alive"}},
		{"health ready", readyServer, "/health", 200, map[string]interface{}{
			"status": "healthy", "model_loaded": true, "model_path": modelPath,
		}},
		{"health unready", emptyServer, "/health", 200, map[string]interface{}{
			"status": "unhealthy", "model_loaded": false, "model_path": modelPath,
		}},
		{"root", emptyServer, "/", 200, map[string]interface{}{
			"message": "Iris Classifier API", "version": "0.1.0", "health": "/health",
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(tc.server(t), http.MethodGet, tc.path, "")
			if rec.Code != tc.wantCode {
				t.Fatalf("GET %s = %d, want %d", tc.path, rec.Code, tc.wantCode)
			}
			if diff := cmp.Diff(tc.want, decode(t, rec)); diff != "" {
				t.Errorf("GET %s mismatch (-want +got):\n%s", tc.path, diff)
			}
		})
	}
}

func TestReadyz(t *testing.T) {
	rec := do(readyServer(t), http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("ready replica /readyz = %d, want 200", rec.Code)
	}
	if got := decode(t, rec)["ready"]; got != true {
		t.Errorf("ready = %v, want true", got)
	}

	rec = do(emptyServer(t), http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unready replica /readyz = %d, want 503", rec.Code)
	}
	body := decode(t, rec)
	if body["ready"] != false || body["state"] != "Unready" {
		t.Errorf("/readyz body = %v, want ready=false state=Unready", body)
	}
}

func TestPredict(t *testing.T) {
	s := readyServer(t)
	rec := do(s, http.MethodPost, "/predict", `{"sepal_length":5.1,"sepal_width":3.5,"petal_length":1.4,"petal_width":0.2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /predict = %d %s, want 200", rec.Code, rec.Body)
	}
	var p model.Prediction
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if p.Class != "setosa" || p.Index != 0 {
		t.Errorf("prediction = %s (%d), want setosa (0)", p.Class, p.Index)
	}
	if p.Confidence < 0 || p.Confidence > 1 || len(p.Probabilities) != 3 {
		t.Errorf("prediction = %+v, want confidence in [0,1] and 3 probabilities", p)
	}
}

func TestPredictRejects(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantLoc []interface{}
	}{
		{"missing field", `{"sepal_length":5.1,"sepal_width":3.5,"petal_length":1.4}`, []interface{}{"body", "petal_width"}},
		{"non-numeric", `{"sepal_length":"long","sepal_width":3.5,"petal_length":1.4,"petal_width":0.2}`, []interface{}{"body", "sepal_length"}},
		{"malformed", `{"sepal_length":`, []interface{}{"body"}},
		{"empty", ``, []interface{}{"body"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(readyServer(t), http.MethodPost, "/predict", tc.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("POST /predict = %d, want 422", rec.Code)
			}
			var v validationError
			if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
				t.Fatalf("bad response: %v", err)
			}
			if len(v.Detail) == 0 {
				t.Fatal("422 response has no detail")
			}
			if diff := cmp.Diff(tc.wantLoc, v.Detail[0].Loc); diff != "" {
				t.Errorf("loc mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPredictAcceptsAnyRange(t *testing.T) {
	rec := do(readyServer(t), http.MethodPost, "/predict", `{"sepal_length":-1,"sepal_width":0,"petal_length":100,"petal_width":0.2}`)
	if rec.Code != http.StatusOK {
		t.Errorf("POST /predict with out-of-range values = %d, want 200", rec.Code)
	}
}

func TestPredictWithoutModel(t *testing.T) {
	s := emptyServer(t)
	for _, path := range []string{"/predict", "/predict/batch"} {
		body := `{"sepal_length":5.1,"sepal_width":3.5,"petal_length":1.4,"petal_width":0.2}`
		if path == "/predict/batch" {
			body = "[" + body + "]"
		}
		rec := do(s, http.MethodPost, path, body)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("POST %s = %d, want 503", path, rec.Code)
		}
		if got := decode(t, rec)["detail"]; got != notLoadedDetail {
			t.Errorf("POST %s detail = %v, want %q", path, got, notLoadedDetail)
		}
	}
}

func TestPredictBatch(t *testing.T) {
	s := readyServer(t)
	rec := do(s, http.MethodPost, "/predict/batch", `[
		{"sepal_length":5.1,"sepal_width":3.5,"petal_length":1.4,"petal_width":0.2},
		{"sepal_length":7.7,"sepal_width":3.0,"petal_length":6.1,"petal_width":2.3}
	]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /predict/batch = %d %s, want 200", rec.Code, rec.Body)
	}
	var ps []model.Prediction
	if err := json.Unmarshal(rec.Body.Bytes(), &ps); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	var got []string
	for _, p := range ps {
		got = append(got, p.Class)
	}
	if diff := cmp.Diff([]string{"setosa", "virginica"}, got); diff != "" {
		t.Errorf("batch predictions mismatch (-want +got):\n%s", diff)
	}

	rec = do(s, http.MethodPost, "/predict/batch", `[{"sepal_length":5.1}]`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("batch with incomplete item = %d, want 422", rec.Code)
	}
	rec = do(s, http.MethodPost, "/predict/batch", `null`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("null batch = %d, want 422", rec.Code)
	}
}

func TestMetricsExposition(t *testing.T) {
	s := readyServer(t)
	do(s, http.MethodPost, "/predict", `{"sepal_length":5.1,"sepal_width":3.5,"petal_length":1.4,"petal_width":0.2}`)
	do(s, http.MethodPost, "/predict", `{}`)

	rec := do(s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`iris_predictions_total{class="setosa"} 1`,
		`iris_prediction_errors_total{code="422"} 1`,
		`iris_model_ready 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics missing %q", want)
		}
	}
}

func TestConcurrentPredictions(t *testing.T) {
	s := readyServer(t)
	var wg sync.WaitGroup
	codes := make(chan int, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := do(s, http.MethodPost, "/predict", `{"sepal_length":6.0,"sepal_width":2.9,"petal_length":4.5,"petal_width":1.5}`)
			codes <- rec.Code
		}()
	}
	wg.Wait()
	close(codes)
	for code := range codes {
		if code != http.StatusOK {
			t.Errorf("concurrent POST /predict = %d, want 200", code)
		}
	}
}

func TestArtifactRemovedAfterLoad(t *testing.T) {
	store := storeWithModel(t)
	r := NewReplica(store, modelPath)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := store.Remove(modelPath); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	s := NewServer(r, config.Default())
	rec := do(s, http.MethodPost, "/predict", `{"sepal_length":5.1,"sepal_width":3.5,"petal_length":1.4,"petal_width":0.2}`)
	if rec.Code != http.StatusOK {
		t.Errorf("POST /predict after removal = %d, want 200", rec.Code)
	}

	fresh := NewReplica(store, modelPath)
	if err := fresh.Start(); err == nil {
		t.Error("a new replica started without the artifact")
	}
	if fresh.Ready() {
		t.Error("a new replica is ready without the artifact")
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	big := `{"sepal_length":5.1,"pad":"` + strings.Repeat("x", 2<<20) + `"}`
	tests := []struct {
		name    string
		chunked bool
	}{
		{"declared length", false},
		{"chunked", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(big))
			req.Header.Set("Content-Type", "application/json")
			if tc.chunked {
				req.ContentLength = -1
			}
			rec := httptest.NewRecorder()
			readyServer(t).Handler().ServeHTTP(rec, req)
			if rec.Code != http.StatusRequestEntityTooLarge {
				t.Errorf("POST /predict with %d-byte body = %d, want 413", len(big), rec.Code)
			}
		})
	}
}
