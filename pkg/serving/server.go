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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"iris-mlops/pkg/config"
	"iris-mlops/pkg/logging"
	"iris-mlops/pkg/model"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const notLoadedDetail = "Model not loaded. Please check server logs."

// maxBodySize bounds prediction request bodies.
const maxBodySize = "1M"

// probe paths are logged at debug level only.
var probePaths = map[string]bool{"/livez": true, "/healthz": true, "/readyz": true, "/metrics": true}

// Features is one prediction request. Every field is required.
type Features struct {
	SepalLength *float64 `json:"sepal_length"`
	SepalWidth  *float64 `json:"sepal_width"`
	PetalLength *float64 `json:"petal_length"`
	PetalWidth  *float64 `json:"petal_width"`
}

// ValidationIssue locates one problem in a rejected request body.
type ValidationIssue struct {
	Loc  []interface{} `json:"loc"`
	Msg  string        `json:"msg"`
	Type string        `json:"type"`
}

type validationError struct {
	Detail []ValidationIssue `json:"detail"`
}

type errorDetail struct {
	Detail string `json:"detail"`
}

func (f Features) vector(loc ...interface{}) ([]float64, []ValidationIssue) {
	fields := []*float64{f.SepalLength, f.SepalWidth, f.PetalLength, f.PetalWidth}
	x := make([]float64, len(fields))
	var issues []ValidationIssue
	for i, v := range fields {
		if v == nil {
			issues = append(issues, ValidationIssue{
				Loc:  append(append([]interface{}{}, loc...), model.FeatureNames[i]),
				Msg:  "field required",
				Type: "value_error.missing",
			})
			continue
		}
		x[i] = *v
	}
	return x, issues
}

// Server is the HTTP surface of a serving replica.
type Server struct {
	echo     *echo.Echo
	replica  *Replica
	settings config.Settings
	metrics  *metrics
}

// NewServer builds the echo application for r.
func NewServer(r *Replica, s config.Settings) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{echo: e, replica: r, settings: s, metrics: newMetrics(r)}

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(middleware.CORS())
	e.Use(srv.logRequests)

	e.GET("/", srv.root)
	e.GET("/health", srv.health)
	e.GET("/livez", srv.livez)
	e.GET("/healthz", srv.livez)
	e.GET("/readyz", srv.readyz)
	e.POST("/predict", srv.predict)
	e.POST("/predict/batch", srv.predictBatch)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(srv.metrics.registry, promhttp.HandlerOpts{})))
	return srv
}

// Handler exposes the server for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Serve listens on addr until ctx is done, then shuts down gracefully and
// marks the replica Terminated.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	logging.Info("Serving %s %s on %s", s.settings.APITitle, s.settings.APIVersion, addr)

	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info("Shutting down: %v", context.Cause(ctx))
	case serveErr = <-errCh:
		if serveErr != nil {
			serveErr = fmt.Errorf("server stopped: %w", serveErr)
		}
	}

	s.replica.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("failed to shut down: %w", err)
	}
	return serveErr
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		begin := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		elapsed := time.Since(begin)
		req := c.Request()
		status := c.Response().Status

		s.metrics.duration.WithLabelValues(req.Method, c.Path(), strconv.Itoa(status)).Observe(elapsed.Seconds())
		if probePaths[req.URL.Path] {
			logging.Debug("%s %s -> %d in %v", req.Method, req.URL.Path, status, elapsed)
		} else {
			logging.Info("%s %s -> %d in %v", req.Method, req.URL.Path, status, elapsed)
		}
		return nil
	}
}

func (s *Server) root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"message": s.settings.APITitle,
		"version": s.settings.APIVersion,
		"health":  "/health",
	})
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	ModelPath   string `json:"model_path"`
}

func (s *Server) health(c echo.Context) error {
	loaded := s.replica.Ready()
	status := "unhealthy"
	if loaded {
		status = "healthy"
	}
	return c.JSON(http.StatusOK, healthResponse{
		Status:      status,
		ModelLoaded: loaded,
		ModelPath:   s.replica.ModelPath(),
	})
}

func (s *Server) livez(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

type readyResponse struct {
	Ready  bool   `json:"ready"`
	State  string `json:"state"`
	Digest string `json:"digest,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) readyz(c echo.Context) error {
	resp := readyResponse{
		Ready:  s.replica.Ready(),
		State:  s.replica.State().String(),
		Digest: s.replica.Digest().String(),
	}
	if !resp.Ready {
		resp.Error = s.replica.LastError()
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) predict(c echo.Context) error {
	body, issues, err := readBody(c)
	if err != nil {
		return err
	}
	if issues != nil {
		return s.reject(c, issues)
	}
	var f Features
	if err := json.Unmarshal(body, &f); err != nil {
		return s.reject(c, decodeIssues(err))
	}
	x, issues := f.vector("body")
	if issues != nil {
		return s.reject(c, issues)
	}

	clf, err := s.replica.Model()
	if err != nil {
		return s.unavailable(c)
	}
	p, err := clf.Classify(x)
	if err != nil {
		return fmt.Errorf("prediction failed: %w", err)
	}
	s.metrics.predictions.WithLabelValues(p.Class).Inc()
	logging.Debug("Prediction: %s (confidence: %.4f)", p.Class, p.Confidence)
	return c.JSON(http.StatusOK, p)
}

func (s *Server) predictBatch(c echo.Context) error {
	body, issues, err := readBody(c)
	if err != nil {
		return err
	}
	if issues != nil {
		return s.reject(c, issues)
	}
	var batch []Features
	if err := json.Unmarshal(body, &batch); err != nil {
		return s.reject(c, decodeIssues(err))
	}
	if batch == nil {
		return s.reject(c, []ValidationIssue{{Loc: []interface{}{"body"}, Msg: "value is not a valid list", Type: "type_error.list"}})
	}

	xs := make([][]float64, len(batch))
	for i, f := range batch {
		x, found := f.vector("body", i)
		issues = append(issues, found...)
		xs[i] = x
	}
	if issues != nil {
		return s.reject(c, issues)
	}

	clf, err := s.replica.Model()
	if err != nil {
		return s.unavailable(c)
	}
	out := make([]model.Prediction, 0, len(xs))
	for _, x := range xs {
		p, err := clf.Classify(x)
		if err != nil {
			return fmt.Errorf("prediction failed: %w", err)
		}
		s.metrics.predictions.WithLabelValues(p.Class).Inc()
		out = append(out, p)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) reject(c echo.Context, issues []ValidationIssue) error {
	s.metrics.rejected.WithLabelValues(strconv.Itoa(http.StatusUnprocessableEntity)).Inc()
	return c.JSON(http.StatusUnprocessableEntity, validationError{Detail: issues})
}

func (s *Server) unavailable(c echo.Context) error {
	s.metrics.rejected.WithLabelValues(strconv.Itoa(http.StatusServiceUnavailable)).Inc()
	return c.JSON(http.StatusServiceUnavailable, errorDetail{Detail: notLoadedDetail})
}

// readBody returns the request body. An oversized body yields the
// BodyLimit error so echo answers 413.
func readBody(c echo.Context) ([]byte, []ValidationIssue, error) {
	body, err := io.ReadAll(c.Request().Body)
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return nil, nil, httpErr
	}
	if err != nil || len(strings.TrimSpace(string(body))) == 0 {
		return nil, []ValidationIssue{{Loc: []interface{}{"body"}, Msg: "field required", Type: "value_error.missing"}}, nil
	}
	return body, nil, nil
}

func decodeIssues(err error) []ValidationIssue {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		loc := []interface{}{"body"}
		if typeErr.Field != "" {
			for _, part := range strings.Split(typeErr.Field, ".") {
				loc = append(loc, part)
			}
		}
		return []ValidationIssue{{Loc: loc, Msg: fmt.Sprintf("value is not a valid %s", typeErr.Type), Type: "type_error"}}
	}
	return []ValidationIssue{{Loc: []interface{}{"body"}, Msg: err.Error(), Type: "value_error.jsondecode"}}
}
