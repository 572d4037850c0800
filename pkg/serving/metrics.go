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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// metrics are registered on a per-server registry so several servers can
// coexist in one process.
type metrics struct {
	registry *prometheus.Registry

	predictions *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	modelReady  prometheus.GaugeFunc
}

func newMetrics(r *Replica) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iris_predictions_total",
				Help: "Predictions served, by predicted class.",
			},
			[]string{"class"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iris_prediction_errors_total",
				Help: "Prediction requests that were not served, by HTTP status.",
			},
			[]string{"code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "iris_http_request_duration_seconds",
				Help:    "HTTP request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "code"},
		),
		modelReady: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "iris_model_ready",
				Help: "1 when the replica has a verified model loaded.",
			},
			func() float64 {
				if r.Ready() {
					return 1
				}
				return 0
			},
		),
	}
	m.registry.MustRegister(
		m.predictions,
		m.rejected,
		m.duration,
		m.modelReady,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
