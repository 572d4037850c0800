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

// Package config holds the Configuration Set shared by the training and
// serving tasks and by the deployment workflow.
//
// Values are resolved in increasing precedence: built-in defaults, an
// optional YAML settings file, then environment variables. The result is a
// plain value; once loaded it is never mutated.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

//go:embed settings.schema.json
var settingsSchema []byte

const schemaURL = "settings.schema.json"

// Settings is the Configuration Set.
type Settings struct {
	ModelPath string `yaml:"model_path"`

	RandomState int     `yaml:"random_state"`
	TestSize    float64 `yaml:"test_size"`
	NEstimators int     `yaml:"n_estimators"`
	// MaxDepth of each tree; 0 means unlimited.
	MaxDepth int `yaml:"max_depth"`

	APIHost    string `yaml:"api_host"`
	APIPort    int    `yaml:"api_port"`
	APITitle   string `yaml:"api_title"`
	APIVersion string `yaml:"api_version"`

	ModelVersion string `yaml:"model_version"`

	GCPProjectID string `yaml:"gcp_project_id"`
	GCPRegion    string `yaml:"gcp_region"`
	GCPZone      string `yaml:"gcp_zone"`
	GCSBucket    string `yaml:"gcs_bucket"`

	K8sNamespace string `yaml:"k8s_namespace"`
	ClusterName  string `yaml:"cluster_name"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in Configuration Set.
func Default() Settings {
	return Settings{
		ModelPath:    "models/iris_model.bin",
		RandomState:  42,
		TestSize:     0.2,
		NEstimators:  100,
		MaxDepth:     0,
		APIHost:      "0.0.0.0",
		APIPort:      8000,
		APITitle:     "Iris Classifier API",
		APIVersion:   "0.1.0",
		ModelVersion: "v1",
		GCPRegion:    "us-central1",
		GCPZone:      "us-central1-a",
		K8sNamespace: "iris-ml",
		ClusterName:  "iris-classifier-cluster",
		LogLevel:     "info",
	}
}

// LookupFunc resolves an environment variable, as os.LookupEnv does.
type LookupFunc func(key string) (string, bool)

// Load resolves the Configuration Set from defaults, the YAML file at path
// (skipped when path is empty) and the environment seen through lookup.
func Load(path string, lookup LookupFunc) (Settings, error) {
	s := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to read settings file %q: %w", path, err)
		}
		if err := s.mergeYAML(data); err != nil {
			return Settings{}, fmt.Errorf("settings file %q: %w", path, err)
		}
	}
	if lookup != nil {
		if err := s.mergeEnv(lookup); err != nil {
			return Settings{}, err
		}
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadFromEnvironment is Load with the process environment.
func LoadFromEnvironment(path string) (Settings, error) {
	return Load(path, os.LookupEnv)
}

func (s *Settings) mergeYAML(data []byte) error {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalid, err)
	}
	if len(doc) == 0 {
		return nil
	}
	if err := checkKnownKeys(doc); err != nil {
		return err
	}
	if err := validateSchema(doc); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func checkKnownKeys(doc map[string]interface{}) error {
	known := knownKeys()
	var problems []string
	for key := range doc {
		if _, ok := known[key]; ok {
			continue
		}
		msg := fmt.Sprintf("unknown setting %q", key)
		if suggestion := closestKey(key, known); suggestion != "" {
			msg += fmt.Sprintf(", did you mean %q?", suggestion)
		}
		problems = append(problems, msg)
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}

func closestKey(key string, known map[string]struct{}) string {
	best, bestDist := "", 4
	for k := range known {
		d := levenshtein.Distance(key, k, nil)
		if d < bestDist || (d == bestDist && k < best) {
			best, bestDist = k, d
		}
	}
	return best
}

func validateSchema(doc map[string]interface{}) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(settingsSchema)); err != nil {
		return fmt.Errorf("failed to load settings schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("failed to compile settings schema: %w", err)
	}

	// Round-trip through JSON so the validator sees JSON-native types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

type envField struct {
	key string
	set func(s *Settings, v string) error
}

func stringField(key string, dst func(*Settings) *string) envField {
	return envField{key: key, set: func(s *Settings, v string) error {
		*dst(s) = v
		return nil
	}}
}

func intField(key string, dst func(*Settings) *int) envField {
	return envField{key: key, set: func(s *Settings, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
		}
		*dst(s) = n
		return nil
	}}
}

func floatField(key string, dst func(*Settings) *float64) envField {
	return envField{key: key, set: func(s *Settings, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, key, v)
		}
		*dst(s) = f
		return nil
	}}
}

var envFields = []envField{
	stringField("MODEL_PATH", func(s *Settings) *string { return &s.ModelPath }),
	intField("RANDOM_STATE", func(s *Settings) *int { return &s.RandomState }),
	floatField("TEST_SIZE", func(s *Settings) *float64 { return &s.TestSize }),
	intField("N_ESTIMATORS", func(s *Settings) *int { return &s.NEstimators }),
	intField("MAX_DEPTH", func(s *Settings) *int { return &s.MaxDepth }),
	stringField("API_HOST", func(s *Settings) *string { return &s.APIHost }),
	intField("API_PORT", func(s *Settings) *int { return &s.APIPort }),
	stringField("API_TITLE", func(s *Settings) *string { return &s.APITitle }),
	stringField("API_VERSION", func(s *Settings) *string { return &s.APIVersion }),
	stringField("MODEL_VERSION", func(s *Settings) *string { return &s.ModelVersion }),
	stringField("GCP_PROJECT_ID", func(s *Settings) *string { return &s.GCPProjectID }),
	stringField("GCP_REGION", func(s *Settings) *string { return &s.GCPRegion }),
	stringField("GCP_ZONE", func(s *Settings) *string { return &s.GCPZone }),
	stringField("GCS_BUCKET", func(s *Settings) *string { return &s.GCSBucket }),
	stringField("K8S_NAMESPACE", func(s *Settings) *string { return &s.K8sNamespace }),
	stringField("CLUSTER_NAME", func(s *Settings) *string { return &s.ClusterName }),
	stringField("LOG_LEVEL", func(s *Settings) *string { return &s.LogLevel }),
}

func knownKeys() map[string]struct{} {
	keys := make(map[string]struct{}, len(envFields))
	for _, f := range envFields {
		keys[strings.ToLower(f.key)] = struct{}{}
	}
	return keys
}

// Environment variable names are matched case-insensitively.
func (s *Settings) mergeEnv(lookup LookupFunc) error {
	for _, f := range envFields {
		v, ok := lookup(f.key)
		if !ok {
			v, ok = lookup(strings.ToLower(f.key))
		}
		if !ok {
			continue
		}
		if err := f.set(s, v); err != nil {
			return err
		}
	}
	return nil
}

var dnsLabel = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// Validate checks ranges the training and serving tasks rely on.
func (s Settings) Validate() error {
	var problems []string
	if strings.TrimSpace(s.ModelPath) == "" {
		problems = append(problems, "model_path must not be empty")
	}
	if s.TestSize < 0 || s.TestSize >= 1 {
		problems = append(problems, fmt.Sprintf("test_size must be in [0, 1), got %v", s.TestSize))
	}
	if s.NEstimators < 1 {
		problems = append(problems, fmt.Sprintf("n_estimators must be >= 1, got %d", s.NEstimators))
	}
	if s.MaxDepth < 0 {
		problems = append(problems, fmt.Sprintf("max_depth must be >= 0, got %d", s.MaxDepth))
	}
	if s.APIPort < 1 || s.APIPort > 65535 {
		problems = append(problems, fmt.Sprintf("api_port must be in [1, 65535], got %d", s.APIPort))
	}
	if len(s.K8sNamespace) > 63 || !dnsLabel.MatchString(s.K8sNamespace) {
		problems = append(problems, fmt.Sprintf("k8s_namespace %q is not a valid DNS label", s.K8sNamespace))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// MetricsPath is where training writes its evaluation report.
func (s Settings) MetricsPath() string {
	return filepath.Join(filepath.Dir(s.ModelPath), "metrics.json")
}

// APIAddress is the host:port the serving task listens on.
func (s Settings) APIAddress() string {
	return fmt.Sprintf("%s:%d", s.APIHost, s.APIPort)
}

// WithModelPath returns a copy of s whose artifact lives at path.
func (s Settings) WithModelPath(path string) Settings {
	s.ModelPath = path
	return s
}

// ConfigData renders the values injected into the cluster ConfigMap. Both
// tasks read them back through their environment.
func (s Settings) ConfigData() map[string]string {
	data := map[string]string{
		"MODEL_PATH":    s.ModelPath,
		"RANDOM_STATE":  strconv.Itoa(s.RandomState),
		"TEST_SIZE":     strconv.FormatFloat(s.TestSize, 'g', -1, 64),
		"N_ESTIMATORS":  strconv.Itoa(s.NEstimators),
		"MAX_DEPTH":     strconv.Itoa(s.MaxDepth),
		"API_HOST":      s.APIHost,
		"API_PORT":      strconv.Itoa(s.APIPort),
		"API_TITLE":     s.APITitle,
		"API_VERSION":   s.APIVersion,
		"MODEL_VERSION": s.ModelVersion,
		"LOG_LEVEL":     s.LogLevel,
	}
	if s.GCSBucket != "" {
		data["GCS_BUCKET"] = s.GCSBucket
	}
	if s.GCPProjectID != "" {
		data["GCP_PROJECT_ID"] = s.GCPProjectID
	}
	return data
}
