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

package imagebuilder

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"iris-mlops/pkg/logging"
	"iris-mlops/pkg/shell"
)

// CloudBuildTemplate builds both task images from the stages of one
// Dockerfile.
const CloudBuildTemplate = `steps:
{{- range .Images}}
- name: 'gcr.io/cloud-builders/docker'
  id: '{{.Task}}'
  args: ['build', '-f', '{{$.Dockerfile}}', '--target', '{{.Task}}', '-t', '{{.Name}}', '.']
{{- end}}
images:
{{- range .Images}}
- '{{.Name}}'
{{- end}}
`

// CloudBuildOptions holds parameters for the Cloud Build process.
type CloudBuildOptions struct {
	Dockerfile   string
	BuildContext string
	ProjectID    string
	Registry     string
	Tag          string
}

// GenerateCloudBuildYaml generates the cloudbuild.yaml content.
func GenerateCloudBuildYaml(opts CloudBuildOptions) (string, error) {
	if opts.Registry == "" || opts.Tag == "" {
		return "", fmt.Errorf("registry and tag are required")
	}
	dockerfile := opts.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	tmpl, err := template.New("cloudbuild").Parse(CloudBuildTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse cloudbuild template: %w", err)
	}

	type image struct{ Task, Name string }
	data := struct {
		Dockerfile string
		Images     []image
	}{
		Dockerfile: dockerfile,
		Images: []image{
			{TaskTrain, ImageName(opts.Registry, TaskTrain, opts.Tag)},
			{TaskServe, ImageName(opts.Registry, TaskServe, opts.Tag)},
		},
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute cloudbuild template: %w", err)
	}
	return buf.String(), nil
}

// SubmitCloudBuild submits the cloudbuild.yaml to GCP Cloud Build and
// returns the build URL when gcloud printed one.
func SubmitCloudBuild(cloudBuildYamlContent string, buildContextPath string, projectID string) (string, error) {
	tmpFile, err := os.CreateTemp("", "cloudbuild-*.yaml")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary cloudbuild.yaml file: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	if _, err := tmpFile.WriteString(cloudBuildYamlContent); err != nil {
		return "", fmt.Errorf("failed to write cloudbuild.yaml content to temporary file: %w", err)
	}

	logging.Info("Submitting Cloud Build with context: %s", buildContextPath)
	logging.Debug("CloudBuild YAML content:\n%s", cloudBuildYamlContent)

	result := shell.ExecuteNonInteractive("gcloud", "builds", "submit", buildContextPath,
		"--config="+tmpFile.Name(), "--project="+projectID)
	if result.ExitCode != 0 {
		return "", fmt.Errorf("gcloud builds submit failed with exit code %d: %s\n%s", result.ExitCode, result.Stderr, result.Stdout)
	}

	// gcloud prints the log URL on stderr.
	buildURL := extractBuildURL(result.Stderr + "\n" + result.Stdout)
	if buildURL != "" {
		logging.Info("Cloud Build submitted successfully: %s", buildURL)
	} else {
		logging.Info("Cloud Build submitted successfully. Check 'gcloud builds list' for status.")
	}
	return buildURL, nil
}

// extractBuildURL attempts to parse the Cloud Build URL from gcloud's output.
func extractBuildURL(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "builds/") {
			continue
		}
		if idx := strings.Index(line, "https://console.cloud.google.com"); idx != -1 {
			url := strings.TrimSpace(line[idx:])
			return strings.TrimRight(url, "].")
		}
	}
	return ""
}
