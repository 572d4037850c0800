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

// Package shell runs external CLIs (gcloud, kubectl) and captures their output.
package shell

import (
	"bytes"
	"errors"
	"math/rand"
	"os/exec"
	"strings"
	"time"

	"iris-mlops/pkg/logging"
)

// CommandResult holds the outcome of one command execution.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Command is a prepared invocation of an external program.
type Command struct {
	name string
	args []string
	env  []string
}

func NewCommand(name string, args ...string) *Command {
	return &Command{name: name, args: args}
}

// SetEnv appends KEY=VALUE entries to the inherited environment.
func (c *Command) SetEnv(env ...string) {
	c.env = append(c.env, env...)
}

// String renders the command line for logs.
func (c *Command) String() string {
	return strings.Join(append([]string{c.name}, c.args...), " ")
}

// Execute runs the command to completion. A command that cannot be started
// reports exit code -1 with the start error in Stderr.
func (c *Command) Execute() CommandResult {
	cmd := exec.Command(c.name, c.args...)
	if len(c.env) > 0 {
		cmd.Env = append(cmd.Environ(), c.env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Debug("Executing: %s", c)
	err := cmd.Run()

	res := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		if res.Stderr == "" {
			res.Stderr = err.Error()
		}
	}
	return res
}

// ExecuteNonInteractive runs name with gcloud prompts disabled, so a
// command that would ask for confirmation fails instead of hanging.
func ExecuteNonInteractive(name string, args ...string) CommandResult {
	cmd := NewCommand(name, args...)
	cmd.SetEnv("CLOUDSDK_CORE_DISABLE_PROMPTS=1")
	return cmd.Execute()
}

// RandomString returns a lowercase alphanumeric string of length n, suitable
// for Kubernetes object name suffixes.
func RandomString(n int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	b := make([]byte, n)
	for i := range b {
		b[i] = charset[r.Intn(len(charset))]
	}
	return string(b)
}
