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

// Package imagebuilder produces the training and serving images.
package imagebuilder

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"iris-mlops/pkg/logging"
	"iris-mlops/pkg/shell"

	"github.com/google/go-containerregistry/pkg/compression"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
)

// DockerPlatform represents the target platform for a Docker image.
type DockerPlatform string

const (
	LinuxAMD64 DockerPlatform = "linux/amd64"
	LinuxARM64 DockerPlatform = "linux/arm64"
)

// Task images share one layer and differ only in the command.
const (
	TaskTrain = "train"
	TaskServe = "serve"

	// AppDir is where the build context lands inside the image.
	AppDir     = "/app"
	Entrypoint = AppDir + "/iris"
)

// DefaultIgnorePatterns are applied before the patterns of .dockerignore.
var DefaultIgnorePatterns = []string{
	".git",
	".dockerignore",
	"_examples",
	"models/",
	"*.log",
	"tmp/",
	".DS_Store",
}

// BuildOptions configures BuildTaskImages.
type BuildOptions struct {
	BaseImage    string
	BuildContext string
	Platform     string
	// Registry prefix such as gcr.io/<project>. Empty means local names.
	Registry string
	Tag      string
}

// TaskImages are the references of the two pushed images.
type TaskImages struct {
	Train string
	Serve string
}

// NewTag returns a tag of the form <rand4>-<YYYY-MM-DD-HH-MM-SS>.
func NewTag() string {
	return shell.RandomString(4) + "-" + time.Now().Format("2006-01-02-15-04-05")
}

// ImageName returns the reference of a task image, e.g.
// gcr.io/my-project/iris-train:v1 or iris-serve:v1.
func ImageName(registry, task, tag string) string {
	repo := "iris-" + task
	if registry != "" {
		repo = strings.TrimSuffix(registry, "/") + "/" + repo
	}
	return repo + ":" + tag
}

// Images returns the references of both task images.
func Images(registry, tag string) TaskImages {
	return TaskImages{
		Train: ImageName(registry, TaskTrain, tag),
		Serve: ImageName(registry, TaskServe, tag),
	}
}

// BuildTaskImages appends the filtered build context as one layer to the
// base image and pushes it twice, once per task command.
func BuildTaskImages(ctx context.Context, opts BuildOptions) (TaskImages, error) {
	platform, err := parsePlatform(opts.Platform)
	if err != nil {
		return TaskImages{}, err
	}
	if opts.Registry == "" {
		return TaskImages{}, fmt.Errorf("a registry is required to push images")
	}
	if opts.Tag == "" {
		opts.Tag = NewTag()
	}
	images := Images(opts.Registry, opts.Tag)

	logging.Info("Base Docker Image: %s", opts.BaseImage)
	logging.Info("Build Context: %s", opts.BuildContext)
	logging.Info("Target Platform: %s/%s", platform.OS, platform.Architecture)

	matcher, err := ReadDockerignorePatterns(opts.BuildContext, DefaultIgnorePatterns)
	if err != nil {
		return TaskImages{}, err
	}
	tarPath, err := createFilteredTar(opts.BuildContext, matcher)
	if err != nil {
		return TaskImages{}, fmt.Errorf("failed to create filtered tarball: %w", err)
	}
	defer func() {
		os.Remove(tarPath)
		logging.Debug("Cleaned up temporary tarball file: %s", tarPath)
	}()

	layer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return os.Open(tarPath)
	}, tarball.WithCompression(compression.GZip))
	if err != nil {
		return TaskImages{}, fmt.Errorf("failed to create layer from tarball: %w", err)
	}

	baseRef, err := name.ParseReference(opts.BaseImage)
	if err != nil {
		return TaskImages{}, fmt.Errorf("failed to parse base image reference %q: %w", opts.BaseImage, err)
	}
	craneOpts := []crane.Option{crane.WithPlatform(&platform), crane.WithContext(ctx)}
	base, err := crane.Pull(baseRef.String(), craneOpts...)
	if err != nil {
		return TaskImages{}, fmt.Errorf("failed to pull base image %q: %w", opts.BaseImage, err)
	}

	for _, t := range []struct{ task, ref string }{{TaskTrain, images.Train}, {TaskServe, images.Serve}} {
		task, ref := t.task, t.ref
		img, err := taskImage(base, layer, task)
		if err != nil {
			return TaskImages{}, err
		}
		if _, err := name.ParseReference(ref); err != nil {
			return TaskImages{}, fmt.Errorf("failed to parse image reference %q: %w", ref, err)
		}
		logging.Info("Uploading Container Image to %s", ref)
		if err := crane.Push(img, ref, craneOpts...); err != nil {
			return TaskImages{}, fmt.Errorf("failed to push image %q: %w", ref, err)
		}
	}
	logging.Info("Images %s and %s built and uploaded successfully.", images.Train, images.Serve)
	return images, nil
}

// taskImage appends layer to base and points the entrypoint at the iris
// binary running task.
func taskImage(base v1.Image, layer v1.Layer, task string) (v1.Image, error) {
	img, err := mutate.AppendLayers(base, layer)
	if err != nil {
		return nil, fmt.Errorf("failed to append layer: %w", err)
	}
	cf, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("failed to read image config: %w", err)
	}
	cfg := *cf.Config.DeepCopy()
	cfg.Entrypoint = []string{Entrypoint}
	cfg.Cmd = []string{task}
	cfg.WorkingDir = AppDir
	if cfg.Labels == nil {
		cfg.Labels = map[string]string{}
	}
	cfg.Labels["app.kubernetes.io/component"] = componentOf(task)
	img, err = mutate.Config(img, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set image config for %s: %w", task, err)
	}
	return img, nil
}

func componentOf(task string) string {
	if task == TaskTrain {
		return "training"
	}
	return "serving"
}

// parsePlatform converts a platform string (e.g., "linux/amd64") into a v1.Platform struct.
func parsePlatform(platformStr string) (v1.Platform, error) {
	if platformStr == "" {
		platformStr = string(LinuxAMD64)
	}
	parts := strings.Split(platformStr, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return v1.Platform{}, fmt.Errorf("invalid platform format: %q, expected \"os/arch\"", platformStr)
	}
	return v1.Platform{
		OS:           parts[0],
		Architecture: parts[1],
	}, nil
}

// ReadDockerignorePatterns combines defaultPatterns with the .dockerignore
// of dir, when there is one.
func ReadDockerignorePatterns(dir string, defaultPatterns []string) (*patternmatcher.PatternMatcher, error) {
	dockerignorePath := filepath.Join(dir, ".dockerignore")

	patterns := make([]string, len(defaultPatterns))
	copy(patterns, defaultPatterns)

	if _, err := os.Stat(dockerignorePath); err == nil {
		file, err := os.Open(dockerignorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open .dockerignore file %q: %w", dockerignorePath, err)
		}
		defer file.Close()

		filePatterns, err := ignorefile.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read .dockerignore file %q: %w", dockerignorePath, err)
		}
		patterns = append(patterns, filePatterns...)
		logging.Info("Found %d patterns in .dockerignore at %q", len(filePatterns), dockerignorePath)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat .dockerignore file %q: %w", dockerignorePath, err)
	}

	matcher, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern matcher: %w", err)
	}
	return matcher, nil
}

// ignored reports whether relPath is excluded. Directories are matched
// with a trailing slash so that "dir/" patterns apply to them.
func ignored(matcher *patternmatcher.PatternMatcher, relPath string, isDir bool) (bool, error) {
	relPathSlash := filepath.ToSlash(relPath)
	if isDir && !strings.HasSuffix(relPathSlash, "/") {
		relPathSlash += "/"
	}
	return matcher.MatchesOrParentMatches(relPathSlash)
}

// processTarEntry adds one file or directory of sourceDir under AppDir.
func processTarEntry(tarWriter *tar.Writer, sourceDir string, ignoreMatcher *patternmatcher.PatternMatcher, p string, info fs.FileInfo, errFromWalk error) error {
	if errFromWalk != nil {
		return errFromWalk
	}

	relPath, err := filepath.Rel(sourceDir, p)
	if err != nil {
		return fmt.Errorf("failed to get relative path for %q: %w", p, err)
	}
	if relPath == "." {
		return nil
	}

	skip, err := ignored(ignoreMatcher, relPath, info.IsDir())
	if err != nil {
		return fmt.Errorf("failed to check ignore patterns for %q: %w", p, err)
	}
	if skip {
		if info.IsDir() {
			logging.Debug("Ignoring directory %q", relPath)
			return filepath.SkipDir
		}
		logging.Debug("Ignoring file %q", relPath)
		return nil
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to create tar header for %q: %w", p, err)
	}
	header.Name = path.Join(strings.TrimPrefix(AppDir, "/"), filepath.ToSlash(relPath))
	if info.IsDir() {
		header.Name += "/"
	}

	if err := tarWriter.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %q: %w", p, err)
	}

	if info.Mode().IsRegular() {
		file, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open file %q: %w", p, err)
		}
		defer file.Close()

		if _, err := io.Copy(tarWriter, file); err != nil {
			return fmt.Errorf("failed to write file content for %q: %w", p, err)
		}
	}
	return nil
}

// createFilteredTar writes a gzipped tarball of sourceDir to a temporary
// file and returns its path.
func createFilteredTar(sourceDir string, ignoreMatcher *patternmatcher.PatternMatcher) (tarPath string, err error) {
	tmpFile, err := os.CreateTemp("", "iris-build-context-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file for tarball: %w", err)
	}
	defer func() {
		if cerr := tmpFile.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(tmpFile.Name())
			tarPath = ""
		}
	}()

	gzipWriter := gzip.NewWriter(tmpFile)
	tarWriter := tar.NewWriter(gzipWriter)
	logging.Info("Creating filtered tar from %s to temporary file %s", sourceDir, tmpFile.Name())

	err = tarWriter.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     strings.TrimPrefix(AppDir, "/") + "/",
		Mode:     0o755,
	})
	if err != nil {
		return "", fmt.Errorf("failed to write tar header for %s: %w", AppDir, err)
	}

	err = filepath.Walk(sourceDir, func(p string, info fs.FileInfo, err error) error {
		return processTarEntry(tarWriter, sourceDir, ignoreMatcher, p, info, err)
	})
	if err != nil {
		return "", err
	}
	if err := tarWriter.Close(); err != nil {
		return "", fmt.Errorf("failed to close tar writer: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		return "", fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return tmpFile.Name(), nil
}
