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

package cmd

import (
	"iris-mlops/pkg/imagebuilder"
	"iris-mlops/pkg/logging"
	"iris-mlops/pkg/orchestrator/gke"

	"github.com/spf13/cobra"
)

var (
	baseDockerImage string
	buildContext    string
	registry        string
	platform        string
	remoteBuild     bool
	dockerfile      string
)

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVar(&baseDockerImage, "base-image", "", "Base image for the crane build (e.g., gcr.io/distroless/static:nonroot). Required unless --remote.")
	buildCmd.Flags().StringVarP(&buildContext, "build-context", "c", ".", "Directory holding the iris binary and anything else to ship.")
	buildCmd.Flags().StringVar(&registry, "registry", "", "Registry to push to. Defaults to gcr.io/<GCP_PROJECT_ID>.")
	buildCmd.Flags().StringVarP(&platform, "platform", "f", string(imagebuilder.LinuxAMD64), "Target platform of the images (e.g., 'linux/amd64', 'linux/arm64').")
	buildCmd.Flags().BoolVar(&remoteBuild, "remote", false, "Build from the Dockerfile with Cloud Build instead of crane.")
	buildCmd.Flags().StringVar(&dockerfile, "dockerfile", "Dockerfile", "Dockerfile used by --remote.")
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Builds and pushes the training and serving images.",
	Long: `The 'build' command produces the two task images, iris-train and iris-serve,
which differ only in the command they run.

By default the build context is appended as one layer on top of --base-image
with crane, honouring .dockerignore. With --remote the Dockerfile stages
'train' and 'serve' are built by Cloud Build.`,
	Run:          runBuildCmd,
	SilenceUsage: true,
}

func runBuildCmd(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	reg := registry
	if reg == "" {
		if settings.GCPProjectID == "" {
			logging.Fatal("Either --registry or GCP_PROJECT_ID must be provided.")
		}
		reg = gke.Registry(settings.GCPProjectID)
	}
	tag := imageTag
	if tag == "" {
		tag = imagebuilder.NewTag()
	}

	if remoteBuild {
		if settings.GCPProjectID == "" {
			logging.Fatal("GCP_PROJECT_ID must be set for a Cloud Build.")
		}
		yaml, err := imagebuilder.GenerateCloudBuildYaml(imagebuilder.CloudBuildOptions{
			Dockerfile:   dockerfile,
			BuildContext: buildContext,
			ProjectID:    settings.GCPProjectID,
			Registry:     reg,
			Tag:          tag,
		})
		if err != nil {
			logging.Fatal("Failed to generate Cloud Build YAML: %v", err)
		}
		if _, err := imagebuilder.SubmitCloudBuild(yaml, buildContext, settings.GCPProjectID); err != nil {
			logging.Fatal("Cloud Build failed: %v", err)
		}
		images := imagebuilder.Images(reg, tag)
		logging.Info("Built %s and %s", images.Train, images.Serve)
		return
	}

	if baseDockerImage == "" {
		logging.Fatal("A --base-image must be provided for a crane build.")
	}
	images, err := imagebuilder.BuildTaskImages(ctx, imagebuilder.BuildOptions{
		BaseImage:    baseDockerImage,
		BuildContext: buildContext,
		Platform:     platform,
		Registry:     reg,
		Tag:          tag,
	})
	if err != nil {
		logging.Fatal("Image build failed: %v", err)
	}
	logging.Info("Built %s and %s", images.Train, images.Serve)
}
