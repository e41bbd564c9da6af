package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/infraguys/genesis-devtools/pkg/builder"
)

var (
	buildConfigName   string
	buildDepsDir      string
	buildBuildDir     string
	buildOutputDir    string
	buildDevKeyPath   string
	buildForce        bool
)

var buildCmd = &cobra.Command{
	Use:   "build [flags] PROJECT_DIR",
	Short: "Build the images of a genesis project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectDir := args[0]

		outputDir := buildOutputDir
		if outputDir == "" {
			outputDir = builder.DefaultOutputDirName
		}
		if _, err := os.Stat(outputDir); err == nil {
			if !buildForce {
				color.Yellow("The '%s' directory already exists. Use '--force' "+
					"flag to remove current artifacts and build anew.", outputDir)
				return nil
			}
			if err := os.RemoveAll(outputDir); err != nil {
				return fmt.Errorf("remove output dir %s: %w", outputDir, err)
			}
		}

		developerKeys, err := builder.DeveloperKeys(buildDevKeyPath)
		if err != nil {
			return err
		}

		cfgPath, err := builder.FindConfig(projectDir, buildConfigName)
		if err != nil {
			return err
		}

		workDir, err := filepath.Abs(filepath.Join(projectDir, builder.DefaultWorkDirName))
		if err != nil {
			return err
		}

		builds, err := builder.LoadConfig(cfgPath, workDir)
		if err != nil {
			return err
		}
		if len(builds) == 0 {
			color.Yellow("No builds found in the configuration")
			return nil
		}

		pb := builder.NewPackerBuilder(outputDir)

		// Stable build order across runs.
		names := make([]string, 0, len(builds))
		for name := range builds {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			log.Infof("Running build section: %s", name)

			sb, err := builder.NewFromBuild(workDir, builds[name], pb)
			if err != nil {
				return err
			}

			depsDir := buildDepsDir
			if depsDir == "" {
				tmp, err := os.MkdirTemp("", "genesis-deps-")
				if err != nil {
					return fmt.Errorf("create deps dir: %w", err)
				}
				defer os.RemoveAll(tmp)
				depsDir = tmp
			}

			if err := sb.FetchDependencies(cmd.Context(), depsDir); err != nil {
				return err
			}
			if err := sb.Build(cmd.Context(), buildBuildDir, developerKeys); err != nil {
				return err
			}
		}

		return nil
	},
}

func init() {
	buildCmd.Flags().StringVarP(&buildConfigName, "config", "c", builder.DefaultConfigName,
		"Name of the project configuration file")
	buildCmd.Flags().StringVar(&buildDepsDir, "deps-dir", "",
		"Directory where dependencies will be fetched")
	buildCmd.Flags().StringVar(&buildBuildDir, "build-dir", "",
		"Directory where temporary build artifacts will be stored")
	buildCmd.Flags().StringVar(&buildOutputDir, "output-dir", "",
		"Directory where output artifacts will be stored")
	buildCmd.Flags().StringVarP(&buildDevKeyPath, "developer-key", "i", "",
		"Path to developer public key")
	buildCmd.Flags().BoolVarP(&buildForce, "force", "f", false,
		"Rebuild if the output already exists")
	rootCmd.AddCommand(buildCmd)
}
