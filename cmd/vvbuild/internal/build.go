package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/goplus/vvbuild/internal/assemble"
	"github.com/goplus/vvbuild/internal/build"
	"github.com/goplus/vvbuild/internal/config"
	"github.com/goplus/vvbuild/internal/ctxlog"
	"github.com/goplus/vvbuild/internal/env"
	"github.com/goplus/vvbuild/internal/orchestrate"
	"github.com/goplus/vvbuild/internal/target"
	"github.com/goplus/vvbuild/internal/toolchain"
	"github.com/goplus/vvbuild/internal/workspace"
)

var (
	buildVersion   string
	buildCatalog   string
	buildSource    string
	buildRef       string
	buildWorkDir   string
	buildJobs      int
	buildSign      bool
	buildPublish   bool
	buildStore     string
	buildOnly      []string
	buildSudo      bool
	buildKeep      bool
	buildSkipCheck bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build, archive and publish every release target",
	Long: `Build runs one build unit per target of the catalog in parallel. Each unit
compiles the C API library and the Python wheel in its own workspace,
assembles and archives the native bundle and, when the version is not DEBUG
and publishing is enabled, uploads the archive and the wheel.

The version comes from the release tag on release events, else from
--version or VVBUILD_VERSION, else it is DEBUG.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildVersion, "version", "", "Release version (A.BB.C or A.BB.C-preview.D)")
	buildCmd.Flags().StringVar(&buildCatalog, "catalog", "", "HCL target catalog (default: built-in matrix)")
	buildCmd.Flags().StringVarP(&buildSource, "source", "C", ".", "voicevox_core source tree")
	buildCmd.Flags().StringVar(&buildRef, "ref", "", "Git revision of the source tree to build (default: HEAD)")
	buildCmd.Flags().StringVar(&buildWorkDir, "workdir", "", "Work directory (default: $"+env.WorkDirEnv+" or the user cache dir)")
	buildCmd.Flags().IntVarP(&buildJobs, "jobs", "j", 0, "Maximum parallel build units (default: one per target)")
	buildCmd.Flags().BoolVar(&buildSign, "sign", false, "Sign Windows libraries (overrides $"+config.EnvSign+")")
	buildCmd.Flags().BoolVar(&buildPublish, "publish", false, "Open the publish gate (overrides $"+config.EnvPublish+")")
	buildCmd.Flags().StringVar(&buildStore, "store", "github", `Release store: "github" or "dir:<path>"`)
	buildCmd.Flags().StringSliceVar(&buildOnly, "only", nil, "Build only the named targets")
	buildCmd.Flags().BoolVar(&buildSudo, "sudo", false, "Install cross compilers through sudo")
	buildCmd.Flags().BoolVar(&buildKeep, "keep", false, "Keep unit workspaces after the run")
	buildCmd.Flags().BoolVar(&buildSkipCheck, "skip-tool-check", false, "Do not check for required tools on PATH")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := ctxlog.FromContext(ctx)

	plan, err := config.NewPlan(loadEnv(cmd, buildVersion))
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(buildCatalog, buildOnly)
	if err != nil {
		return err
	}

	source, err := filepath.Abs(buildSource)
	if err != nil {
		return err
	}
	workDir := buildWorkDir
	if workDir == "" {
		if workDir, err = env.WorkDir(); err != nil {
			return fmt.Errorf("failed to get work dir: %w", err)
		}
	} else if workDir, err = filepath.Abs(workDir); err != nil {
		return err
	}

	if !buildSkipCheck {
		if err := toolchain.Check(requiredTools(catalog, plan)...); err != nil {
			return err
		}
	}

	publisher, err := newPublisher(buildStore, plan)
	if err != nil {
		return err
	}

	workspaces := workspace.Detect(ctx, source)
	if buildRef != "" {
		workspaces = workspace.NewGit(source, workspace.WithRef(buildRef))
	}

	x := toolchain.Exec{}
	rep, err := orchestrate.Run(ctx, orchestrate.Options{
		Plan:       plan,
		Catalog:    catalog,
		Workspaces: workspaces,
		Builder:    build.NewRunner(build.Options{Exec: x, Sudo: buildSudo}),
		Assembler: assemble.New(assemble.Options{
			Sign:         plan.Sign,
			Signer:       toolchain.Signtool{X: x},
			CertBase64:   plan.Secrets.CertBase64,
			CertPassword: plan.Secrets.CertPassword,
		}),
		Publisher:      publisher,
		WorkDir:        workDir,
		Jobs:           buildJobs,
		KeepWorkspaces: buildKeep,
	})
	if err != nil {
		return err
	}

	if err := rep.Render(cmd.OutOrStdout(), color.SupportColor()); err != nil {
		logger.Warn("report not rendered", "err", err)
	}
	return rep.Err()
}

// requiredTools lists the executables the run needs.
func requiredTools(c target.Catalog, plan *config.Plan) []string {
	tools := build.Tools()
	if !plan.Sign {
		return tools
	}
	for _, t := range c {
		if t.OS == target.Windows {
			return append(tools, "signtool")
		}
	}
	return tools
}

// sourceFile resolves a path relative to the source tree.
func sourceFile(source, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(source, name)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
