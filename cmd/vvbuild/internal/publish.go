package internal

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/goplus/vvbuild/internal/config"
	"github.com/goplus/vvbuild/internal/ctxlog"
	"github.com/goplus/vvbuild/internal/release"
)

var (
	auxVersion string
	auxSource  string
	auxStore   string
	auxPublish bool
)

var publishAuxCmd = &cobra.Command{
	Use:   "publish-aux [file...]",
	Short: "Upload the downloader files to the release",
	Long: `Publish-aux uploads the auxiliary downloader files to the release of the
resolved version, independently of any build. Files default to the
downloader scripts of the source tree. Nothing is uploaded for DEBUG or
when the publish gate is closed.`,
	RunE: runPublishAux,
}

func init() {
	publishAuxCmd.Flags().StringVar(&auxVersion, "version", "", "Release version")
	publishAuxCmd.Flags().StringVarP(&auxSource, "source", "C", ".", "voicevox_core source tree")
	publishAuxCmd.Flags().StringVar(&auxStore, "store", "github", `Release store: "github" or "dir:<path>"`)
	publishAuxCmd.Flags().BoolVar(&auxPublish, "publish", false, "Open the publish gate (overrides $"+config.EnvPublish+")")
	rootCmd.AddCommand(publishAuxCmd)
}

func runPublishAux(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	plan, err := config.NewPlan(loadEnv(cmd, auxVersion))
	if err != nil {
		return err
	}

	publisher, err := newPublisher(auxStore, plan)
	if err != nil {
		return err
	}
	logger := ctxlog.FromContext(ctx)
	if !publisher.Enabled(plan.Version) {
		logger.Info("auxiliary publishing skipped", "version", plan.Version.String(), "gate", publisher.Gate)
		return nil
	}

	source, err := filepath.Abs(auxSource)
	if err != nil {
		return err
	}
	names := args
	if len(names) == 0 {
		names = release.DefaultAuxFiles
	}
	files := make([]string, len(names))
	for i, n := range names {
		files[i] = sourceFile(source, n)
		if !exists(files[i]) {
			return fmt.Errorf("auxiliary file not found: %s", files[i])
		}
	}

	if err := publisher.PublishAux(ctx, plan.Version, files); err != nil {
		return err
	}
	logger.Info("auxiliary files published", "version", plan.Version.String(), "files", len(files))
	return nil
}
