package internal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goplus/vvbuild/internal/config"
)

var (
	versionInput  string
	versionSuffix string
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the resolved release version",
	Long: `Version resolves the release version the way build does and prints it with
its kind. With --suffix it also prints the wheel version for that backend.`,
	Args: cobra.NoArgs,
	RunE: runVersion,
}

func init() {
	versionCmd.Flags().StringVar(&versionInput, "version", "", "Release version")
	versionCmd.Flags().StringVar(&versionSuffix, "suffix", "", "Backend local-version suffix, e.g. cpu")
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	plan, err := config.NewPlan(loadEnv(cmd, versionInput))
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s (%s)\n", plan.Version, plan.Version.Kind())
	if versionSuffix != "" {
		fmt.Fprintf(w, "wheel %s\n", plan.Version.PackageVersion(versionSuffix))
	}
	return nil
}
