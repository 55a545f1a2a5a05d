package internal

import (
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
)

var (
	targetsCatalog string
	targetsOnly    []string
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List the build targets",
	Args:  cobra.NoArgs,
	RunE:  runTargets,
}

func init() {
	targetsCmd.Flags().StringVar(&targetsCatalog, "catalog", "", "HCL target catalog (default: built-in matrix)")
	targetsCmd.Flags().StringSliceVar(&targetsOnly, "only", nil, "List only the named targets")
	rootCmd.AddCommand(targetsCmd)
}

func runTargets(cmd *cobra.Command, args []string) error {
	catalog, err := loadCatalog(targetsCatalog, targetsOnly)
	if err != nil {
		return err
	}

	tbl := tablewriter.NewTable(cmd.OutOrStdout(),
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Borders:  tw.BorderNone,
			Settings: tw.Settings{Separators: tw.Separators{BetweenColumns: tw.On}},
		})),
	)
	tbl.Header([]string{"Name", "OS", "Triple", "Backend", "Features", "Local", "Cross"})
	data := make([][]any, 0, len(catalog))
	for _, t := range catalog {
		features, cross := t.Features, t.CrossCompiler
		if features == "" {
			features = "-"
		}
		if cross == "" {
			cross = "-"
		}
		data = append(data, []any{t.ArtifactName, t.OS, t.Triple, t.Backend, features, t.LocalVersion, cross})
	}
	if err := tbl.Bulk(data); err != nil {
		return err
	}
	return tbl.Render()
}
