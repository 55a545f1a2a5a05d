package orchestrate

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	qerrors "github.com/qiniu/x/errors"

	"github.com/goplus/vvbuild/internal/build"
	"github.com/goplus/vvbuild/internal/version"
)

// Report is the outcome of a run, one Result per target in catalog order.
type Report struct {
	RunID   string
	Version version.Version
	Results []Result
}

// Succeeded returns the number of completed units.
func (r *Report) Succeeded() int {
	n := 0
	for i := range r.Results {
		if r.Results[i].OK() {
			n++
		}
	}
	return n
}

// Failed returns the failed units.
func (r *Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if !res.OK() {
			failed = append(failed, res)
		}
	}
	return failed
}

// Err combines unit failures; nil when every unit completed.
func (r *Report) Err() error {
	var errs qerrors.List
	for _, res := range r.Failed() {
		errs.Add(fmt.Errorf("%s: %s: %w", res.Target.ArtifactName, res.Where(), res.Err))
	}
	return errs.ToError()
}

// Where names the stage a unit failed in, including the build step.
func (r *Result) Where() string {
	var se *build.StepError
	if r.Stage == StageBuild && errors.As(r.Err, &se) {
		return StageBuild + "/" + se.Step
	}
	return r.Stage
}

// Render writes the report as a table. colored enables terminal colors.
func (r *Report) Render(w io.Writer, colored bool) error {
	paint := func(t *color.Theme, text string) string {
		if !colored {
			return text
		}
		return t.Sprint(text)
	}

	tbl := tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Borders:  tw.BorderNone,
			Settings: tw.Settings{Separators: tw.Separators{BetweenColumns: tw.On}},
		})),
	)
	tbl.Header([]string{"Target", "Archive", "SHA256", "Published", "Status"})

	data := make([][]any, 0, len(r.Results))
	for _, res := range r.Results {
		archive, sum := "-", "-"
		if res.Archive != nil {
			archive = res.Archive.Name
			sum = res.Archive.SHA256
		}
		published := "no"
		if res.Published {
			published = "yes"
		}
		status := paint(color.Success, "ok")
		switch {
		case !res.OK():
			status = paint(color.Danger, "failed at "+res.Where())
		case len(res.Warnings) > 0:
			status = paint(color.Warn, fmt.Sprintf("ok (%d warnings)", len(res.Warnings)))
		}
		data = append(data, []any{res.Target.ArtifactName, archive, sum, published, status})
	}
	if err := tbl.Bulk(data); err != nil {
		return err
	}
	if err := tbl.Render(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nversion %s, run %s: %d ok, %d failed\n", r.Version, r.RunID, r.Succeeded(), len(r.Failed()))
	for _, res := range r.Failed() {
		fmt.Fprintf(w, "  %s: %s\n", res.Target.ArtifactName, firstLine(res.Err.Error()))
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
