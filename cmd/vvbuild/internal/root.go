package internal

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/goplus/vvbuild/internal/config"
	"github.com/goplus/vvbuild/internal/ctxlog"
	"github.com/goplus/vvbuild/internal/release"
	"github.com/goplus/vvbuild/internal/target"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "vvbuild",
	Short: "vvbuild builds and publishes voicevox_core releases",
	Long: `vvbuild resolves the release version, builds every target of the release
matrix in parallel, assembles and archives the native bundles, packages the
Python wheels and, when allowed, publishes everything to the release store.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger := ctxlog.New(logLevel, logFormat, cmd.ErrOrStderr())
		slog.SetDefault(logger)
		cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		log.Fatal(err)
	}
}

// loadEnv reads the environment and applies the version, sign and publish
// flags of cmd when they were set.
func loadEnv(cmd *cobra.Command, versionFlag string) config.Env {
	e := config.Load(os.Getenv)
	if cmd.Flags().Changed("version") {
		e.Version = versionFlag
	}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"sign", &e.Sign},
		{"publish", &e.PublishGate},
	} {
		if fl := cmd.Flags().Lookup(f.name); fl != nil && fl.Changed {
			*f.dst = fl.Value.String()
		}
	}
	return e
}

// loadCatalog reads the HCL catalog at path, or the built-in one when path
// is empty, restricted to only.
func loadCatalog(path string, only []string) (target.Catalog, error) {
	c := target.Default()
	if path != "" {
		var err error
		if c, err = target.Load(path); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c.Filter(only)
}

// Store specs accepted by --store.
const (
	storeGitHub = "github"
	storeDir    = "dir:"
)

// newStore creates the release store named by spec: "github" or
// "dir:<path>".
func newStore(spec string, plan *config.Plan) (release.Store, error) {
	switch {
	case spec == storeGitHub:
		return release.NewGitHubStore(plan.Repository, plan.Secrets.GitHubToken)
	case strings.HasPrefix(spec, storeDir):
		dir := strings.TrimPrefix(spec, storeDir)
		if dir == "" {
			return nil, fmt.Errorf("store %q: empty directory", spec)
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, err
		}
		return release.NewDirStore(abs), nil
	}
	return nil, fmt.Errorf("unknown store %q, want %q or %q<path>", spec, storeGitHub, storeDir)
}

// newPublisher returns a publisher for plan. The store is only created when
// publishing is enabled, so a closed gate needs no credentials.
func newPublisher(spec string, plan *config.Plan) (*release.Publisher, error) {
	p := &release.Publisher{Gate: plan.Publish}
	if !plan.Publish {
		return p, nil
	}
	store, err := newStore(spec, plan)
	if err != nil {
		return nil, err
	}
	p.Store = store
	return p, nil
}
