// Package main provides the vidsem CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/orneryd/vidsem/pkg/embed"
	"github.com/orneryd/vidsem/pkg/envutil"
	"github.com/orneryd/vidsem/pkg/store"
	"github.com/orneryd/vidsem/pkg/vidsem"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	// Optional .env for local runs; absence is not an error.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vidsem",
	Short: "Semantic discovery over a personal video library",
	Long: `vidsem indexes a personal video library for semantic discovery:
hybrid keyword+vector search, similarity clustering, and cluster labeling,
entirely on-device.

Configuration comes from VIDSEM_* environment variables (see .env support);
data lives under VIDSEM_DATA_DIR.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = Version
}

// openEngine opens the store and the engine. The returned cleanup closes
// both in order.
func openEngine() (*vidsem.Engine, *store.BadgerStore, func(), error) {
	cfg := vidsem.ConfigFromEnv()
	st, err := store.OpenBadgerStore(filepath.Join(cfg.DataDir, "items"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	// The CLI has no model runtime attached; the deterministic hash encoder
	// exercises the full pipeline offline.
	dims := envutil.GetInt("VIDSEM_EMBED_DIMS", 384)
	eng, err := vidsem.NewEngine(cfg, st, embed.NewHashEncoder(dims))
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := eng.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing engine: %v\n", err)
		}
		if err := st.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing store: %v\n", err)
		}
	}
	return eng, st, cleanup, nil
}
