package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/vidsem/pkg/embed"
	"github.com/orneryd/vidsem/pkg/store"
)

var importWait bool

func init() {
	importCmd.Flags().BoolVar(&importWait, "wait", true, "wait for embeddings before exiting")
	rootCmd.AddCommand(importCmd)
}

var importCmd = &cobra.Command{
	Use:   "import <items.json>",
	Short: "Import library items from a JSON file",
	Long: `Import items from a JSON array of objects with fields id, title,
textContent, source, durationSec and publishedAt. Embeddings are computed
in the background; with --wait (default) the command blocks until every
importable item is embedded.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var items []store.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	eng, st, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	for _, it := range items {
		if it.ID == "" {
			return fmt.Errorf("item without id in %s", args[0])
		}
		if err := st.PutItem(it); err != nil {
			return fmt.Errorf("store %s: %w", it.ID, err)
		}
		eng.NotifyItemUpserted(it.ID)
	}
	fmt.Printf("imported %d items\n", len(items))

	if importWait {
		deadline := time.Now().Add(5 * time.Minute)
		for time.Now().Before(deadline) {
			embedded, err := st.AllItemsWithEmbeddings()
			if err != nil {
				return err
			}
			if len(embedded) >= countEmbeddable(items) {
				fmt.Printf("embedded %d items\n", len(embedded))
				return nil
			}
			time.Sleep(200 * time.Millisecond)
		}
		return fmt.Errorf("timed out waiting for embeddings")
	}
	return nil
}

// countEmbeddable excludes items whose text cleans down to nothing; those
// never get an embedding.
func countEmbeddable(items []store.Item) int {
	n := 0
	for _, it := range items {
		if embed.CleanText(it.TextContent) != "" {
			n++
		}
	}
	return n
}
