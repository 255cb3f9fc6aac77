package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the vector and keyword indexes from the item store",
	Long: `Rebuild both indexes from stored embeddings and write a fresh index
snapshot.

Use this if the snapshot was lost or corrupted, or after hand-editing the
store; the item store is the source of truth and rebuilding is always safe.`,
	RunE: runRebuild,
}

func runRebuild(cmd *cobra.Command, args []string) error {
	eng, st, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := eng.RebuildIndex(cmd.Context()); err != nil {
		return err
	}
	count, err := st.ItemCount()
	if err != nil {
		return err
	}
	fmt.Printf("rebuilt indexes over %d items\n", count)
	return nil
}
