package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/vidsem/pkg/search"
)

var (
	searchSource      string
	searchCluster     string
	searchMinDuration int
	searchMaxDuration int
	searchAfter       string
	searchBefore      string
)

func init() {
	searchCmd.Flags().StringVar(&searchSource, "source", "", "only items from this source")
	searchCmd.Flags().StringVar(&searchCluster, "cluster", "", "only items in this cluster")
	searchCmd.Flags().IntVar(&searchMinDuration, "min-duration", 0, "minimum duration in seconds")
	searchCmd.Flags().IntVar(&searchMaxDuration, "max-duration", 0, "maximum duration in seconds")
	searchCmd.Flags().StringVar(&searchAfter, "after", "", "published after (YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchBefore, "before", "", "published before (YYYY-MM-DD)")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Hybrid keyword+vector search over the library",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	filters := search.Filters{
		Source:         searchSource,
		ClusterID:      searchCluster,
		MinDurationSec: searchMinDuration,
		MaxDurationSec: searchMaxDuration,
	}
	var err error
	if searchAfter != "" {
		if filters.PublishedAfter, err = time.Parse("2006-01-02", searchAfter); err != nil {
			return fmt.Errorf("--after: %w", err)
		}
	}
	if searchBefore != "" {
		if filters.PublishedBefore, err = time.Parse("2006-01-02", searchBefore); err != nil {
			return fmt.Errorf("--before: %w", err)
		}
	}

	eng, _, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	items, err := eng.Search(cmd.Context(), strings.Join(args, " "), filters)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, it := range items {
		fmt.Printf("%2d. %-40s  %s  %s\n", i+1, it.Title, it.Source, it.ID)
	}
	return nil
}
