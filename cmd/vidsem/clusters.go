package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	clustersCmd.AddCommand(clustersLabelCmd)
	clustersCmd.AddCommand(clustersMergeCmd)
	clustersCmd.AddCommand(clustersEvictCmd)
	rootCmd.AddCommand(clustersCmd)
	rootCmd.AddCommand(reclusterCmd)
}

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "List clusters and manage them",
	RunE:  runClustersList,
}

func runClustersList(cmd *cobra.Command, args []string) error {
	eng, _, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	clusters, err := eng.ListClusters()
	if err != nil {
		return err
	}
	if len(clusters) == 0 {
		fmt.Println("no clusters; run `vidsem recluster` after importing items")
		return nil
	}
	for _, c := range clusters {
		label := c.Label
		if c.CustomLabel != "" {
			label = c.CustomLabel
		}
		fmt.Printf("%-36s  %3d items  conf %.2f  %s\n", c.ID, c.ItemCount, c.Confidence, label)
	}
	return nil
}

var clustersLabelCmd = &cobra.Command{
	Use:   "label <cluster-id> <label>",
	Short: "Assign a custom label to a cluster",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()
		return eng.SetClusterLabel(args[0], args[1])
	},
}

var clustersMergeCmd = &cobra.Command{
	Use:   "merge <into-id> <from-id>",
	Short: "Merge one cluster into another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()
		return eng.MergeClusters(args[0], args[1])
	},
}

var clustersEvictCmd = &cobra.Command{
	Use:   "evict <cluster-id> <item-id>",
	Short: "Remove an item from its cluster",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()
		return eng.EvictFromCluster(args[0], args[1])
	},
}

var reclusterCmd = &cobra.Command{
	Use:   "recluster",
	Short: "Rebuild the similarity graph and recompute clusters",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()
		if err := eng.Recluster(cmd.Context()); err != nil {
			return err
		}
		clusters, err := eng.ListClusters()
		if err != nil {
			return err
		}
		fmt.Printf("clustering complete: %d clusters\n", len(clusters))
		return nil
	},
}
