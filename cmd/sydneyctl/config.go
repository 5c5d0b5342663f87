package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DoqueDB/sydney/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or override engine parameters",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective engine parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%-40s %d\n", config.KeyFullTextInsertMergeFileSize, config.FullTextInsertMergeFileSize.Get(cfg))
			fmt.Printf("%-40s %d\n", config.KeyFullTextExpungeMergeFileSize, config.FullTextExpungeMergeFileSize.Get(cfg))
			fmt.Printf("%-40s %d\n", config.KeyFullTextInsertMergeTupleSize, config.FullTextInsertMergeTupleSize.Get(cfg))
			fmt.Printf("%-40s %d\n", config.KeyFullTextExpungeMergeTupleSize, config.FullTextExpungeMergeTupleSize.Get(cfg))
			fmt.Printf("%-40s %t\n", config.KeyFullTextIsAsyncMerge, config.FullTextIsAsyncMerge.Get(cfg))
			fmt.Printf("%-40s %d\n", config.KeyInvertedMergeClusterDistance, config.InvertedMergeClusterDistance.Get(cfg))
			fmt.Printf("%-40s %d\n", config.KeyInvertedMaxRoughClusterCount, config.InvertedMaxRoughClusterCount.Get(cfg))
			fmt.Printf("%-40s %d\n", config.KeyInvertedLocalClusteredLimit, config.InvertedLocalClusteredLimit.Get(cfg))
			return nil
		},
	}

	export := &cobra.Command{
		Use:   "export FILE",
		Short: "Write the effective parameters to a YAML config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Export(cfg, args[0])
		},
	}
	cmd.AddCommand(export)

	var areaFile string
	setArea := &cobra.Command{
		Use:   "set-area NAME PATH",
		Short: "Update an area path definition in the area TOML file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.SetAreaPath(areaFile, args[0], args[1])
		},
	}
	setArea.Flags().StringVar(&areaFile, "file", "areas.toml", "area definition file")

	cmd.AddCommand(show, setArea)
	return cmd
}
