package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Effective is the exportable snapshot of every engine parameter.
type Effective struct {
	FullText struct {
		InsertMergeFileSize   int64 `yaml:"insert_merge_file_size"`
		ExpungeMergeFileSize  int64 `yaml:"expunge_merge_file_size"`
		InsertMergeTupleSize  int   `yaml:"insert_merge_tuple_size"`
		ExpungeMergeTupleSize int   `yaml:"expunge_merge_tuple_size"`
		IsAsyncMerge          bool  `yaml:"is_async_merge"`
	} `yaml:"fulltext"`
	Inverted struct {
		MergeClusterDistance int `yaml:"merge_cluster_distance"`
		MaxRoughClusterCount int `yaml:"max_rough_cluster_count"`
		LocalClusteredLimit  int `yaml:"local_clustered_limit"`
	} `yaml:"inverted"`
}

// Snapshot resolves every parameter against the store.
func Snapshot(s *Store) Effective {
	var e Effective
	e.FullText.InsertMergeFileSize = FullTextInsertMergeFileSize.Get(s)
	e.FullText.ExpungeMergeFileSize = FullTextExpungeMergeFileSize.Get(s)
	e.FullText.InsertMergeTupleSize = FullTextInsertMergeTupleSize.Get(s)
	e.FullText.ExpungeMergeTupleSize = FullTextExpungeMergeTupleSize.Get(s)
	e.FullText.IsAsyncMerge = FullTextIsAsyncMerge.Get(s)
	e.Inverted.MergeClusterDistance = InvertedMergeClusterDistance.Get(s)
	e.Inverted.MaxRoughClusterCount = InvertedMaxRoughClusterCount.Get(s)
	e.Inverted.LocalClusteredLimit = InvertedLocalClusteredLimit.Get(s)
	return e
}

// Export writes the effective parameters as YAML, a ready-to-edit config
// file for the next start.
func Export(s *Store, path string) error {
	data, err := yaml.Marshal(Snapshot(s))
	if err != nil {
		return fmt.Errorf("config: marshal export: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write export %s: %w", path, err)
	}
	return nil
}
