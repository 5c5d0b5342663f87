package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Store wraps a viper instance holding Sydney's inverted-index and engine
// parameters. A process has exactly one Store; tests construct
// their own isolated Store rather than touching global state.
type Store struct {
	v *viper.Viper
}

// Default config keys and values.
const (
	KeyFullTextInsertMergeFileSize   = "fulltext.insert_merge_file_size"
	KeyFullTextExpungeMergeFileSize  = "fulltext.expunge_merge_file_size"
	KeyFullTextInsertMergeTupleSize  = "fulltext.insert_merge_tuple_size"
	KeyFullTextExpungeMergeTupleSize = "fulltext.expunge_merge_tuple_size"
	KeyFullTextIsAsyncMerge          = "fulltext.is_async_merge"
	KeyInvertedMergeClusterDistance  = "inverted.merge_cluster_distance"
	KeyInvertedMaxRoughClusterCount  = "inverted.max_rough_cluster_count"
	KeyInvertedLocalClusteredLimit   = "inverted.local_clustered_limit"
)

const mebibyte = 1 << 20

// New builds a Store with every engine default registered, ready to have a config file or environment overrides
// layered on top via Load.
func New() *Store {
	v := viper.New()
	v.SetEnvPrefix("SYDNEY")
	v.AutomaticEnv()

	v.SetDefault(KeyFullTextInsertMergeFileSize, 128*mebibyte)
	v.SetDefault(KeyFullTextExpungeMergeFileSize, 128*mebibyte)
	v.SetDefault(KeyFullTextInsertMergeTupleSize, 0)
	v.SetDefault(KeyFullTextExpungeMergeTupleSize, 0)
	v.SetDefault(KeyFullTextIsAsyncMerge, true)
	v.SetDefault(KeyInvertedMergeClusterDistance, 10)
	v.SetDefault(KeyInvertedMaxRoughClusterCount, 100)
	v.SetDefault(KeyInvertedLocalClusteredLimit, 0)

	return &Store{v: v}
}

// Load layers a YAML or TOML config file (chosen by extension) on top of
// the registered defaults. A missing file is not an error: installations
// may run entirely off defaults and environment overrides.
func (s *Store) Load(path string) error {
	s.v.SetConfigFile(path)
	if err := s.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Set overrides a key at runtime.
func (s *Store) Set(key string, value any) {
	s.v.Set(key, value)
}

func resolveInt(s *Store, key string, def int) int {
	if !s.v.IsSet(key) {
		return def
	}
	return s.v.GetInt(key)
}

func resolveInt64(s *Store, key string, def int64) int64 {
	if !s.v.IsSet(key) {
		return def
	}
	return s.v.GetInt64(key)
}

func resolveBool(s *Store, key string, def bool) bool {
	if !s.v.IsSet(key) {
		return def
	}
	return s.v.GetBool(key)
}

func resolveDuration(s *Store, key string, def time.Duration) time.Duration {
	if !s.v.IsSet(key) {
		return def
	}
	return s.v.GetDuration(key)
}

// Engine-wide parameter cells. Each mergequeue/pagestore/search caller
// holds a reference to the Store and calls Get against these, rather than
// re-reading viper keys by hand.
var (
	FullTextInsertMergeFileSize   = NewParameter(KeyFullTextInsertMergeFileSize, int64(128*mebibyte), resolveInt64)
	FullTextExpungeMergeFileSize  = NewParameter(KeyFullTextExpungeMergeFileSize, int64(128*mebibyte), resolveInt64)
	FullTextInsertMergeTupleSize  = NewParameter(KeyFullTextInsertMergeTupleSize, 0, resolveInt)
	FullTextExpungeMergeTupleSize = NewParameter(KeyFullTextExpungeMergeTupleSize, 0, resolveInt)
	FullTextIsAsyncMerge          = NewParameter(KeyFullTextIsAsyncMerge, true, resolveBool)
	InvertedMergeClusterDistance  = NewParameter(KeyInvertedMergeClusterDistance, 10, resolveInt)
	InvertedMaxRoughClusterCount  = NewParameter(KeyInvertedMaxRoughClusterCount, 100, resolveInt)
	InvertedLocalClusteredLimit   = NewParameter(KeyInvertedLocalClusteredLimit, 0, resolveInt)

	// LockTimeoutPollInterval is the bounded-wait period used to implement
	// Lock::Timeout::Unlimited as a repeating poll.
	LockTimeoutPollInterval = NewParameter("lock.timeout_poll_interval", 100*time.Millisecond, resolveDuration)
)
