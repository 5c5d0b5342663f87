package capsule

import (
	"sort"

	"github.com/DoqueDB/sydney/internal/inverted"
	"github.com/DoqueDB/sydney/internal/types"
)

// ClusterParams tunes the two-phase clustering pass.
type ClusterParams struct {
	// MaxRoughClusterCount is the rough-cluster batch size per pass.
	MaxRoughClusterCount int
	// Neighbor is the pair window within a rough cluster.
	Neighbor int
	// MergeClusterDistance is the neighbor window for the cross-cluster
	// merge of representative vectors.
	MergeClusterDistance int
	// GlobalThreshold is the similarity threshold for cross-cluster merge.
	GlobalThreshold float64
	// LocalThreshold is the within-rough-cluster merge threshold; zero
	// derives (1+GlobalThreshold)/2.
	LocalThreshold float64
	// Phased stops after a single rough pass, for limit-bounded searches
	// that may never need the tail clustered.
	Phased bool
}

// DefaultClusterParams mirrors the engine's configuration defaults.
func DefaultClusterParams() ClusterParams {
	return ClusterParams{
		MaxRoughClusterCount: 100,
		Neighbor:             8,
		MergeClusterDistance: 10,
		GlobalThreshold:      0.8,
	}
}

func (p ClusterParams) localThreshold() float64 {
	if p.LocalThreshold != 0 {
		return p.LocalThreshold
	}
	return (1 + p.GlobalThreshold) / 2
}

// featureSource resolves a row's clustering vector.
type featureSource func(types.RowID) (inverted.FeatureSet, error)

// decrementWindow is the rolling window the rough pass averages score
// decrements over.
const decrementWindow = 1024

// roughClusters walks the score-sorted rows and cuts where the decrement
// to the next row exceeds the window-averaged decrement D, recomputing D
// whenever it degenerates to zero. It stops after maxClusters clusters.
func roughClusters(rows []ScoredRow, maxClusters int) [][]int {
	if len(rows) == 0 {
		return nil
	}
	avg := averageDecrement(rows, 0)
	var clusters [][]int
	cur := []int{0}
	for i := 1; i < len(rows); i++ {
		d := rows[i-1].Score - rows[i].Score
		if avg == 0 {
			avg = averageDecrement(rows, i-1)
		}
		if avg > 0 && d > avg {
			clusters = append(clusters, cur)
			cur = nil
			if maxClusters > 0 && len(clusters) >= maxClusters {
				return clusters
			}
		}
		cur = append(cur, i)
	}
	if len(cur) > 0 {
		clusters = append(clusters, cur)
	}
	return clusters
}

func averageDecrement(rows []ScoredRow, from int) float64 {
	to := from + decrementWindow
	if to > len(rows)-1 {
		to = len(rows) - 1
	}
	if to <= from {
		return 0
	}
	return (rows[from].Score - rows[to].Score) / float64(to-from)
}

// detailedClusters merges documents within one rough cluster whose feature
// inner product clears the local threshold, pairing only indexes within
// the neighbor window.
func detailedClusters(members []int, feats []inverted.FeatureSet, neighbor int, threshold float64) []int {
	// Union-find over the member slots.
	parent := make([]int, len(members))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}
	for i := 0; i < len(members); i++ {
		if feats[i] == nil {
			continue
		}
		for j := i + 1; j < len(members) && j-i <= neighbor; j++ {
			if feats[j] == nil {
				continue
			}
			if feats[i].InnerProduct(feats[j]) > threshold {
				union(i, j)
			}
		}
	}
	ids := make([]int, len(members))
	for i := range members {
		ids[i] = find(i)
	}
	return ids
}

// Clusterize orders rows so cluster members are contiguous and assigns
// each row its final cluster id, returning the cluster id list parallel to
// the reordered rows.
func Clusterize(rows []ScoredRow, feats featureSource, p ClusterParams) ([]ScoredRow, []int, error) {
	if len(rows) == 0 {
		return rows, nil, nil
	}
	if len(rows) == 1 {
		rows[0].ClusterID = 0
		return rows, []int{0}, nil
	}

	rough := roughClusters(rows, p.MaxRoughClusterCount)
	if p.Phased && len(rough) > 0 {
		// One rough pass only: each rough cluster is a final cluster.
		return finalize(rows, rough)
	}

	// Detailed pass per rough cluster.
	var groups [][]int // final clusters as row indexes
	var reps []inverted.FeatureSet
	for _, members := range rough {
		fs := make([]inverted.FeatureSet, len(members))
		for i, idx := range members {
			f, err := feats(rows[idx].RowID)
			if err != nil {
				return nil, nil, err
			}
			fs[i] = f
		}
		ids := detailedClusters(members, fs, p.Neighbor, p.localThreshold())
		byRoot := make(map[int][]int)
		var order []int
		for i, root := range ids {
			if _, seen := byRoot[root]; !seen {
				order = append(order, root)
			}
			byRoot[root] = append(byRoot[root], members[i])
		}
		for _, root := range order {
			groups = append(groups, byRoot[root])
			reps = append(reps, representative(byRoot[root], rows, feats))
		}
	}

	// Cross-cluster merge over representative vectors.
	merged := detailedClusters(indexRange(len(groups)), reps, p.MergeClusterDistance, p.GlobalThreshold)
	byRoot := make(map[int][]int)
	var order []int
	for i, root := range merged {
		if _, seen := byRoot[root]; !seen {
			order = append(order, root)
		}
		byRoot[root] = append(byRoot[root], groups[i]...)
	}
	final := make([][]int, 0, len(order))
	for _, root := range order {
		members := byRoot[root]
		sort.Ints(members)
		final = append(final, members)
	}
	return finalize(rows, final)
}

func indexRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// representative averages the member vectors.
func representative(members []int, rows []ScoredRow, feats featureSource) inverted.FeatureSet {
	sum := make(inverted.FeatureSet)
	n := 0
	for _, idx := range members {
		f, err := feats(rows[idx].RowID)
		if err != nil || f == nil {
			continue
		}
		for term, w := range f {
			sum[term] += w
		}
		n++
	}
	if n == 0 {
		return nil
	}
	for term := range sum {
		sum[term] /= float32(n)
	}
	return sum
}

// finalize reorders the row buffer cluster-contiguously and writes final
// cluster ids.
func finalize(rows []ScoredRow, clusters [][]int) ([]ScoredRow, []int, error) {
	out := make([]ScoredRow, 0, len(rows))
	ids := make([]int, 0, len(rows))
	for cid, members := range clusters {
		for _, idx := range members {
			r := rows[idx]
			r.ClusterID = cid
			out = append(out, r)
			ids = append(ids, cid)
		}
	}
	return out, ids, nil
}
