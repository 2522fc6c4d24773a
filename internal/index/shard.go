package index

import (
	"math"
	"sort"

	"github.com/codegraph/querycore/pkg/codegraph"
)

// defaultIVFThreshold is the vector count at or above which a shard is built as
// IVF-flat rather than scanned exactly. Configurable via [Option] for
// testing the flat/IVF boundary described in spec.md's boundary behaviors.
const defaultIVFThreshold = 10_000

// scoredLocal is one (local index position, metric score) pair produced by
// a shard scan, before translation to a node id.
type scoredLocal struct {
	local int
	score float64
}

// shard is the in-memory representation of one opened ANN partition: its
// raw vectors, id-mapping, and (if built as IVF-flat) its centroids and
// per-vector cluster assignments.
type shard struct {
	desc      codegraph.ShardDescriptor
	vectors   [][]float32
	ids       []codegraph.NodeID
	centroids [][]float32
	assigned  []int // len == len(vectors); centroid index per vector, IVF only
	sizeBytes int64
}

// buildShard constructs the in-memory shard representation for the given
// vectors and id-mapping, choosing flat or IVF-flat based on ivfThreshold.
// The id-mapping slice and the vector slice must be the same length and in
// corresponding order; this pairing is immutable once the shard is built,
// matching the spec's "sealed" invariant.
func buildShard(desc codegraph.ShardDescriptor, vectors [][]float32, ids []codegraph.NodeID, ivfThreshold int) *shard {
	s := &shard{desc: desc, vectors: vectors, ids: ids}
	s.sizeBytes = estimateSize(vectors)

	if len(vectors) >= ivfThreshold {
		s.desc.Variant = codegraph.VariantIVFFlat
		nlist := nlistFor(len(vectors))
		s.centroids, s.assigned = buildIVF(vectors, nlist)
	} else {
		s.desc.Variant = codegraph.VariantFlat
	}
	return s
}

// nlistFor returns the IVF centroid count, √n rounded up, with a floor of 1.
func nlistFor(n int) int {
	nlist := int(math.Ceil(math.Sqrt(float64(n))))
	if nlist < 1 {
		nlist = 1
	}
	return nlist
}

// defaultNprobe implements the spec's nprobe formula: max(8, √nlist / 4).
func defaultNprobe(nlist int) int {
	n := int(math.Sqrt(float64(nlist)) / 4)
	if n < 8 {
		n = 8
	}
	return n
}

// search returns the top-k (local index, score) pairs for query under the
// shard's metric. For flat shards this is an exact brute-force scan; for
// IVF-flat shards only the nprobe nearest centroids' posting lists are
// scanned.
func (s *shard) search(query []float32, k int, nprobe int) []scoredLocal {
	if len(s.vectors) == 0 || k <= 0 {
		return nil
	}

	var candidates []int
	if s.desc.Variant == codegraph.VariantIVFFlat && len(s.centroids) > 0 {
		candidates = s.ivfCandidates(query, nprobe)
	} else {
		candidates = allIndices(len(s.vectors))
	}

	scored := make([]scoredLocal, 0, len(candidates))
	for _, idx := range candidates {
		scored = append(scored, scoredLocal{local: idx, score: scoreFor(s.desc.Metric, query, s.vectors[idx])})
	}

	betterFirst := higherIsBetter(s.desc.Metric)
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score == scored[j].score {
			return s.ids[scored[i].local].Less(s.ids[scored[j].local])
		}
		if betterFirst {
			return scored[i].score > scored[j].score
		}
		return scored[i].score < scored[j].score
	})

	if k < len(scored) {
		scored = scored[:k]
	}
	return scored
}

// ivfCandidates returns the local indices belonging to the nprobe centroids
// closest to query.
func (s *shard) ivfCandidates(query []float32, nprobe int) []int {
	if nprobe <= 0 {
		nprobe = defaultNprobe(len(s.centroids))
	}
	if nprobe > len(s.centroids) {
		nprobe = len(s.centroids)
	}

	type centroidDist struct {
		idx  int
		dist float64
	}
	dists := make([]centroidDist, len(s.centroids))
	for i, c := range s.centroids {
		dists[i] = centroidDist{idx: i, dist: l2(query, c)}
	}
	sort.Slice(dists, func(i, j int) bool { return dists[i].dist < dists[j].dist })

	selected := make(map[int]bool, nprobe)
	for i := 0; i < nprobe && i < len(dists); i++ {
		selected[dists[i].idx] = true
	}

	var out []int
	for vecIdx, cluster := range s.assigned {
		if selected[cluster] {
			out = append(out, vecIdx)
		}
	}
	return out
}

// translate maps local index positions to node ids.
func (s *shard) translate(locals []int) []codegraph.NodeID {
	out := make([]codegraph.NodeID, 0, len(locals))
	for _, l := range locals {
		if l < 0 || l >= len(s.ids) {
			continue
		}
		out = append(out, s.ids[l])
	}
	return out
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func estimateSize(vectors [][]float32) int64 {
	var total int64
	for _, v := range vectors {
		total += int64(len(v)) * 4
	}
	return total
}

// higherIsBetter reports whether a larger score means a closer match under
// metric.
func higherIsBetter(m codegraph.Metric) bool {
	return m != codegraph.MetricL2
}

// scoreFor computes the metric-specific score between a and b.
func scoreFor(m codegraph.Metric, a, b []float32) float64 {
	switch m {
	case codegraph.MetricInnerProduct:
		return dot(a, b)
	case codegraph.MetricL2:
		return l2(a, b)
	case codegraph.MetricCosine:
		fallthrough
	default:
		return cosine(a, b)
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func l2(a, b []float32) float64 {
	var sum float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func cosine(a, b []float32) float64 {
	num := dot(a, b)
	na := math.Sqrt(dot(a, a))
	nb := math.Sqrt(dot(b, b))
	if na == 0 || nb == 0 {
		return 0
	}
	return num / (na * nb)
}

// buildIVF runs a small fixed-iteration k-means to produce nlist centroids
// and a cluster assignment per vector. It is intentionally simple: the
// query core is not in the business of building production-grade indexes,
// only of exercising the IVF-flat structure described in the spec over
// whatever vectors the NodeStore capability or a loader hands it.
func buildIVF(vectors [][]float32, nlist int) ([][]float32, []int) {
	if nlist >= len(vectors) {
		// Degenerate case: one "centroid" per vector.
		centroids := make([][]float32, len(vectors))
		assigned := make([]int, len(vectors))
		for i, v := range vectors {
			centroids[i] = append([]float32(nil), v...)
			assigned[i] = i
		}
		return centroids, assigned
	}

	dim := len(vectors[0])
	centroids := make([][]float32, nlist)
	for i := range centroids {
		centroids[i] = append([]float32(nil), vectors[(i*len(vectors))/nlist]...)
	}

	assigned := make([]int, len(vectors))
	const iterations = 4
	for iter := 0; iter < iterations; iter++ {
		for i, v := range vectors {
			best, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				d := l2(v, centroid)
				if d < bestDist {
					best, bestDist = c, d
				}
			}
			assigned[i] = best
		}

		sums := make([][]float64, nlist)
		counts := make([]int, nlist)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, v := range vectors {
			c := assigned[i]
			counts[c]++
			for d := 0; d < dim && d < len(v); d++ {
				sums[c][d] += float64(v[d])
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			updated := make([]float32, dim)
			for d := 0; d < dim; d++ {
				updated[d] = float32(sums[c][d] / float64(counts[c]))
			}
			centroids[c] = updated
		}
	}
	return centroids, assigned
}
