package cluster

import (
	"math"
	"slices"
)

// dbscan clusters vectors with the DBSCAN algorithm over cosine distance
// (1 - similarity). eps is the neighborhood radius, minPts the density
// minimum. Returned labels number clusters from 1; -1 marks noise.
func dbscan(vectors [][]float32, eps float32, minPts int) []int {
	n := len(vectors)
	if n == 0 {
		return nil
	}

	// Neighbor lists are reused across the seed expansion, so run the one
	// quadratic pass up front. A point counts as its own neighbor.
	neighbors := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if 1-cosineSim(vectors[i], vectors[j]) <= eps {
				neighbors[i] = append(neighbors[i], j)
			}
		}
	}

	const (
		undefined = 0
		noise     = -1
	)
	labels := make([]int, n)
	clusterID := 0

	for i := 0; i < n; i++ {
		if labels[i] != undefined {
			continue
		}
		if len(neighbors[i]) < minPts {
			labels[i] = noise
			continue
		}

		clusterID++
		labels[i] = clusterID

		queue := slices.Clone(neighbors[i])
		for len(queue) > 0 {
			q := queue[0]
			queue = queue[1:]

			if labels[q] == noise {
				// Border point reached from a core point.
				labels[q] = clusterID
			}
			if labels[q] != undefined {
				continue
			}
			labels[q] = clusterID
			if len(neighbors[q]) >= minPts {
				queue = append(queue, neighbors[q]...)
			}
		}
	}
	return labels
}

// cosineSim computes cosine similarity. Vectors of different lengths are
// compared over the shared prefix; zero-magnitude vectors score 0.
func cosineSim(a, b []float32) float32 {
	var dot float64
	for i := 0; i < min(len(a), len(b)); i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	denom := norm(a) * norm(b)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// normalize scales v to unit length in place. Zero vectors stay zero.
func normalize(v []float32) {
	n := norm(v)
	if n == 0 {
		return
	}
	scale := float32(1 / n)
	for i := range v {
		v[i] *= scale
	}
}

// normalized returns an L2-normalized copy of v.
func normalized(v []float32) []float32 {
	cp := slices.Clone(v)
	normalize(cp)
	return cp
}
