package analysis

import (
	"errors"
	"math"
	"math/rand"
)

const (
	// kmeansSeed fixes the random source so repeated clustering runs over
	// the same data produce the same assignments.
	kmeansSeed = 42

	kmeansRestarts      = 10
	kmeansMaxIterations = 300
	kmeansTolerance     = 1e-4
)

// ErrTooFewPoints indicates there are fewer data points than requested
// clusters.
var ErrTooFewPoints = errors.New("fewer data points than clusters")

// KMeans partitions the points into k clusters and returns one cluster id
// per point, aligned with the input order. The algorithm runs multiple
// restarts with k-means++ seeding and keeps the assignment with the lowest
// within-cluster sum of squares.
func KMeans(points [][]float64, k int) ([]int, error) {
	if k <= 0 {
		return nil, errors.New("cluster count must be positive")
	}
	if len(points) < k {
		return nil, ErrTooFewPoints
	}

	rng := rand.New(rand.NewSource(kmeansSeed))

	bestInertia := math.Inf(1)
	var best []int
	for restart := 0; restart < kmeansRestarts; restart++ {
		assignments, inertia := runKMeans(points, k, rng)
		if inertia < bestInertia {
			bestInertia = inertia
			best = assignments
		}
	}

	return best, nil
}

func runKMeans(points [][]float64, k int, rng *rand.Rand) ([]int, float64) {
	centroids := seedCentroids(points, k, rng)
	assignments := make([]int, len(points))
	inertia := math.Inf(1)

	for iter := 0; iter < kmeansMaxIterations; iter++ {
		var total float64
		for i, p := range points {
			cluster, dist := nearestCentroid(p, centroids)
			assignments[i] = cluster
			total += dist
		}

		centroids = recomputeCentroids(points, assignments, k, centroids)

		if math.Abs(inertia-total) < kmeansTolerance {
			inertia = total
			break
		}
		inertia = total
	}

	return assignments, inertia
}

// seedCentroids picks initial centroids with k-means++: the first uniformly
// at random, each subsequent one weighted by squared distance to the
// nearest centroid chosen so far.
func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clonePoint(points[rng.Intn(len(points))]))

	distances := make([]float64, len(points))
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			_, dist := nearestCentroid(p, centroids)
			distances[i] = dist
			total += dist
		}

		if total == 0 {
			// All remaining points coincide with a centroid.
			centroids = append(centroids, clonePoint(points[rng.Intn(len(points))]))
			continue
		}

		target := rng.Float64() * total
		var cumulative float64
		chosen := len(points) - 1
		for i, d := range distances {
			cumulative += d
			if cumulative >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, clonePoint(points[chosen]))
	}

	return centroids
}

func nearestCentroid(p []float64, centroids [][]float64) (int, float64) {
	best := 0
	bestDist := math.Inf(1)
	for i, c := range centroids {
		d := squaredDistance(p, c)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best, bestDist
}

func recomputeCentroids(points [][]float64, assignments []int, k int, previous [][]float64) [][]float64 {
	dim := len(points[0])
	sums := make([][]float64, k)
	counts := make([]int, k)
	for i := range sums {
		sums[i] = make([]float64, dim)
	}

	for i, p := range points {
		c := assignments[i]
		counts[c]++
		for j, v := range p {
			sums[c][j] += v
		}
	}

	centroids := make([][]float64, k)
	for i := range sums {
		if counts[i] == 0 {
			// Empty cluster keeps its previous centroid.
			centroids[i] = previous[i]
			continue
		}
		for j := range sums[i] {
			sums[i][j] /= float64(counts[i])
		}
		centroids[i] = sums[i]
	}
	return centroids
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func clonePoint(p []float64) []float64 {
	out := make([]float64, len(p))
	copy(out, p)
	return out
}
