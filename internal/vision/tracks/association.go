package tracks

import (
	"cmp"
	"math"
	"slices"

	"github.com/golang/geo/r2"
)

// pairing is one gated (track, detection) candidate.
type pairing struct {
	track int // index into the id-ordered live track slice
	det   int
	dist  float64
}

// gatedPairs returns every (track, detection) pair closer than gate.
func gatedPairs(live []*Track, centroids []r2.Point, gate float64) []pairing {
	pairs := make([]pairing, 0, len(live)*len(centroids))
	for ti, trk := range live {
		last, ok := trk.history.Last()
		if !ok {
			continue
		}
		origin := r2.Point{X: last.X, Y: last.Y}
		for di, c := range centroids {
			d := c.Sub(origin).Norm()
			if d < gate {
				pairs = append(pairs, pairing{track: ti, det: di, dist: d})
			}
		}
	}
	return pairs
}

// associateGreedy repeatedly takes the globally closest remaining pair.
// Equal distances prefer the older track (smaller id), then the lower
// detection index, so the result is deterministic for a given input.
// live must be ordered by ascending id. The result maps detection index
// to live track index, or -1.
func associateGreedy(live []*Track, centroids []r2.Point, gate float64) []int {
	assign := make([]int, len(centroids))
	for i := range assign {
		assign[i] = -1
	}
	pairs := gatedPairs(live, centroids, gate)
	slices.SortFunc(pairs, func(a, b pairing) int {
		if c := cmp.Compare(a.dist, b.dist); c != 0 {
			return c
		}
		if c := cmp.Compare(a.track, b.track); c != 0 {
			return c
		}
		return cmp.Compare(a.det, b.det)
	})

	trackUsed := make([]bool, len(live))
	for _, p := range pairs {
		if trackUsed[p.track] || assign[p.det] >= 0 {
			continue
		}
		trackUsed[p.track] = true
		assign[p.det] = p.track
	}
	return assign
}

// associateHungarian solves the same gated problem with minimum total
// distance. Pairs outside the gate are forbidden.
func associateHungarian(live []*Track, centroids []r2.Point, gate float64) []int {
	if len(centroids) == 0 {
		return nil
	}
	cost := make([][]float64, len(centroids))
	for i := range cost {
		cost[i] = make([]float64, len(live))
		for j := range cost[i] {
			cost[i][j] = hungarianInf
		}
	}
	for _, p := range gatedPairs(live, centroids, gate) {
		cost[p.det][p.track] = p.dist
	}
	return HungarianAssign(cost)
}

const hungarianInf = 1e18 // stand-in for a forbidden pairing

// HungarianAssign solves the rectangular assignment problem for an n×m cost
// matrix. It returns assignments[i] = column index assigned to row i, or -1
// if unassigned. Costs ≥ 1e18 are treated as forbidden.
func HungarianAssign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	result := make([]int, n)
	for i := range result {
		result[i] = -1
	}
	if m == 0 {
		return result
	}

	dim := max(n, m)
	c := make([][]float64, dim)
	for i := range c {
		c[i] = make([]float64, dim)
		for j := range c[i] {
			if i < n && j < m {
				c[i][j] = cost[i][j]
			} else {
				c[i][j] = hungarianInf
			}
		}
	}

	// Kuhn-Munkres with potentials, 1-indexed.
	const inf = math.MaxFloat64 / 2
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)   // p[j] = row assigned to column j
	way := make([]int, dim+1) // previous column on the augmenting path
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0
		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1
			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				break
			}
			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	for j := 1; j <= dim; j++ {
		row := p[j] - 1
		col := j - 1
		if row < 0 || row >= n || col >= m {
			continue
		}
		if cost[row][col] < hungarianInf {
			result[row] = col
		}
	}
	return result
}
