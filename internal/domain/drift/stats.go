package drift

import (
	"math"
	"sort"
)

const psiFloor = 1e-4

// Spearman returns the rank correlation of xs and ys, using average ranks
// for ties. ok is false when either series is constant or too short.
func Spearman(xs, ys []float64) (rho float64, ok bool) {
	if len(xs) != len(ys) || len(xs) < 3 {
		return 0, false
	}
	rx, ry := Ranks(xs), Ranks(ys)
	n := float64(len(rx))
	var mx, my float64
	for i := range rx {
		mx += rx[i]
		my += ry[i]
	}
	mx /= n
	my /= n
	var cov, vx, vy float64
	for i := range rx {
		dx, dy := rx[i]-mx, ry[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	return cov / math.Sqrt(vx*vy), true
}

// Ranks assigns 1-based ranks, averaging over ties.
func Ranks(xs []float64) []float64 {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })
	ranks := make([]float64, len(xs))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && xs[idx[j+1]] == xs[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

// PSI compares the current distribution with the reference over fixed bins
// on [-1, 1]. Values outside the range land in the edge bins; empty bins are
// floored so the index stays finite.
func PSI(reference, current []float64, bins int) float64 {
	if len(reference) == 0 || len(current) == 0 || bins <= 0 {
		return 0
	}
	ref := histogram(reference, bins)
	cur := histogram(current, bins)
	var psi float64
	for i := 0; i < bins; i++ {
		r := math.Max(ref[i], psiFloor)
		c := math.Max(cur[i], psiFloor)
		psi += (c - r) * math.Log(c/r)
	}
	return psi
}

func histogram(xs []float64, bins int) []float64 {
	h := make([]float64, bins)
	width := 2.0 / float64(bins)
	for _, x := range xs {
		if math.IsNaN(x) {
			continue
		}
		i := int((x + 1) / width)
		if i < 0 {
			i = 0
		}
		if i >= bins {
			i = bins - 1
		}
		h[i]++
	}
	n := float64(len(xs))
	for i := range h {
		h[i] /= n
	}
	return h
}
