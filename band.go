package cxtfit

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// bandLU is an LU factorization with partial pivoting of a square band
// matrix with kl sub- and kl super-diagonals. Row interchanges widen the
// upper band to 2·kl, so row i keeps the columns [i-kl, i+2·kl].
//
// The multipliers of step k stay in column k and are applied together
// with the interchange of that step, as in LINPACK dgbfa.
type bandLU struct {
	n, kl, ku int
	ld        int
	a         []float64
	piv       []int
}

// bandLUSize is the number of values a bandLU of order n and half
// bandwidth kl stores.
func bandLUSize(n, kl int) float64 {
	return float64(n) * float64(3*kl+1)
}

func newBandLU(n, kl int) *bandLU {
	ku := 2 * kl
	ld := kl + ku + 1
	return &bandLU{
		n:   n,
		kl:  kl,
		ku:  ku,
		ld:  ld,
		a:   make([]float64, n*ld),
		piv: make([]int, n),
	}
}

func (f *bandLU) at(i, j int) *float64 {
	return &f.a[i*f.ld+j-i+f.kl]
}

// factorize decomposes I - c*jac in place. It reports false when a pivot
// is zero or not finite.
func (f *bandLU) factorize(jac *mat.BandDense, c float64) bool {
	n, kl := f.n, f.kl
	for i := range f.a {
		f.a[i] = 0
	}
	for i := 0; i < n; i++ {
		lo, hi := max(0, i-kl), min(n-1, i+kl)
		for j := lo; j <= hi; j++ {
			v := -c * jac.At(i, j)
			if i == j {
				v++
			}
			*f.at(i, j) = v
		}
	}

	for k := 0; k < n; k++ {
		last := min(n-1, k+kl)
		p := k
		for i := k + 1; i <= last; i++ {
			if math.Abs(*f.at(i, k)) > math.Abs(*f.at(p, k)) {
				p = i
			}
		}
		f.piv[k] = p
		pivot := *f.at(p, k)
		if pivot == 0 || math.IsNaN(pivot) || math.IsInf(pivot, 0) {
			return false
		}
		right := min(n-1, k+f.ku)
		if p != k {
			for j := k; j <= right; j++ {
				a, b := f.at(k, j), f.at(p, j)
				*a, *b = *b, *a
			}
		}
		for i := k + 1; i <= last; i++ {
			l := *f.at(i, k) / pivot
			*f.at(i, k) = l
			if l == 0 {
				continue
			}
			for j := k + 1; j <= right; j++ {
				*f.at(i, j) -= l * *f.at(k, j)
			}
		}
	}
	return true
}

// solve overwrites b with the solution of the factorized system.
func (f *bandLU) solve(b []float64) {
	n := f.n
	for k := 0; k < n; k++ {
		if p := f.piv[k]; p != k {
			b[k], b[p] = b[p], b[k]
		}
		for i := k + 1; i <= min(n-1, k+f.kl); i++ {
			b[i] -= *f.at(i, k) * b[k]
		}
	}
	for i := n - 1; i >= 0; i-- {
		s := b[i]
		for j := i + 1; j <= min(n-1, i+f.ku); j++ {
			s -= *f.at(i, j) * b[j]
		}
		b[i] = s / *f.at(i, i)
	}
}
