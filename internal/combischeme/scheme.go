// Package combischeme builds combination schemes: the set of component
// grid levels and the coefficients whose weighted sum reconstructs the
// sparse grid solution.
package combischeme

import (
	"sort"

	apperrors "github.com/combigrid/pkg/errors"
	"github.com/combigrid/pkg/model"
)

// Entry is one component grid of the scheme.
type Entry struct {
	Level       model.LevelVector
	Coefficient float64
}

// Scheme holds the component grids of a combination technique. Entries are
// ordered lexicographically by level vector, which makes task ids and
// assignment deterministic across runs.
type Scheme struct {
	dim     int
	lmin    model.LevelVector
	lmax    model.LevelVector
	entries []Entry
}

// Dim returns the dimensionality.
func (s *Scheme) Dim() int {
	return s.dim
}

// LevelMin returns the minimal resolution.
func (s *Scheme) LevelMin() model.LevelVector {
	return s.lmin
}

// LevelMax returns the maximal resolution.
func (s *Scheme) LevelMax() model.LevelVector {
	return s.lmax
}

// Entries returns the component grids with nonzero coefficients.
func (s *Scheme) Entries() []Entry {
	return s.entries
}

// Downset enumerates the downset underlying the scheme, lexicographically
// ordered. It contains every level vector dominated by some scheme entry.
func (s *Scheme) Downset() []model.LevelVector {
	seen := make(map[string]model.LevelVector)
	for _, e := range s.entries {
		collectDominated(e.Level, seen)
	}
	levels := make([]model.LevelVector, 0, len(seen))
	for _, l := range seen {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Compare(levels[j]) < 0 })
	return levels
}

func collectDominated(l model.LevelVector, seen map[string]model.LevelVector) {
	cur := model.NewLevelVector(len(l), 1)
	var rec func(d int)
	rec = func(d int) {
		if d == len(l) {
			c := cur.Clone()
			seen[c.Key()] = c
			return
		}
		for v := 1; v <= l[d]; v++ {
			cur[d] = v
			rec(d + 1)
		}
	}
	rec(0)
}

// validateBounds checks the common preconditions of both scheme builders.
func validateBounds(dim int, lmin, lmax model.LevelVector) error {
	if dim < 1 {
		return apperrors.New(apperrors.CodeInvalidBounds, "dimension must be positive")
	}
	if len(lmin) != dim || len(lmax) != dim {
		return apperrors.Newf(apperrors.CodeInvalidBounds,
			"level vectors must have %d components", dim)
	}
	for k := 0; k < dim; k++ {
		if lmin[k] < 1 {
			return apperrors.Newf(apperrors.CodeInvalidBounds, "lmin[%d] = %d < 1", k, lmin[k])
		}
		if lmax[k] < lmin[k] {
			return apperrors.Newf(apperrors.CodeInvalidBounds,
				"lmax[%d] = %d < lmin[%d] = %d", k, lmax[k], k, lmin[k])
		}
	}
	return nil
}

// effectiveDims returns the indices of dimensions that actually vary.
// Dummy dimensions (lmax_k == lmin_k) are held at lmin.
func effectiveDims(lmin, lmax model.LevelVector) []int {
	var eff []int
	for k := range lmin {
		if lmax[k] > lmin[k] {
			eff = append(eff, k)
		}
	}
	return eff
}

// NewAdaptive builds the adaptive scheme over the downset
//
//	D = { l : lmin <= l <= lmax, sum_eff(l) <= sum_eff(lmin) + c },
//
// c = max_k (lmax_k - lmin_k), with coefficients obtained by
// inclusion-exclusion restricted to D. Entries with zero coefficient are
// dropped.
func NewAdaptive(dim int, lmin, lmax model.LevelVector) (*Scheme, error) {
	if err := validateBounds(dim, lmin, lmax); err != nil {
		return nil, err
	}

	eff := effectiveDims(lmin, lmax)
	if len(eff) == 0 {
		return &Scheme{
			dim:     dim,
			lmin:    lmin.Clone(),
			lmax:    lmax.Clone(),
			entries: []Entry{{Level: lmin.Clone(), Coefficient: 1}},
		}, nil
	}

	c := 0
	for _, k := range eff {
		if d := lmax[k] - lmin[k]; d > c {
			c = d
		}
	}

	n := c
	for _, k := range eff {
		n += lmin[k]
	}

	inDownset := func(l model.LevelVector) bool {
		sum := 0
		for _, k := range eff {
			if l[k] < lmin[k] || l[k] > lmax[k] {
				return false
			}
			sum += l[k]
		}
		return sum <= n
	}

	levels := enumerateBox(lmin, lmax, eff, inDownset)

	var entries []Entry
	z := make(model.LevelVector, dim)
	for _, l := range levels {
		coeff := 0
		// Inclusion-exclusion over the effective unit hypercube above l.
		for bits := 0; bits < (1 << uint(len(eff))); bits++ {
			shifted := l.Clone()
			ones := 0
			for i, k := range eff {
				z[k] = (bits >> uint(i)) & 1
				shifted[k] += z[k]
				ones += z[k]
			}
			if inDownset(shifted) {
				if ones%2 == 0 {
					coeff++
				} else {
					coeff--
				}
			}
		}
		if coeff != 0 {
			entries = append(entries, Entry{Level: l, Coefficient: float64(coeff)})
		}
	}

	return &Scheme{dim: dim, lmin: lmin.Clone(), lmax: lmax.Clone(), entries: entries}, nil
}

// NewClassical builds the classical scheme. The effective dimensions must
// satisfy lmax - lmin = c*ones; the scheme consists of the upper diagonals
// q = 0..effDim-1 with binomial coefficients (-1)^q * C(effDim-1, q).
func NewClassical(dim int, lmin, lmax model.LevelVector) (*Scheme, error) {
	if err := validateBounds(dim, lmin, lmax); err != nil {
		return nil, err
	}

	eff := effectiveDims(lmin, lmax)
	if len(eff) == 0 {
		return &Scheme{
			dim:     dim,
			lmin:    lmin.Clone(),
			lmax:    lmax.Clone(),
			entries: []Entry{{Level: lmin.Clone(), Coefficient: 1}},
		}, nil
	}

	c := lmax[eff[0]] - lmin[eff[0]]
	for _, k := range eff {
		if lmax[k]-lmin[k] != c {
			return nil, apperrors.New(apperrors.CodeInvalidBounds,
				"classical scheme requires uniform lmax - lmin across effective dimensions")
		}
	}

	effDim := len(eff)
	n := c
	for _, k := range eff {
		n += lmin[k]
	}

	ndiag := effDim
	if c+1 < ndiag {
		ndiag = c + 1
	}

	var entries []Entry
	for q := 0; q < ndiag; q++ {
		coeff := float64(binomial(effDim-1, q))
		if q%2 == 1 {
			coeff = -coeff
		}
		onDiag := func(l model.LevelVector) bool {
			sum := 0
			for _, k := range eff {
				if l[k] < lmin[k] || l[k] > lmax[k] {
					return false
				}
				sum += l[k]
			}
			return sum == n-q
		}
		for _, l := range enumerateBox(lmin, lmax, eff, onDiag) {
			entries = append(entries, Entry{Level: l, Coefficient: coeff})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Level.Compare(entries[j].Level) < 0
	})

	return &Scheme{dim: dim, lmin: lmin.Clone(), lmax: lmax.Clone(), entries: entries}, nil
}

// enumerateBox walks the box [lmin, lmax] varying only the effective
// dimensions and returns the levels accepted by keep, lexicographically
// ordered.
func enumerateBox(lmin, lmax model.LevelVector, eff []int, keep func(model.LevelVector) bool) []model.LevelVector {
	var out []model.LevelVector
	cur := lmin.Clone()
	var rec func(i int)
	rec = func(i int) {
		if i == len(eff) {
			if keep(cur) {
				out = append(out, cur.Clone())
			}
			return
		}
		k := eff[i]
		for v := lmin[k]; v <= lmax[k]; v++ {
			cur[k] = v
			rec(i + 1)
		}
		cur[k] = lmin[k]
	}
	rec(0)
	return out
}

func binomial(n, k int) int {
	if k < 0 || k > n {
		return 0
	}
	if k > n-k {
		k = n - k
	}
	b := 1
	for i := 0; i < k; i++ {
		b = b * (n - i) / (i + 1)
	}
	return b
}
