package combischeme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/combigrid/pkg/errors"
	"github.com/combigrid/pkg/model"
)

func TestNewAdaptive_KnownScheme(t *testing.T) {
	s, err := NewAdaptive(2, model.LevelVector{2, 2}, model.LevelVector{4, 4})
	require.NoError(t, err)

	want := map[string]float64{
		"2,4": 1, "3,3": 1, "4,2": 1,
		"2,3": -1, "3,2": -1,
	}

	got := make(map[string]float64)
	for _, e := range s.Entries() {
		got[e.Level.Key()] = e.Coefficient
	}
	assert.Equal(t, want, got)
}

func TestNewAdaptive_DummyDimension(t *testing.T) {
	// The second dimension is held fixed and must stay at lmin.
	s, err := NewAdaptive(3, model.LevelVector{2, 3, 2}, model.LevelVector{4, 3, 4})
	require.NoError(t, err)

	require.NotEmpty(t, s.Entries())
	for _, e := range s.Entries() {
		assert.Equal(t, 3, e.Level[1])
	}
}

func TestNewClassical_Dim3Diagonals(t *testing.T) {
	s, err := NewClassical(3, model.LevelVector{1, 1, 1}, model.LevelVector{3, 3, 3})
	require.NoError(t, err)

	// All grids of one diagonal carry the same binomial coefficient
	// (-1)^q * C(d-1, q).
	n := 5 // |lmin| + c
	wantByDiag := map[int]float64{0: 1, 1: -2, 2: 1}
	countByDiag := make(map[int]int)
	for _, e := range s.Entries() {
		q := n - e.Level.Sum()
		require.Contains(t, wantByDiag, q, "grid %v on unexpected diagonal", e.Level)
		assert.Equal(t, wantByDiag[q], e.Coefficient, "grid %v", e.Level)
		countByDiag[q]++
	}
	assert.Equal(t, map[int]int{0: 6, 1: 3, 2: 1}, countByDiag)

	// The per-diagonal coefficients are the alternating partial sums of
	// the binomial pattern (1, -3, 3, -1) over diagonals 0..3.
	pattern := []float64{1, -3, 3, -1}
	partial := 0.0
	for q, b := range pattern {
		partial += b
		if want, ok := wantByDiag[q]; ok {
			assert.Equal(t, want, partial, "diagonal %d", q)
		} else {
			assert.Zero(t, partial, "diagonal %d carries no grids", q)
		}
	}
}

func TestNewClassical_NonUniformDiffRejected(t *testing.T) {
	_, err := NewClassical(2, model.LevelVector{1, 1}, model.LevelVector{3, 4})
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidBounds(err))
}

func TestInvalidBounds(t *testing.T) {
	tests := []struct {
		name string
		dim  int
		lmin model.LevelVector
		lmax model.LevelVector
	}{
		{"lmax below lmin", 2, model.LevelVector{3, 3}, model.LevelVector{2, 3}},
		{"zero component", 2, model.LevelVector{0, 1}, model.LevelVector{2, 2}},
		{"dimension mismatch", 3, model.LevelVector{1, 1}, model.LevelVector{2, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAdaptive(tt.dim, tt.lmin, tt.lmax)
			require.Error(t, err)
			assert.True(t, apperrors.IsInvalidBounds(err))

			_, err = NewClassical(tt.dim, tt.lmin, tt.lmax)
			require.Error(t, err)
			assert.True(t, apperrors.IsInvalidBounds(err))
		})
	}
}

// TestCoefficientClosure checks the partition of unity: on every sparse
// grid point the coefficients of the covering grids sum to one.
func TestCoefficientClosure(t *testing.T) {
	tests := []struct {
		name      string
		dim       int
		lmin      model.LevelVector
		lmax      model.LevelVector
		classical bool
	}{
		{"adaptive 2d", 2, model.LevelVector{2, 2}, model.LevelVector{4, 4}, false},
		{"adaptive 2d anisotropic", 2, model.LevelVector{1, 2}, model.LevelVector{3, 4}, false},
		{"adaptive 3d", 3, model.LevelVector{1, 1, 1}, model.LevelVector{3, 3, 3}, false},
		{"classical 2d", 2, model.LevelVector{2, 2}, model.LevelVector{4, 4}, true},
		{"classical 3d", 3, model.LevelVector{1, 1, 1}, model.LevelVector{3, 3, 3}, true},
		{"adaptive dummy dim", 3, model.LevelVector{2, 2, 2}, model.LevelVector{4, 2, 4}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s *Scheme
			var err error
			if tt.classical {
				s, err = NewClassical(tt.dim, tt.lmin, tt.lmax)
			} else {
				s, err = NewAdaptive(tt.dim, tt.lmin, tt.lmax)
			}
			require.NoError(t, err)
			require.NotEmpty(t, s.Entries())

			// A point of hierarchical level lv lies on every grid l >= lv.
			for _, lv := range s.Downset() {
				sum := 0.0
				for _, e := range s.Entries() {
					if lv.LessEqual(e.Level) {
						sum += e.Coefficient
					}
				}
				assert.InDelta(t, 1.0, sum, 1e-12, "level %v", lv)
			}
		})
	}
}

func TestSchemeEntriesDeterministic(t *testing.T) {
	a, err := NewAdaptive(2, model.LevelVector{2, 2}, model.LevelVector{5, 5})
	require.NoError(t, err)
	b, err := NewAdaptive(2, model.LevelVector{2, 2}, model.LevelVector{5, 5})
	require.NoError(t, err)
	assert.Equal(t, a.Entries(), b.Entries())
}
