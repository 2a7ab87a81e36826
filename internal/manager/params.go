package manager

import (
	"encoding/json"

	"github.com/combigrid/internal/combischeme"
	"github.com/combigrid/internal/worker"
	"github.com/combigrid/pkg/model"
)

// CombiParameters bundles everything the groups need to know about the
// combination: resolution bounds, boundary treatment and the number of
// combination steps.
type CombiParameters struct {
	Dim      int
	LMin     model.LevelVector
	LMax     model.LevelVector
	Boundary []model.BoundaryFlag
	NCombi   int
}

// ParamsFromScheme derives the parameters from a built scheme.
func ParamsFromScheme(s *combischeme.Scheme, boundary []model.BoundaryFlag, ncombi int) CombiParameters {
	return CombiParameters{
		Dim:      s.Dim(),
		LMin:     s.LevelMin(),
		LMax:     s.LevelMax(),
		Boundary: boundary,
		NCombi:   ncombi,
	}
}

// Marshal encodes the worker-facing parameter blob.
func (p CombiParameters) Marshal() ([]byte, error) {
	return json.Marshal(worker.Params{
		LMin:     p.LMin,
		LMax:     p.LMax,
		Boundary: p.Boundary,
		NCombi:   p.NCombi,
	})
}
