package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/combigrid/internal/combischeme"
	"github.com/combigrid/pkg/model"
)

var (
	// Scheme command flags
	schemeDim  int
	schemeLMin string
	schemeLMax string
	schemeKind string
)

// schemeCmd represents the scheme command
var schemeCmd = &cobra.Command{
	Use:   "scheme",
	Short: "Print a combination scheme",
	Long: `Build the classical or adaptive combination scheme for the given
bounds and print the component grid levels with their coefficients.`,
	RunE: printScheme,
}

func init() {
	rootCmd.AddCommand(schemeCmd)

	schemeCmd.Flags().IntVar(&schemeDim, "dim", 2, "Dimensionality")
	schemeCmd.Flags().StringVar(&schemeLMin, "lmin", "1 1", "Minimal levels, space separated")
	schemeCmd.Flags().StringVar(&schemeLMax, "lmax", "3 3", "Maximal levels, space separated")
	schemeCmd.Flags().StringVar(&schemeKind, "kind", "adaptive", "Scheme kind: adaptive or classical")
}

func printScheme(cmd *cobra.Command, args []string) error {
	lmin, err := parseLevels(schemeLMin, schemeDim)
	if err != nil {
		return err
	}
	lmax, err := parseLevels(schemeLMax, schemeDim)
	if err != nil {
		return err
	}

	var scheme *combischeme.Scheme
	switch schemeKind {
	case "classical":
		scheme, err = combischeme.NewClassical(schemeDim, lmin, lmax)
	case "adaptive":
		scheme, err = combischeme.NewAdaptive(schemeDim, lmin, lmax)
	default:
		return fmt.Errorf("unknown scheme kind: %s", schemeKind)
	}
	if err != nil {
		return err
	}

	for i, e := range scheme.Entries() {
		fmt.Printf("%3d. %-16s %+g\n", i, e.Level, e.Coefficient)
	}
	return nil
}

func parseLevels(s string, dim int) (model.LevelVector, error) {
	parts := strings.Fields(s)
	if len(parts) != dim {
		return nil, fmt.Errorf("need %d levels, got %d", dim, len(parts))
	}
	l := make(model.LevelVector, dim)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid level %q", p)
		}
		l[i] = n
	}
	return l, nil
}
