package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/combigrid/pkg/utils"
)

var (
	// Global flags
	verbose bool
	logger  utils.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "combigrid",
	Short: "Distributed sparse grid combination framework",
	Long: `combigrid runs high-dimensional simulations with the sparse grid
combination technique: many anisotropic component grids are computed by
cooperating worker groups and periodically fused through a hierarchical
sparse grid reduction. Two instances can pair up over a wide-area link
through the third-level mediator.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logLevel := utils.LevelInfo
		if verbose {
			logLevel = utils.LevelDebug
		}
		logger = utils.NewDefaultLogger(logLevel, os.Stdout)
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	binName := BinName()
	rootCmd.Example = `  # Run an instance with the default parameter file (./ctparam)
  ` + binName + ` run

  # Run with an explicit parameter file
  ` + binName + ` run my-experiment.ini

  # Start the third-level mediator
  ` + binName + ` mediator --broker-port 9000 --data-port 9001

  # Print a combination scheme
  ` + binName + ` scheme --dim 2 --lmin "2 2" --lmax "4 4"`
}

// GetLogger returns the configured logger
func GetLogger() utils.Logger {
	return logger
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}
