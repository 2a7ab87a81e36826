package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/combigrid/internal/rescheduler"
	"github.com/combigrid/internal/service"
	"github.com/combigrid/pkg/config"
	"github.com/combigrid/pkg/telemetry"
)

var (
	// Run command flags
	enableRescheduling bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [ctparam]",
	Short: "Run one framework instance",
	Long: `Run one manager plus its worker groups as configured in the
parameter file. The first positional argument overrides the parameter
file path; the default is "ctparam" in the working directory.

When the [third_level] section names a host, the instance pairs with its
peer through the mediator after every combination step.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInstance,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&enableRescheduling, "reschedule", false,
		"Rebalance tasks between groups after each combination step")
}

func runInstance(cmd *cobra.Command, args []string) error {
	log := GetLogger()

	configPath := config.DefaultFileName
	if len(args) > 0 {
		configPath = args[0]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("interrupted, shutting down")
		cancel()
	}()

	shutdown, err := telemetry.Init(ctx)
	if err != nil {
		log.Warn("failed to initialize telemetry: %v", err)
	}
	defer shutdown(context.Background())

	opts := []service.Option{}
	if enableRescheduling {
		opts = append(opts, service.WithRescheduler(rescheduler.NewDurationBalancer()))
	}

	svc, err := service.New(cfg, log, opts...)
	if err != nil {
		return err
	}
	if err := svc.Initialize(ctx); err != nil {
		return err
	}

	log.Info("starting run: %d groups x %d procs, ncombi=%d",
		cfg.Manager.NGroup, cfg.Manager.NProcs, cfg.CT.NCombi)
	return svc.Run(ctx)
}
