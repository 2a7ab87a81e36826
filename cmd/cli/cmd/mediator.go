package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/combigrid/internal/thirdlevel"
)

var (
	// Mediator command flags
	brokerPort     int
	dataPort       int
	mediatorExpiry int
)

// mediatorCmd represents the mediator command
var mediatorCmd = &cobra.Command{
	Use:   "mediator",
	Short: "Run the third-level mediator",
	Long: `Run the mediator that pairs two framework instances over the
wide-area link. It accepts one control channel and one data channel per
system, drives the per-iteration combine handshake and bridges the two
sparse grid byte streams.`,
	RunE: runMediator,
}

func init() {
	rootCmd.AddCommand(mediatorCmd)

	mediatorCmd.Flags().IntVar(&brokerPort, "broker-port", 9000, "Control channel listen port")
	mediatorCmd.Flags().IntVar(&dataPort, "data-port", 9001, "Data channel listen port")
	mediatorCmd.Flags().IntVar(&mediatorExpiry, "timeout", 300, "Data transfer timeout in seconds")
}

func runMediator(cmd *cobra.Command, args []string) error {
	log := GetLogger()

	m := thirdlevel.NewMediator(time.Duration(mediatorExpiry)*time.Second, log)
	if err := m.Listen(brokerPort, dataPort); err != nil {
		return err
	}

	log.Info("mediator listening: control %s, data %s", m.BrokerAddr(), m.DataAddr())
	return m.Serve()
}
