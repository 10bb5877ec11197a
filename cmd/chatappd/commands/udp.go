package commands

import (
	"github.com/spf13/cobra"

	"github.com/Codeblinders/Chat-App/internal/server/udp"
)

// udp: run the unordered-transport relay.
func udpCmd() *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "udp",
		Short: "Run the unordered-transport relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if bind != "" {
				cfg.Server.UDPBind = bind
			}
			relay := udp.New(cfg, backend)
			if err := relay.Start(); err != nil {
				return err
			}
			defer relay.Halt()
			waitForSignal()
			return nil
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "listen address (overrides config)")
	return cmd
}
