package commands

import (
	"github.com/spf13/cobra"

	"github.com/Codeblinders/Chat-App/internal/server/tcp"
)

// tcp: run the reliable-transport chat server.
func tcpCmd() *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "tcp",
		Short: "Run the reliable-transport chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if bind != "" {
				cfg.Server.TCPBind = bind
			}
			srv := tcp.New(cfg, backend)
			if err := srv.Start(); err != nil {
				return err
			}
			defer srv.Halt()
			waitForSignal()
			return nil
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "listen address (overrides config)")
	return cmd
}
