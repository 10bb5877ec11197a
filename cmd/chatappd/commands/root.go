package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Codeblinders/Chat-App/internal/config"
	"github.com/Codeblinders/Chat-App/internal/log"
)

var (
	cfgFile  string
	logFile  string
	logLevel string
	noLog    bool

	cfg     *config.Config
	backend *log.Backend
)

func Execute() error {
	root := &cobra.Command{
		Use:   "chatappd",
		Short: "Chat server daemons",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfgFile != "" {
				cfg, err = config.Load(cfgFile)
			} else {
				cfg = config.Default()
				err = cfg.FixupAndValidate()
			}
			if err != nil {
				return err
			}
			if logFile != "" {
				cfg.Logging.File = logFile
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if noLog {
				cfg.Logging.Disable = true
			}
			backend, err = log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
			return err
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "f", "", "config file (TOML)")
	root.PersistentFlags().StringVar(&logFile, "log", "", "log file (default stderr)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (ERROR, WARNING, NOTICE, INFO, DEBUG)")
	root.PersistentFlags().BoolVar(&noLog, "no-log", false, "disable logging")

	root.AddCommand(tcpCmd(), udpCmd())
	return root.Execute()
}

// waitForSignal blocks until SIGINT or SIGTERM.
func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}
