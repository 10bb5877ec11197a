package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Codeblinders/Chat-App/internal/client"
	"github.com/Codeblinders/Chat-App/internal/wire"
)

// tcp: interactive chat over the reliable transport. Plain input lines are
// chat; /share, /preview, /get and /quit are commands.
func tcpChatCmd() *cobra.Command {
	var tcpPort int
	cmd := &cobra.Command{
		Use:   "tcp",
		Short: "Chat over the reliable transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Dial(client.Options{
				Host:     host,
				Port:     tcpPort,
				Username: username,
				Password: password,
			})
			if err != nil {
				return err
			}
			defer c.Close()

			done := make(chan struct{})
			go func() {
				defer close(done)
				printEvents(c.Events(), c.Done())
			}()

			sc := bufio.NewScanner(os.Stdin)
			sc.Buffer(make([]byte, 64<<10), 64<<10)
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line == "" {
					continue
				}
				if line == "/quit" {
					break
				}
				if err := runLine(c, line); err != nil {
					fmt.Printf("* error: %v\n", err)
				}
			}
			c.Close()
			<-done
			return sc.Err()
		},
	}
	cmd.Flags().IntVar(&tcpPort, "port", 5000, "server port")
	return cmd
}

func runLine(c *client.Client, line string) error {
	switch {
	case strings.HasPrefix(line, "/share "):
		return c.ShareFile(strings.TrimSpace(strings.TrimPrefix(line, "/share ")), "")
	case strings.HasPrefix(line, "/get "):
		return c.RequestFile(strings.TrimSpace(strings.TrimPrefix(line, "/get ")), wire.ModeDownload)
	case strings.HasPrefix(line, "/preview "):
		return c.RequestFile(strings.TrimSpace(strings.TrimPrefix(line, "/preview ")), wire.ModePreview)
	case strings.HasPrefix(line, "/"):
		return fmt.Errorf("unknown command %q", strings.Fields(line)[0])
	default:
		return c.SendChat(line)
	}
}
