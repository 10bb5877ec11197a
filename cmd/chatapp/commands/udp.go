package commands

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Codeblinders/Chat-App/internal/client"
)

// udp: chat over the unordered transport. The session key only exists
// server-side after a reliable-transport login, so this command performs
// one, takes the key from the udp_key event, and hangs up.
func udpChatCmd() *cobra.Command {
	var tcpPort, udpPort int
	cmd := &cobra.Command{
		Use:   "udp",
		Short: "Chat over the unordered transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, port, err := fetchUDPKey(tcpPort)
			if err != nil {
				return err
			}
			if udpPort != 0 {
				port = udpPort
			}

			events := make(chan client.Event, 128)
			u, err := client.DialUDP(client.UDPOptions{
				Host:     host,
				Port:     port,
				Username: username,
				Key:      key,
				Events:   events,
			})
			if err != nil {
				return err
			}
			defer u.Close()

			done := make(chan struct{})
			go func() {
				defer close(done)
				printEvents(events, u.Done())
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
				var err error
				if strings.HasPrefix(line, "/share ") {
					err = u.ShareFile(strings.TrimSpace(strings.TrimPrefix(line, "/share ")), "")
				} else if strings.HasPrefix(line, "/") {
					err = fmt.Errorf("unknown command %q", strings.Fields(line)[0])
				} else {
					err = u.SendChat(line)
				}
				if err != nil {
					fmt.Printf("* error: %v\n", err)
				}
			}
			u.Close()
			<-done
			return sc.Err()
		},
	}
	cmd.Flags().IntVar(&tcpPort, "tcp-port", 5000, "reliable-transport port for the login")
	cmd.Flags().IntVar(&udpPort, "port", 0, "relay port (default: as announced at login)")
	return cmd
}

// fetchUDPKey logs in over the reliable transport just long enough to
// receive the per-login key and the advertised relay port.
func fetchUDPKey(tcpPort int) ([]byte, int, error) {
	c, err := client.Dial(client.Options{
		Host:     host,
		Port:     tcpPort,
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, 0, err
	}
	defer c.Close()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			switch ev.Type {
			case client.EventUDPKey:
				return ev.Key, ev.Port, nil
			case client.EventSystem:
				// Auth failures arrive here before the server hangs up.
				fmt.Printf("* %s\n", ev.Text)
			}
		case <-c.Done():
			return nil, 0, errors.New("login failed")
		case <-deadline:
			return nil, 0, errors.New("timed out waiting for session key")
		}
	}
}
