package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Codeblinders/Chat-App/internal/client"
)

var (
	host     string
	port     int
	username string
	password string
)

func Execute() error {
	root := &cobra.Command{
		Use:   "chatapp",
		Short: "Encrypted group chat CLI",
	}

	root.PersistentFlags().StringVar(&host, "host", "127.0.0.1", "server host")
	root.PersistentFlags().StringVarP(&username, "username", "u", "", "username")
	root.PersistentFlags().StringVarP(&password, "password", "p", "", "password")
	_ = root.MarkPersistentFlagRequired("username")
	_ = root.MarkPersistentFlagRequired("password")

	root.AddCommand(tcpChatCmd(), udpChatCmd())
	return root.Execute()
}

// printEvents renders engine events until the channel closes or done is
// signalled.
func printEvents(events <-chan client.Event, done <-chan struct{}) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			printEvent(ev)
		case <-done:
			return
		}
	}
}

func printEvent(ev client.Event) {
	switch ev.Type {
	case client.EventSystem:
		fmt.Printf("* %s\n", ev.Text)
	case client.EventRoster:
		fmt.Printf("* online: %s\n", strings.Join(ev.Users, ", "))
	case client.EventChat:
		fmt.Printf("[%s] %s: %s\n", formatTS(ev.TS), ev.Sender, ev.Text)
	case client.EventFileOffer:
		if ev.OfferID != "" {
			fmt.Printf("* %s shared %s (%d bytes), id %s. /get %s to download.\n",
				ev.Sender, ev.Filename, ev.Size, ev.OfferID, ev.OfferID)
		} else {
			fmt.Printf("* %s shared %s (%d bytes)\n", ev.Sender, ev.Filename, ev.Size)
		}
	case client.EventProgress:
		fmt.Printf("* transfer %s: %d/%d bytes\n", ev.OfferID, ev.Bytes, ev.Size)
	}
}

func formatTS(ts float64) string {
	if ts == 0 {
		return time.Now().Format("15:04:05")
	}
	return time.UnixMilli(int64(ts * 1000)).Format("15:04:05")
}
