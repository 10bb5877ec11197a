package client_test

import (
	"bytes"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Codeblinders/Chat-App/internal/client"
	"github.com/Codeblinders/Chat-App/internal/config"
	"github.com/Codeblinders/Chat-App/internal/log"
	"github.com/Codeblinders/Chat-App/internal/server/tcp"
	"github.com/Codeblinders/Chat-App/internal/server/udp"
)

const testTimeout = 10 * time.Second

// startBackend runs both server processes' worth of machinery on loopback
// over one shared data directory.
func startBackend(t *testing.T) (*tcp.Server, *udp.Relay) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.TCPBind = "127.0.0.1:0"
	cfg.Server.UDPBind = "127.0.0.1:0"
	cfg.Server.DataDir = t.TempDir()
	cfg.Server.CacheDir = ""
	cfg.Logging.Disable = true
	require.NoError(t, cfg.FixupAndValidate())

	backend, err := log.New("", "NOTICE", true)
	require.NoError(t, err)

	srv := tcp.New(cfg, backend)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Halt)

	relay := udp.New(cfg, backend)
	require.NoError(t, relay.Start())
	t.Cleanup(relay.Halt)
	return srv, relay
}

func dialClient(t *testing.T, srv *tcp.Server, username, password string) *client.Client {
	t.Helper()
	addr := srv.Addr().(*net.TCPAddr)
	c, err := client.Dial(client.Options{
		Host:        "127.0.0.1",
		Port:        addr.Port,
		Username:    username,
		Password:    password,
		DownloadDir: filepath.Join(t.TempDir(), "downloads"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// waitEvent discards events until one of the wanted types arrives.
func waitEvent(t *testing.T, events <-chan client.Event, types ...string) client.Event {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case ev := <-events:
			for _, want := range types {
				if ev.Type == want {
					return ev
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", types)
		}
	}
}

func TestClient_AuthDeliversUDPKey(t *testing.T) {
	srv, _ := startBackend(t)

	alice := dialClient(t, srv, "alice", "pw")
	ev := waitEvent(t, alice.Events(), client.EventUDPKey)
	require.Len(t, ev.Key, 32)
	require.NotZero(t, ev.Port)

	ev = waitEvent(t, alice.Events(), client.EventSystem)
	require.Contains(t, ev.Text, "Authentication success")
}

func TestClient_ChatAndRoster(t *testing.T) {
	srv, _ := startBackend(t)

	alice := dialClient(t, srv, "alice", "a")
	waitEvent(t, alice.Events(), client.EventUDPKey)
	bob := dialClient(t, srv, "bob", "b")
	waitEvent(t, bob.Events(), client.EventUDPKey)

	// Both ends converge on the two-name roster.
	for {
		ev := waitEvent(t, alice.Events(), client.EventRoster)
		if len(ev.Users) == 2 {
			require.Equal(t, []string{"alice", "bob"}, ev.Users)
			break
		}
	}

	require.NoError(t, alice.SendChat("hello bob"))
	ev := waitEvent(t, bob.Events(), client.EventChat)
	require.Equal(t, "alice", ev.Sender)
	require.Equal(t, "hello bob", ev.Text)

	// The sender hears their own chat back from the server.
	ev = waitEvent(t, alice.Events(), client.EventChat)
	require.Equal(t, "hello bob", ev.Text)
}

func TestClient_ChatBeforeAuthRejected(t *testing.T) {
	srv, _ := startBackend(t)

	alice := dialClient(t, srv, "alice", "pw")
	// No waiting for the handshake: the engine refuses locally.
	err := alice.SendChat("too soon")
	require.ErrorIs(t, err, client.ErrNotAuthenticated)
}

func TestClient_InlineFileShareAndDownload(t *testing.T) {
	srv, _ := startBackend(t)
	payload := []byte("a small shared file")
	src := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(src, payload, 0o600))

	alice := dialClient(t, srv, "alice", "a")
	waitEvent(t, alice.Events(), client.EventUDPKey)
	bob := dialClient(t, srv, "bob", "b")
	waitEvent(t, bob.Events(), client.EventUDPKey)

	require.NoError(t, alice.ShareFile(src, ""))

	off := waitEvent(t, bob.Events(), client.EventFileOffer)
	require.Equal(t, "note.txt", off.Filename)
	require.Equal(t, "alice", off.Sender)
	require.NotEmpty(t, off.OfferID)

	require.NoError(t, bob.RequestFile(off.OfferID, "download"))
	var saved string
	for {
		ev := waitEvent(t, bob.Events(), client.EventSystem)
		if strings.HasPrefix(ev.Text, "Downloaded: ") {
			saved = strings.TrimPrefix(ev.Text, "Downloaded: ")
			break
		}
	}
	got, err := os.ReadFile(saved)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestClient_StreamedFileShareAndDownload(t *testing.T) {
	srv, _ := startBackend(t)

	// Past the inline threshold, so the bytes stream on demand through the
	// sender's connection.
	payload := make([]byte, (1<<20)+512)
	_, err := rand.Read(payload)
	require.NoError(t, err)
	src := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(src, payload, 0o600))

	alice := dialClient(t, srv, "alice", "a")
	waitEvent(t, alice.Events(), client.EventUDPKey)
	bob := dialClient(t, srv, "bob", "b")
	waitEvent(t, bob.Events(), client.EventUDPKey)

	require.NoError(t, alice.ShareFile(src, ""))

	off := waitEvent(t, bob.Events(), client.EventFileOffer)
	require.Equal(t, int64(len(payload)), off.Size)

	require.NoError(t, bob.RequestFile(off.OfferID, "download"))
	var saved string
	for {
		ev := waitEvent(t, bob.Events(), client.EventSystem)
		if strings.HasPrefix(ev.Text, "Downloaded: ") {
			saved = strings.TrimPrefix(ev.Text, "Downloaded: ")
			break
		}
	}
	got, err := os.ReadFile(saved)
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got), "downloaded bytes differ")
}

func TestClient_UDPChat(t *testing.T) {
	srv, relay := startBackend(t)
	relayPort := relay.Addr().(*net.UDPAddr).Port

	alice := dialClient(t, srv, "alice", "a")
	aliceKey := waitEvent(t, alice.Events(), client.EventUDPKey)
	bob := dialClient(t, srv, "bob", "b")
	bobKey := waitEvent(t, bob.Events(), client.EventUDPKey)

	aliceEvents := make(chan client.Event, 128)
	ua, err := client.DialUDP(client.UDPOptions{
		Host: "127.0.0.1", Port: relayPort,
		Username: "alice", Key: aliceKey.Key, Events: aliceEvents,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ua.Close() })
	waitEvent(t, aliceEvents, client.EventSystem) // session established

	bobEvents := make(chan client.Event, 128)
	ub, err := client.DialUDP(client.UDPOptions{
		Host: "127.0.0.1", Port: relayPort,
		Username: "bob", Key: bobKey.Key, Events: bobEvents,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ub.Close() })
	waitEvent(t, bobEvents, client.EventSystem)

	require.NoError(t, ua.SendChat("fast and loose"))
	ev := waitEvent(t, bobEvents, client.EventChat)
	require.Equal(t, "alice", ev.Sender)
	require.Equal(t, "fast and loose", ev.Text)
}

func TestClient_UDPFileShare(t *testing.T) {
	srv, relay := startBackend(t)
	relayPort := relay.Addr().(*net.UDPAddr).Port
	payload := []byte("one datagram worth of file")
	src := filepath.Join(t.TempDir(), "snippet.txt")
	require.NoError(t, os.WriteFile(src, payload, 0o600))

	alice := dialClient(t, srv, "alice", "a")
	aliceKey := waitEvent(t, alice.Events(), client.EventUDPKey)
	bob := dialClient(t, srv, "bob", "b")
	bobKey := waitEvent(t, bob.Events(), client.EventUDPKey)

	ua, err := client.DialUDP(client.UDPOptions{
		Host: "127.0.0.1", Port: relayPort,
		Username: "alice", Key: aliceKey.Key,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ua.Close() })

	bobEvents := make(chan client.Event, 128)
	ub, err := client.DialUDP(client.UDPOptions{
		Host: "127.0.0.1", Port: relayPort,
		Username: "bob", Key: bobKey.Key, Events: bobEvents,
		DownloadDir: filepath.Join(t.TempDir(), "downloads"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ub.Close() })
	waitEvent(t, bobEvents, client.EventSystem)

	require.NoError(t, ua.ShareFile(src, ""))

	off := waitEvent(t, bobEvents, client.EventFileOffer)
	require.Equal(t, "snippet.txt", off.Filename)

	var saved string
	for {
		ev := waitEvent(t, bobEvents, client.EventSystem)
		if strings.HasPrefix(ev.Text, "Downloaded: ") {
			saved = strings.TrimPrefix(ev.Text, "Downloaded: ")
			break
		}
	}
	got, err := os.ReadFile(saved)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestClient_UDPRejectsOversizeShare(t *testing.T) {
	srv, relay := startBackend(t)
	relayPort := relay.Addr().(*net.UDPAddr).Port

	alice := dialClient(t, srv, "alice", "a")
	aliceKey := waitEvent(t, alice.Events(), client.EventUDPKey)

	ua, err := client.DialUDP(client.UDPOptions{
		Host: "127.0.0.1", Port: relayPort,
		Username: "alice", Key: aliceKey.Key,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ua.Close() })

	big := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(big, make([]byte, 64<<10), 0o600))
	require.ErrorIs(t, ua.ShareFile(big, ""), client.ErrDatagramTooLarge)
}
