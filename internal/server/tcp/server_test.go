package tcp_test

import (
	"bytes"
	"encoding/base64"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Codeblinders/Chat-App/internal/config"
	"github.com/Codeblinders/Chat-App/internal/crypto"
	"github.com/Codeblinders/Chat-App/internal/log"
	"github.com/Codeblinders/Chat-App/internal/server/tcp"
	"github.com/Codeblinders/Chat-App/internal/wire"
)

const testTimeout = 5 * time.Second

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.TCPBind = "127.0.0.1:0"
	cfg.Server.DataDir = t.TempDir()
	cfg.Server.CacheDir = ""
	// Tiny inline and chunk thresholds so small test files exercise the
	// streaming path.
	cfg.Limits.InlineLimit = 64
	cfg.Limits.ChunkSize = 16
	cfg.Logging.Disable = true
	require.NoError(t, cfg.FixupAndValidate())
	return cfg
}

func startServer(t *testing.T, cfg *config.Config) *tcp.Server {
	t.Helper()
	backend, err := log.New("", "NOTICE", true)
	require.NoError(t, err)
	srv := tcp.New(cfg, backend)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Halt)
	return srv
}

// testPeer drives the raw wire protocol against a live listener.
type testPeer struct {
	t       *testing.T
	nc      net.Conn
	key     []byte
	pending []byte
}

func dialPeer(t *testing.T, addr net.Addr) *testPeer {
	t.Helper()
	nc, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = nc.Close() })
	return &testPeer{t: t, nc: nc}
}

func (p *testPeer) send(m *wire.Message) {
	p.t.Helper()
	frame, err := wire.Seal(m, p.key)
	require.NoError(p.t, err)
	_, err = p.nc.Write(frame)
	require.NoError(p.t, err)
}

func (p *testPeer) sendPlain(m *wire.Message) {
	p.t.Helper()
	frame, err := wire.Encode(m)
	require.NoError(p.t, err)
	_, err = p.nc.Write(frame)
	require.NoError(p.t, err)
}

// read returns the next inbound message, decrypting once a key is set.
func (p *testPeer) read() *wire.Message {
	p.t.Helper()
	require.NoError(p.t, p.nc.SetReadDeadline(time.Now().Add(testTimeout)))
	buf := make([]byte, 64<<10)
	for {
		body, rest, err := wire.Decode(p.pending)
		require.NoError(p.t, err)
		if body != nil {
			p.pending = rest
			m, err := wire.Open(body, p.key)
			require.NoError(p.t, err)
			return m
		}
		n, err := p.nc.Read(buf)
		require.NoError(p.t, err, "waiting for a frame")
		p.pending = append(p.pending, buf[:n]...)
	}
}

// waitFor reads until a message of one of the wanted types arrives,
// skipping everything else.
func (p *testPeer) waitFor(types ...string) *wire.Message {
	p.t.Helper()
	for {
		m := p.read()
		for _, want := range types {
			if m.Type == want {
				return m
			}
		}
	}
}

// waitForSystemText reads system messages until one contains substr,
// skipping join/leave notices and other broadcast noise.
func (p *testPeer) waitForSystemText(substr string) *wire.Message {
	p.t.Helper()
	for {
		m := p.waitFor(wire.TypeSystem)
		if strings.Contains(m.Text, substr) {
			return m
		}
	}
}

// login runs the handshake and derives the session key on success. It
// returns the auth_ok message.
func (p *testPeer) login(username, password string) *wire.Message {
	p.t.Helper()
	p.sendPlain(&wire.Message{Type: wire.TypeAuthBegin, Username: username})
	saltMsg := p.waitFor(wire.TypeAuthSalt)
	salt, err := base64.StdEncoding.DecodeString(saltMsg.Salt)
	require.NoError(p.t, err)

	proof := crypto.PasswordProof(password, salt)
	p.sendPlain(&wire.Message{
		Type:     wire.TypeAuthProof,
		Username: username,
		PwHash:   base64.StdEncoding.EncodeToString(proof),
	})
	ok := p.waitFor(wire.TypeAuthOK, wire.TypeAuthError)
	require.Equal(p.t, wire.TypeAuthOK, ok.Type, "auth failed: %s", ok.Text)

	sessionSalt, err := base64.StdEncoding.DecodeString(ok.SessionSalt)
	require.NoError(p.t, err)
	p.key = crypto.SessionKey(proof, sessionSalt)
	return ok
}

func TestAuth_RegisterThenLogin(t *testing.T) {
	cfg := newTestConfig(t)
	srv := startServer(t, cfg)

	// First contact registers.
	alice := dialPeer(t, srv.Addr())
	alice.sendPlain(&wire.Message{Type: wire.TypeAuthBegin, Username: "alice"})
	saltMsg := alice.waitFor(wire.TypeAuthSalt)
	require.Equal(t, "register", saltMsg.Mode)
	salt, err := base64.StdEncoding.DecodeString(saltMsg.Salt)
	require.NoError(t, err)
	proof := crypto.PasswordProof("sekrit", salt)
	alice.sendPlain(&wire.Message{
		Type:     wire.TypeAuthProof,
		Username: "alice",
		PwHash:   base64.StdEncoding.EncodeToString(proof),
	})
	ok := alice.waitFor(wire.TypeAuthOK, wire.TypeAuthError)
	require.Equal(t, wire.TypeAuthOK, ok.Type)
	require.NotEmpty(t, ok.SessionSalt)
	require.NotEmpty(t, ok.UDPKey)
	require.Equal(t, cfg.Server.UDPPort, ok.UDPPort)
	_ = alice.nc.Close()

	// Second contact is a login against the pinned credential.
	again := dialPeer(t, srv.Addr())
	again.sendPlain(&wire.Message{Type: wire.TypeAuthBegin, Username: "alice"})
	saltMsg = again.waitFor(wire.TypeAuthSalt)
	require.Equal(t, "login", saltMsg.Mode)
	salt2, err := base64.StdEncoding.DecodeString(saltMsg.Salt)
	require.NoError(t, err)
	require.Equal(t, salt, salt2, "credential salt must be stable")
	again.login("alice", "sekrit")
}

func TestAuth_WrongPassword(t *testing.T) {
	srv := startServer(t, newTestConfig(t))

	dialPeer(t, srv.Addr()).login("bob", "right")

	intruder := dialPeer(t, srv.Addr())
	intruder.sendPlain(&wire.Message{Type: wire.TypeAuthBegin, Username: "bob"})
	saltMsg := intruder.waitFor(wire.TypeAuthSalt)
	salt, err := base64.StdEncoding.DecodeString(saltMsg.Salt)
	require.NoError(t, err)
	intruder.sendPlain(&wire.Message{
		Type:     wire.TypeAuthProof,
		Username: "bob",
		PwHash:   base64.StdEncoding.EncodeToString(crypto.PasswordProof("wrong", salt)),
	})
	m := intruder.waitFor(wire.TypeAuthOK, wire.TypeAuthError)
	require.Equal(t, wire.TypeAuthError, m.Type)
}

func TestAuth_FreshUDPKeyPerLogin(t *testing.T) {
	srv := startServer(t, newTestConfig(t))

	first := dialPeer(t, srv.Addr()).login("carol", "pw")
	second := dialPeer(t, srv.Addr()).login("carol", "pw")
	require.NotEqual(t, first.UDPKey, second.UDPKey)
}

func TestChat_BroadcastToAllIncludingSender(t *testing.T) {
	srv := startServer(t, newTestConfig(t))

	alice := dialPeer(t, srv.Addr())
	alice.login("alice", "a")
	bob := dialPeer(t, srv.Addr())
	bob.login("bob", "b")

	alice.send(&wire.Message{Type: wire.TypeChat, Text: "hello room"})

	for _, p := range []*testPeer{alice, bob} {
		m := p.waitFor(wire.TypeChat)
		require.Equal(t, "hello room", m.Text)
		require.Equal(t, "alice", m.Sender)
		require.NotZero(t, m.TS)
	}
}

func TestChat_RejectedBeforeAuth(t *testing.T) {
	srv := startServer(t, newTestConfig(t))

	peer := dialPeer(t, srv.Addr())
	peer.sendPlain(&wire.Message{Type: wire.TypeChat, Text: "sneaky"})
	m := peer.waitFor(wire.TypeSystem)
	require.Contains(t, m.Text, "Authenticate")
}

func TestChat_PlaintextAfterHandshakeDropped(t *testing.T) {
	srv := startServer(t, newTestConfig(t))

	alice := dialPeer(t, srv.Addr())
	alice.login("alice", "a")
	bob := dialPeer(t, srv.Addr())
	bob.login("bob", "b")

	// A plaintext payload on an authenticated connection must be discarded,
	// not broadcast. The sealed chat behind it proves the connection itself
	// survived.
	alice.sendPlain(&wire.Message{Type: wire.TypeChat, Text: "injected"})
	alice.send(&wire.Message{Type: wire.TypeChat, Text: "legit"})

	m := bob.waitFor(wire.TypeChat)
	require.Equal(t, "legit", m.Text)
}

func TestRoster_JoinAndLeave(t *testing.T) {
	srv := startServer(t, newTestConfig(t))

	alice := dialPeer(t, srv.Addr())
	alice.login("alice", "a")
	roster := alice.waitFor(wire.TypeRoster)
	require.Equal(t, []string{"alice"}, roster.Users)

	bob := dialPeer(t, srv.Addr())
	bob.login("bob", "b")
	for {
		roster = alice.waitFor(wire.TypeRoster)
		if len(roster.Users) == 2 {
			break
		}
	}
	require.Equal(t, []string{"alice", "bob"}, roster.Users)

	bob.send(&wire.Message{Type: wire.TypeBye})
	alice.waitForSystemText("bob left")
	roster = alice.waitFor(wire.TypeRoster)
	require.Equal(t, []string{"alice"}, roster.Users)
}

func TestFileTransfer_InlineOfferSurvivesSender(t *testing.T) {
	srv := startServer(t, newTestConfig(t))
	payload := []byte("tiny inline payload")

	alice := dialPeer(t, srv.Addr())
	alice.login("alice", "a")
	bob := dialPeer(t, srv.Addr())
	bob.login("bob", "b")

	alice.send(&wire.Message{
		Type:      wire.TypeFileOffer,
		Filename:  "note.txt",
		Size:      int64(len(payload)),
		InlineB64: base64.StdEncoding.EncodeToString(payload),
	})

	off := bob.waitFor(wire.TypeFileOffer)
	require.Equal(t, "note.txt", off.Filename)
	require.Equal(t, "alice", off.Sender)
	require.NotEmpty(t, off.OfferID)

	// The offer must outlive the sender: it was persisted to cache.
	_ = alice.nc.Close()
	bob.waitForSystemText("alice left")

	bob.send(&wire.Message{Type: wire.TypeFileGet, OfferID: off.OfferID, Mode: wire.ModeDownload})
	require.Equal(t, payload, recvFile(bob, off.OfferID))
}

func TestFileTransfer_StreamedOfferAndReplayFromCache(t *testing.T) {
	srv := startServer(t, newTestConfig(t))
	payload := bytes.Repeat([]byte("streaming-payload-"), 20) // over InlineLimit

	alice := dialPeer(t, srv.Addr())
	alice.login("alice", "a")
	bob := dialPeer(t, srv.Addr())
	bob.login("bob", "b")
	carol := dialPeer(t, srv.Addr())
	carol.login("carol", "c")

	// Announce with a correlation nonce; no inline payload.
	alice.send(&wire.Message{
		Type:     wire.TypeFileOffer,
		Filename: "big.bin",
		Size:     int64(len(payload)),
		Nonce:    "n-1",
	})
	ack := alice.waitFor(wire.TypeOfferAck)
	require.Equal(t, "n-1", ack.Nonce)
	offerID := ack.OfferID

	off := bob.waitFor(wire.TypeFileOffer)
	require.Equal(t, offerID, off.OfferID)

	// Bob requests; the server turns to alice for the bytes.
	bob.send(&wire.Message{Type: wire.TypeFileGet, OfferID: offerID, Mode: wire.ModeDownload})
	fetch := alice.waitFor(wire.TypeFileFetch)
	require.Equal(t, offerID, fetch.OfferID)

	chunk := 16
	for i := 0; i < len(payload); i += chunk {
		end := i + chunk
		if end > len(payload) {
			end = len(payload)
		}
		alice.send(&wire.Message{
			Type:    wire.TypeFileChunk,
			OfferID: offerID,
			DataB64: base64.StdEncoding.EncodeToString(payload[i:end]),
		})
	}
	alice.send(&wire.Message{Type: wire.TypeFileChunk, OfferID: offerID, EOF: true})

	require.Equal(t, payload, recvFile(bob, offerID))

	// A later requester is served from the cache laid down by the stream.
	carol.send(&wire.Message{Type: wire.TypeFileGet, OfferID: offerID, Mode: wire.ModeDownload})
	require.Equal(t, payload, recvFile(carol, offerID))
}

// recvFile reassembles one offer's chunk stream, tolerating interleaved
// progress and system traffic.
func recvFile(p *testPeer, offerID string) []byte {
	p.t.Helper()
	var got []byte
	for {
		m := p.waitFor(wire.TypeFileChunk)
		if m.OfferID != offerID {
			continue
		}
		if m.DataB64 != "" {
			data, err := base64.StdEncoding.DecodeString(m.DataB64)
			require.NoError(p.t, err)
			got = append(got, data...)
		}
		if m.EOF {
			return got
		}
	}
}

func TestFileTransfer_UnknownOffer(t *testing.T) {
	srv := startServer(t, newTestConfig(t))

	alice := dialPeer(t, srv.Addr())
	alice.login("alice", "a")
	alice.send(&wire.Message{Type: wire.TypeFileGet, OfferID: "999", Mode: wire.ModeDownload})
	m := alice.waitForSystemText("not found")
	require.Contains(t, m.Text, "Offer 999")
}

func TestFileTransfer_StreamWithDepartedSender(t *testing.T) {
	srv := startServer(t, newTestConfig(t))

	alice := dialPeer(t, srv.Addr())
	alice.login("alice", "a")
	bob := dialPeer(t, srv.Addr())
	bob.login("bob", "b")

	alice.send(&wire.Message{
		Type:     wire.TypeFileOffer,
		Filename: "gone.bin",
		Size:     1 << 20,
		Nonce:    "n-2",
	})
	ack := alice.waitFor(wire.TypeOfferAck)
	_ = alice.nc.Close()
	bob.waitForSystemText("alice left")

	bob.send(&wire.Message{Type: wire.TypeFileGet, OfferID: ack.OfferID, Mode: wire.ModeDownload})
	bob.waitForSystemText("sender unavailable")
}
