package client

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/Codeblinders/Chat-App/internal/config"
	"github.com/Codeblinders/Chat-App/internal/log"
	"github.com/Codeblinders/Chat-App/internal/wire"
)

// ErrDatagramTooLarge is returned when a shared file cannot ride in a
// single datagram.
var ErrDatagramTooLarge = errors.New("client: file too large for a datagram")

// UDPOptions configures an unordered-transport client. Key is the per-login
// key delivered by the reliable transport's udp_key event. Events may share
// a channel with the TCP engine or use its own.
type UDPOptions struct {
	Host     string
	Port     int
	Username string
	Key      []byte

	Events      chan<- Event
	DownloadDir string

	// LogBackend is optional; nil discards engine logs.
	LogBackend *log.Backend
}

// UDPClient is the unordered-transport protocol engine. Everything rides in
// single datagrams; there is no streaming and no server-side cache, so large
// shares are rejected up front.
type UDPClient struct {
	opts   UDPOptions
	limits config.Limits
	log    *logging.Logger

	pc   *net.UDPConn
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// DialUDP opens the socket, announces the session with a handshake, and
// starts the receive and keepalive workers.
func DialUDP(opts UDPOptions) (*UDPClient, error) {
	if opts.Username == "" || len(opts.Key) == 0 {
		return nil, errors.New("client: username and key required")
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = filepath.Join("downloads", opts.Username)
	}
	backend := opts.LogBackend
	if backend == nil {
		var err error
		backend, err = log.New("", "NOTICE", true)
		if err != nil {
			return nil, err
		}
	}

	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(opts.Host, fmt.Sprint(opts.Port)))
	if err != nil {
		return nil, fmt.Errorf("client: resolve: %w", err)
	}
	pc, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}

	u := &UDPClient{
		opts:   opts,
		limits: config.Default().Limits,
		log:    backend.GetLogger("client/udp"),
		pc:     pc,
		done:   make(chan struct{}),
	}
	if err := u.sendSealed(&wire.Message{Type: wire.TypeHandshake}); err != nil {
		pc.Close()
		return nil, err
	}

	u.wg.Add(2)
	go func() {
		defer u.wg.Done()
		u.recvLoop()
	}()
	go func() {
		defer u.wg.Done()
		u.keepaliveLoop()
	}()
	return u, nil
}

// Done is closed when the client shuts down.
func (u *UDPClient) Done() <-chan struct{} { return u.done }

// SendChat broadcasts text to every other session.
func (u *UDPClient) SendChat(text string) error {
	return u.sendSealed(&wire.Message{Type: wire.TypeChat, Text: text, TS: nowTS()})
}

// ShareFile sends path inline inside a single offer datagram.
func (u *UDPClient) ShareFile(path, thumbB64 string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("client: share: %w", err)
	}
	if fi.Size() > u.limits.UDPInlineLimit {
		return ErrDatagramTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("client: share: %w", err)
	}
	return u.sendSealed(&wire.Message{
		Type:     wire.TypeFileOffer,
		Filename: filepath.Base(path),
		Size:     fi.Size(),
		DataB64:  base64.StdEncoding.EncodeToString(data),
		ThumbB64: thumbB64,
		TS:       nowTS(),
	})
}

// Close says goodbye (best effort) and releases the socket. Idempotent.
func (u *UDPClient) Close() error {
	u.once.Do(func() {
		_ = u.sendSealed(&wire.Message{Type: wire.TypeBye})
		close(u.done)
		_ = u.pc.Close()
	})
	return nil
}

// sendSealed seals m under the session key and writes one datagram.
// UDPConn writes are atomic per call, so no writer goroutine is needed.
func (u *UDPClient) sendSealed(m *wire.Message) error {
	pkt, err := wire.SealPacket(u.opts.Username, m, u.opts.Key)
	if err != nil {
		return err
	}
	if _, err := u.pc.Write(pkt); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

func (u *UDPClient) recvLoop() {
	buf := make([]byte, 65_507)
	for {
		n, err := u.pc.Read(buf)
		if err != nil {
			select {
			case <-u.done:
			default:
				u.emit(Event{Type: EventSystem, Text: "Unordered transport closed."})
			}
			return
		}
		u.handleDatagram(buf[:n])
	}
}

func (u *UDPClient) handleDatagram(b []byte) {
	pkt, err := wire.ParsePacket(b)
	if err != nil {
		u.log.Debugf("dropping malformed datagram")
		return
	}

	var m *wire.Message
	if pkt.C == "" {
		// The relay's plaintext rejection is the only unencrypted inbound.
		m = new(wire.Message)
		if err := json.Unmarshal(b, m); err != nil {
			return
		}
	} else {
		m, err = pkt.Open(u.opts.Key)
		if err != nil {
			u.log.Warningf("dropping undecryptable datagram")
			return
		}
	}

	switch m.Type {
	case wire.TypeSystem:
		u.emit(Event{Type: EventSystem, Text: m.Text})
	case wire.TypeChat:
		if m.Sender == u.opts.Username {
			return
		}
		u.emit(Event{Type: EventChat, Sender: m.Sender, Text: m.Text, TS: m.TS})
	case wire.TypeFileOffer:
		u.handleInlineOffer(m)
	default:
		u.log.Debugf("ignoring inbound type %q", m.Type)
	}
}

// handleInlineOffer saves the datagram's payload immediately; there is no
// on-demand fetch on this transport.
func (u *UDPClient) handleInlineOffer(m *wire.Message) {
	u.emit(Event{
		Type:     EventFileOffer,
		Sender:   m.Sender,
		Filename: m.Filename,
		Size:     m.Size,
		ThumbB64: m.ThumbB64,
	})
	data, err := base64.StdEncoding.DecodeString(m.DataB64)
	if err != nil {
		u.emit(Event{Type: EventSystem, Text: "File payload corrupt from " + m.Sender})
		return
	}
	if err := os.MkdirAll(u.opts.DownloadDir, 0o700); err != nil {
		u.emit(Event{Type: EventSystem, Text: "File write error: " + err.Error()})
		return
	}
	path := filepath.Join(u.opts.DownloadDir, filepath.Base(m.Filename))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		u.emit(Event{Type: EventSystem, Text: "File write error: " + err.Error()})
		return
	}
	u.emit(Event{Type: EventSystem, Text: "Downloaded: " + path})
}

// keepaliveLoop keeps the relay session alive across quiet periods.
func (u *UDPClient) keepaliveLoop() {
	t := time.NewTicker(u.limits.Keepalive())
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := u.sendSealed(&wire.Message{Type: wire.TypePing}); err != nil {
				return
			}
		case <-u.done:
			return
		}
	}
}

func (u *UDPClient) emit(ev Event) {
	if u.opts.Events == nil {
		return
	}
	select {
	case u.opts.Events <- ev:
	case <-u.done:
	}
}
