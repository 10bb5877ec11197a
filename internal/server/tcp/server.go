package tcp

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/Codeblinders/Chat-App/internal/config"
	"github.com/Codeblinders/Chat-App/internal/log"
	"github.com/Codeblinders/Chat-App/internal/store"
	"github.com/Codeblinders/Chat-App/internal/wire"
)

// Server is the reliable-transport endpoint: authentication, roster, chat
// broadcast, and the file transfer coordinator.
type Server struct {
	cfg  *config.Config
	log  *logging.Logger
	reg  *registry
	auth *authenticator
	xfer *coordinator

	ln   net.Listener
	quit chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// New builds a Server from cfg, opening the credential and key stores under
// the data directory.
func New(cfg *config.Config, backend *log.Backend) *Server {
	reg := newRegistry(backend.GetLogger("tcp/registry"))
	s := &Server{
		cfg: cfg,
		log: backend.GetLogger("tcp"),
		reg: reg,
		auth: &authenticator{
			log:     backend.GetLogger("tcp/auth"),
			cfg:     cfg,
			creds:   store.OpenCredentials(cfg.CredentialsPath()),
			udpKeys: store.OpenUDPKeys(cfg.UDPKeysPath()),
			reg:     reg,
		},
		xfer: newCoordinator(backend.GetLogger("tcp/xfer"), cfg, reg),
		quit: make(chan struct{}),
	}
	return s
}

// Start binds the listener and launches the accept loop and the offer
// sweeper. A bind failure is the one fatal startup condition.
func (s *Server) Start() error {
	if err := os.MkdirAll(s.cfg.Server.DataDir, 0o700); err != nil {
		return fmt.Errorf("tcp: data dir: %w", err)
	}
	if err := os.MkdirAll(s.cfg.Server.CacheDir, 0o700); err != nil {
		return fmt.Errorf("tcp: cache dir: %w", err)
	}
	ln, err := net.Listen("tcp", s.cfg.Server.TCPBind)
	if err != nil {
		return fmt.Errorf("tcp: bind %s: %w", s.cfg.Server.TCPBind, err)
	}
	s.ln = ln
	s.log.Noticef("reliable transport listening on %v", ln.Addr())

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.xfer.run()
	}()
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Halt stops accepting, closes every connection, and waits for the workers.
func (s *Server) Halt() {
	s.once.Do(func() {
		close(s.quit)
		if s.ln != nil {
			_ = s.ln.Close()
		}
		s.xfer.halt()
		for _, c := range s.reg.snapshot() {
			c.close()
		}
		s.wg.Wait()
	})
}

func (s *Server) acceptLoop() {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-s.quit:
				return
			default:
			}
			s.log.Warningf("accept: %v", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(nc)
		}()
	}
}

func (s *Server) handleConn(nc net.Conn) {
	c := newConn(nc)
	s.reg.add(c)
	s.log.Debugf("conn %s: accepted from %v", c.id, nc.RemoteAddr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writeLoop()
	}()
	defer s.cleanupConn(c)

	buf := make([]byte, 64<<10)
	var pending []byte
	for {
		n, err := nc.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				body, rest, ferr := wire.Decode(pending)
				if ferr != nil {
					s.log.Warningf("conn %s: %v, dropping connection", c.id, ferr)
					return
				}
				if body == nil {
					break
				}
				pending = rest
				s.dispatch(c, body)
			}
		}
		if err != nil {
			return
		}
	}
}

// cleanupConn runs exactly one teardown pass for c: registry removal,
// transfer-state release, and departure/roster broadcast when the
// connection held a roster name.
func (s *Server) cleanupConn(c *conn) {
	name := s.reg.remove(c)
	s.xfer.dropConn(c.id)
	if name != "" {
		s.log.Noticef("%q disconnected", name)
		s.reg.broadcast(&wire.Message{Type: wire.TypeSystem, Text: name + " left."}, "")
		s.broadcastRoster()
	} else {
		s.log.Debugf("conn %s: closed", c.id)
	}
}

func (s *Server) broadcastRoster() {
	s.reg.broadcast(&wire.Message{Type: wire.TypeRoster, Users: s.reg.rosterNames()}, "")
}

func (s *Server) announceJoin(name string) {
	s.reg.broadcast(&wire.Message{Type: wire.TypeSystem, Text: name + " joined the chat."}, "")
	s.broadcastRoster()
}

// dispatch decodes one frame body and routes the message. Per-message
// errors are isolated: they never abort the read loop or touch other
// connections.
func (s *Server) dispatch(c *conn, body []byte) {
	key := c.sessionKey()
	m, err := wire.Open(body, key)
	switch {
	case errors.Is(err, wire.ErrDecrypt):
		s.log.Warningf("conn %s: dropping undecryptable message", c.id)
		return
	case errors.Is(err, wire.ErrNoKey):
		_ = c.sendPlain(&wire.Message{Type: wire.TypeSystem, Text: "No session for encrypted payload."})
		return
	case err != nil:
		s.log.Warningf("conn %s: malformed message: %v", c.id, err)
		return
	}

	// The handshake is over once a key is bound; from then on every
	// inbound frame must be sealed. A plaintext frame here is an injection
	// attempt or a confused client, never legitimate traffic.
	if key != nil && !wire.Sealed(body) {
		s.log.Warningf("conn %s: dropping plaintext %q after handshake", c.id, m.Type)
		return
	}

	switch m.Type {
	case wire.TypeAuthBegin:
		s.auth.begin(c, m)
	case wire.TypeAuthProof:
		if s.auth.proof(c, m) {
			s.announceJoin(c.user())
		}
	case wire.TypeChat:
		if !s.requireAuth(c) {
			return
		}
		s.reg.broadcast(&wire.Message{
			Type:   wire.TypeChat,
			Text:   m.Text,
			Sender: c.user(),
			TS:     nowTS(),
		}, "")
	case wire.TypeFileOffer:
		if s.requireAuth(c) {
			s.xfer.create(c, m)
		}
	case wire.TypeFileGet:
		if s.requireAuth(c) {
			s.xfer.request(c, m)
		}
	case wire.TypeFileChunk:
		if s.requireAuth(c) {
			s.xfer.chunk(c, m)
		}
	case wire.TypeBye:
		// Close now; the read loop observes it and runs cleanup.
		c.close()
	case wire.TypeHello, wire.TypeHandshake, wire.TypePing:
		// Liveness no-ops on this transport.
	case wire.TypeAuthSalt, wire.TypeAuthOK, wire.TypeAuthError,
		wire.TypeSystem, wire.TypeRoster, wire.TypeOfferAck,
		wire.TypeFileFetch, wire.TypeFilePush, wire.TypeProgress:
		// Server-originated types; ignore from clients.
	default:
		s.log.Debugf("conn %s: ignoring unknown type %q", c.id, m.Type)
	}
}

// requireAuth rejects payload traffic before authentication; nothing but
// the handshake may travel the plaintext path.
func (s *Server) requireAuth(c *conn) bool {
	if c.user() == "" {
		_ = c.sendPlain(&wire.Message{Type: wire.TypeSystem, Text: "Authenticate before using the chat."})
		return false
	}
	return true
}

func nowTS() float64 {
	return float64(time.Now().UnixMilli()) / 1000.0
}
