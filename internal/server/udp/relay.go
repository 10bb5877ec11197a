package udp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/Codeblinders/Chat-App/internal/config"
	"github.com/Codeblinders/Chat-App/internal/log"
	"github.com/Codeblinders/Chat-App/internal/store"
	"github.com/Codeblinders/Chat-App/internal/wire"
)

const maxDatagram = 65_507

// Relay fans encrypted messages out between unordered-transport sessions.
type Relay struct {
	cfg  *config.Config
	log  *logging.Logger
	keys *store.UDPKeys

	pc   *net.UDPConn
	quit chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
}

// New builds a Relay reading keys from the shared store written by the
// reliable-transport server.
func New(cfg *config.Config, backend *log.Backend) *Relay {
	return &Relay{
		cfg:      cfg,
		log:      backend.GetLogger("udp"),
		keys:     store.OpenUDPKeys(cfg.UDPKeysPath()),
		quit:     make(chan struct{}),
		sessions: make(map[string]*session),
	}
}

// Start binds the socket and launches the read loop and the inactivity
// sweeper. A bind failure is the one fatal startup condition.
func (r *Relay) Start() error {
	addr, err := net.ResolveUDPAddr("udp", r.cfg.Server.UDPBind)
	if err != nil {
		return fmt.Errorf("udp: resolve %s: %w", r.cfg.Server.UDPBind, err)
	}
	pc, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("udp: bind %s: %w", r.cfg.Server.UDPBind, err)
	}
	r.pc = pc
	r.log.Noticef("unordered transport listening on %v", pc.LocalAddr())

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.readLoop()
	}()
	go func() {
		defer r.wg.Done()
		r.sweepLoop()
	}()
	return nil
}

// Addr returns the bound socket address.
func (r *Relay) Addr() net.Addr { return r.pc.LocalAddr() }

// Halt stops the loops and closes the socket.
func (r *Relay) Halt() {
	r.once.Do(func() {
		close(r.quit)
		if r.pc != nil {
			_ = r.pc.Close()
		}
		r.wg.Wait()
	})
}

func (r *Relay) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := r.pc.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-r.quit:
				return
			default:
			}
			r.log.Warningf("read: %v", err)
			continue
		}
		pkt, err := wire.ParsePacket(buf[:n])
		if err != nil || pkt.U == "" {
			r.log.Debugf("malformed packet from %v", addr)
			continue
		}
		r.handlePacket(pkt, addr)
	}
}

// handlePacket refreshes or creates the sender's session and relays the
// decrypted message. Per-packet failures never touch other sessions.
func (r *Relay) handlePacket(pkt *wire.Packet, addr *net.UDPAddr) {
	sess, fresh, err := r.touchSession(pkt.U, addr)
	if err != nil {
		r.log.Errorf("session for %q: %v", pkt.U, err)
		return
	}
	if sess == nil {
		// Unknown user: nothing to encrypt with, so the rejection is the
		// one plaintext datagram this relay ever sends.
		r.sendPlain(addr, &wire.Message{
			Type: wire.TypeSystem,
			Text: "Authenticate via the reliable transport first.",
		})
		return
	}
	if fresh {
		r.log.Noticef("session for %q from %v", pkt.U, addr)
		r.sendTo(pkt.U, sess, &wire.Message{
			Type: wire.TypeSystem,
			Text: "Unordered transport session established.",
			TS:   nowTS(),
		})
	}

	m, err := pkt.Open(sess.key)
	if err != nil {
		r.log.Warningf("%q: dropping undecryptable packet", pkt.U)
		return
	}
	if m.TS == 0 {
		m.TS = nowTS()
	}
	if m.Sender == "" {
		m.Sender = pkt.U
	}

	switch m.Type {
	case wire.TypePing:
		// Liveness only; the session was already refreshed.
	case wire.TypeBye:
		r.dropSession(pkt.U)
		r.log.Noticef("%q said goodbye", pkt.U)
		r.broadcast(&wire.Message{
			Type: wire.TypeSystem,
			Text: pkt.U + " left.",
			TS:   nowTS(),
		}, pkt.U)
	default:
		// chat, file_offer, handshake and anything newer: relay to every
		// other session, re-encrypted per destination, never back to the
		// sender.
		r.broadcast(m, pkt.U)
	}
}

// broadcast seals m for each session except exclude and drops sessions
// whose sends fail.
func (r *Relay) broadcast(m *wire.Message, exclude string) {
	type dest struct {
		username string
		sess     *session
	}
	r.mu.Lock()
	dests := make([]dest, 0, len(r.sessions))
	for u, s := range r.sessions {
		if u == exclude {
			continue
		}
		dests = append(dests, dest{u, s})
	}
	r.mu.Unlock()

	for _, d := range dests {
		if !r.sendTo(d.username, d.sess, m) {
			r.dropSession(d.username)
		}
	}
}

func (r *Relay) sendTo(username string, sess *session, m *wire.Message) bool {
	pkt, err := wire.SealPacket(username, m, sess.key)
	if err != nil {
		r.log.Warningf("seal for %q: %v", username, err)
		return false
	}
	if _, err := r.pc.WriteToUDP(pkt, sess.addr); err != nil {
		r.log.Warningf("send to %q at %v: %v", username, sess.addr, err)
		return false
	}
	return true
}

func (r *Relay) sendPlain(addr *net.UDPAddr, m *wire.Message) {
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	_, _ = r.pc.WriteToUDP(b, addr)
}

func (r *Relay) sweepLoop() {
	t := time.NewTicker(r.cfg.Limits.SessionSweep())
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			r.sweepStale(now)
		case <-r.quit:
			return
		}
	}
}

func (r *Relay) sweepStale(now time.Time) {
	ttl := r.cfg.Limits.SessionTTL()
	r.mu.Lock()
	defer r.mu.Unlock()
	for u, s := range r.sessions {
		if now.Sub(s.lastSeen) > ttl {
			delete(r.sessions, u)
			r.log.Noticef("evicting stale session for %q", u)
		}
	}
}

func nowTS() float64 {
	return float64(time.Now().UnixMilli()) / 1000.0
}
