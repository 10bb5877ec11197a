package udp

import (
	"net"
	"time"
)

// session is one user's unordered-transport state. The address tracks the
// latest packet source, so a roaming client is followed transparently.
type session struct {
	addr     *net.UDPAddr
	key      []byte
	lastSeen time.Time
}

// touchSession refreshes the session for username, creating one when the
// user has a persisted key. A nil session with nil error means the user is
// unknown to the key store (not yet authenticated over the reliable
// transport). fresh reports a newly created session.
func (r *Relay) touchSession(username string, addr *net.UDPAddr) (s *session, fresh bool, err error) {
	r.mu.Lock()
	if existing, ok := r.sessions[username]; ok {
		if !sameAddr(existing.addr, addr) {
			r.log.Debugf("%q moved %v -> %v", username, existing.addr, addr)
		}
		existing.addr = addr
		existing.lastSeen = time.Now()
		r.mu.Unlock()
		return existing, false, nil
	}
	r.mu.Unlock()

	// Key lookup hits the shared file store; keep it outside the lock.
	key, ok, err := r.keys.Get(username)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[username]; ok {
		existing.addr = addr
		existing.lastSeen = time.Now()
		return existing, false, nil
	}
	s = &session{addr: addr, key: key, lastSeen: time.Now()}
	r.sessions[username] = s
	return s, true, nil
}

// dropSession is idempotent.
func (r *Relay) dropSession(username string) {
	r.mu.Lock()
	delete(r.sessions, username)
	r.mu.Unlock()
}

// sessionCount is used by the sweeper log line and tests.
func (r *Relay) sessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func sameAddr(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
