package tcp

import (
	"sort"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/Codeblinders/Chat-App/internal/wire"
)

// registry owns the live connection set and the authenticated roster. Other
// components hold connection ids, not handles; a cleared entry is a lookup
// miss rather than a dangling reference.
type registry struct {
	log *logging.Logger

	mu     sync.Mutex
	conns  map[string]*conn
	roster map[string]string // username -> conn id
}

func newRegistry(log *logging.Logger) *registry {
	return &registry{
		log:    log,
		conns:  make(map[string]*conn),
		roster: make(map[string]string),
	}
}

func (r *registry) add(c *conn) {
	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()
}

// remove drops c and returns the roster name it held, or "". Removing a
// connection twice is a no-op.
func (r *registry) remove(c *conn) string {
	r.mu.Lock()
	_, present := r.conns[c.id]
	delete(r.conns, c.id)
	var name string
	if present {
		if u := c.user(); u != "" && r.roster[u] == c.id {
			delete(r.roster, u)
			name = u
		}
	}
	r.mu.Unlock()
	c.close()
	return name
}

// authenticate binds username and key to c and adds it to the roster.
func (r *registry) authenticate(c *conn, username string, key []byte) {
	c.bind(username, key)
	r.mu.Lock()
	r.roster[username] = c.id
	r.mu.Unlock()
}

func (r *registry) get(id string) (*conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *registry) snapshot() []*conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// rosterNames returns the full sorted username list; broadcasts always carry
// the whole roster, never a diff.
func (r *registry) rosterNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.roster))
	for u := range r.roster {
		names = append(names, u)
	}
	sort.Strings(names)
	return names
}

// broadcast fans m out to every authenticated connection except excludeID.
// Unauthenticated connections are skipped: they hold no session key, and
// nothing but the handshake may travel plaintext. A connection that cannot
// accept the frame is closed; its reader performs cleanup.
func (r *registry) broadcast(m *wire.Message, excludeID string) {
	for _, c := range r.snapshot() {
		if c.id == excludeID || c.user() == "" {
			continue
		}
		if err := c.trySend(m); err != nil {
			r.log.Debugf("conn %s: dropping on failed broadcast", c.id)
			c.close()
		}
	}
}
