package tcp

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/Codeblinders/Chat-App/internal/config"
	"github.com/Codeblinders/Chat-App/internal/wire"
)

// offer is one announced file. senderConn is a registry id and is cleared
// when the originating connection goes away; a cached offer stays servable
// without it.
type offer struct {
	id         string
	filename   string
	size       int64
	sender     string
	senderConn string
	inline     []byte // retained only until first persisted to cache
	thumb      string
	cachePath  string
	created    time.Time
}

// stream is the ephemeral fan-out state while an offer's bytes are relayed
// live from the sender. The cache path is promoted to the offer only once
// the terminal chunk lands, so a half-written file is never served.
type stream struct {
	receivers map[string]struct{}
	bytes     int64
	chunks    int
	cache     *os.File
	cachePath string
}

// coordinator owns the offer table and the active streams.
type coordinator struct {
	log *logging.Logger
	cfg *config.Config
	reg *registry

	mu      sync.Mutex
	offers  map[string]*offer
	streams map[string]*stream
	nextID  uint64

	quit chan struct{}
	once sync.Once
}

func newCoordinator(log *logging.Logger, cfg *config.Config, reg *registry) *coordinator {
	return &coordinator{
		log:     log,
		cfg:     cfg,
		reg:     reg,
		offers:  make(map[string]*offer),
		streams: make(map[string]*stream),
		quit:    make(chan struct{}),
	}
}

// run sweeps expired offers until halt.
func (co *coordinator) run() {
	t := time.NewTicker(co.cfg.Limits.OfferSweep())
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			co.sweepExpired(now)
		case <-co.quit:
			return
		}
	}
}

func (co *coordinator) halt() {
	co.once.Do(func() { close(co.quit) })
}

// create registers a new offer from c, acks the sender when it supplied a
// correlation nonce, and announces the offer to everyone else.
func (co *coordinator) create(c *conn, m *wire.Message) {
	filename := filepath.Base(m.Filename)
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		_ = c.send(&wire.Message{Type: wire.TypeSystem, Text: "Invalid filename."})
		return
	}
	if m.Size <= 0 || m.Size > co.cfg.Limits.MaxFileBytes {
		_ = c.send(&wire.Message{Type: wire.TypeSystem, Text: "File size out of bounds."})
		return
	}

	var inline []byte
	if m.InlineB64 != "" && m.Size <= co.cfg.Limits.InlineLimit {
		if data, err := base64.StdEncoding.DecodeString(m.InlineB64); err == nil {
			inline = data
		}
	}

	co.mu.Lock()
	co.nextID++
	off := &offer{
		id:       strconv.FormatUint(co.nextID, 10),
		filename: filename,
		size:     m.Size,
		sender:   c.user(),
		thumb:    m.ThumbB64,
		created:  time.Now(),
	}
	if inline != nil {
		if path, err := co.writeCache(off.id, filename, inline); err == nil {
			off.cachePath = path
		} else {
			co.log.Warningf("offer %s: cache write: %v", off.id, err)
			off.inline = inline
		}
	} else {
		// Large offers stream on demand from the originating connection.
		off.senderConn = c.id
	}
	co.offers[off.id] = off
	co.mu.Unlock()

	if m.Nonce != "" {
		_ = c.send(&wire.Message{Type: wire.TypeOfferAck, OfferID: off.id, Nonce: m.Nonce})
	}
	co.reg.broadcast(&wire.Message{
		Type:     wire.TypeFileOffer,
		OfferID:  off.id,
		Filename: filename,
		Size:     off.size,
		Sender:   off.sender,
		ThumbB64: off.thumb,
	}, c.id)
	co.log.Noticef("offer %s: %q (%d bytes) from %s", off.id, filename, off.size, off.sender)
}

// request serves a file_get: from cache when possible, by inline push when
// the payload is still in memory, otherwise by opening an active stream
// against the original sender.
func (co *coordinator) request(c *conn, m *wire.Message) {
	mode := m.Mode
	if mode != wire.ModePreview {
		mode = wire.ModeDownload
	}

	co.mu.Lock()
	off, ok := co.offers[m.OfferID]
	if !ok {
		co.mu.Unlock()
		_ = c.send(&wire.Message{Type: wire.TypeSystem, Text: fmt.Sprintf("Offer %s not found.", m.OfferID)})
		return
	}

	if off.cachePath != "" {
		path, size, id := off.cachePath, off.size, off.id
		co.mu.Unlock()
		go co.serveCache(c, id, path, size)
		return
	}

	if off.inline != nil {
		data := off.inline
		if path, err := co.writeCache(off.id, off.filename, data); err == nil {
			off.cachePath = path
			off.inline = nil
		}
		push := &wire.Message{
			Type:     wire.TypeFilePush,
			OfferID:  off.id,
			Filename: off.filename,
			Size:     off.size,
			Mode:     mode,
			Sender:   off.sender,
			DataB64:  base64.StdEncoding.EncodeToString(data),
		}
		co.mu.Unlock()
		_ = c.send(push)
		return
	}

	if st, active := co.streams[off.id]; active {
		// Join the in-flight stream; the joiner gets the remaining chunks.
		st.receivers[c.id] = struct{}{}
		co.mu.Unlock()
		return
	}

	sender, reachable := co.reg.get(off.senderConn)
	if off.senderConn == "" || !reachable {
		off.senderConn = ""
		co.mu.Unlock()
		_ = c.send(&wire.Message{Type: wire.TypeSystem, Text: "Transfer cannot proceed: sender unavailable."})
		return
	}

	st := &stream{receivers: map[string]struct{}{c.id: {}}}
	if f, path, err := co.createCache(off.id, off.filename); err == nil {
		st.cache = f
		st.cachePath = path
	} else {
		co.log.Warningf("offer %s: cache open: %v", off.id, err)
	}
	co.streams[off.id] = st
	co.mu.Unlock()

	if err := sender.trySend(&wire.Message{Type: wire.TypeFileFetch, OfferID: off.id, Mode: mode}); err != nil {
		_ = c.send(&wire.Message{Type: wire.TypeSystem, Text: "Failed to reach sender for streaming."})
		co.mu.Lock()
		if st := co.streams[off.id]; st != nil {
			if st.cache != nil {
				_ = st.cache.Close()
			}
			delete(co.streams, off.id)
		}
		co.mu.Unlock()
	}
}

// chunk ingests a file_chunk from the offer's originating connection:
// append to cache, relay verbatim to every receiver, throttle progress, and
// tear the stream down on the terminal empty chunk.
func (co *coordinator) chunk(c *conn, m *wire.Message) {
	co.mu.Lock()
	st := co.streams[m.OfferID]
	off := co.offers[m.OfferID]
	if st == nil || off == nil {
		co.mu.Unlock()
		return
	}
	if off.senderConn != "" && off.senderConn != c.id {
		co.mu.Unlock()
		return
	}

	var data []byte
	if m.DataB64 != "" {
		data, _ = base64.StdEncoding.DecodeString(m.DataB64)
	}
	if len(data) > 0 {
		if st.cache != nil {
			if _, err := st.cache.Write(data); err != nil {
				co.log.Warningf("offer %s: cache append: %v", m.OfferID, err)
				_ = st.cache.Close()
				st.cache = nil
				st.cachePath = ""
			}
		}
		st.bytes += int64(len(data))
		st.chunks++
	}

	receivers := make([]string, 0, len(st.receivers))
	for id := range st.receivers {
		receivers = append(receivers, id)
	}
	relayed, size := st.bytes, off.size
	progressDue := len(data) > 0 && st.chunks%co.cfg.Limits.ProgressChunks == 0

	if m.EOF {
		if st.cache != nil {
			_ = st.cache.Close()
			off.cachePath = st.cachePath
		}
		delete(co.streams, m.OfferID)
	}
	co.mu.Unlock()

	if len(data) > 0 {
		co.fanOut(m.OfferID, receivers, &wire.Message{
			Type:    wire.TypeFileChunk,
			OfferID: m.OfferID,
			DataB64: m.DataB64,
		})
	}
	if progressDue {
		co.fanOut(m.OfferID, receivers, &wire.Message{
			Type:    wire.TypeProgress,
			OfferID: m.OfferID,
			Bytes:   relayed,
			Size:    size,
		})
	}
	if m.EOF {
		co.fanOut(m.OfferID, receivers, &wire.Message{
			Type:    wire.TypeFileChunk,
			OfferID: m.OfferID,
			EOF:     true,
		})
		co.log.Noticef("offer %s: stream complete, %d bytes relayed", m.OfferID, relayed)
	}
}

// fanOut relays m to each receiver id; a failed receiver is closed and
// removed from the stream.
func (co *coordinator) fanOut(offerID string, receivers []string, m *wire.Message) {
	for _, id := range receivers {
		r, ok := co.reg.get(id)
		if !ok {
			co.dropReceiver(offerID, id)
			continue
		}
		if err := r.trySend(m); err != nil {
			r.close()
			co.dropReceiver(offerID, id)
		}
	}
}

func (co *coordinator) dropReceiver(offerID, connID string) {
	co.mu.Lock()
	if st := co.streams[offerID]; st != nil {
		delete(st.receivers, connID)
	}
	co.mu.Unlock()
}

// dropConn releases every reference the coordinator holds to a departed
// connection: receiver slots and offer origins. Cached offers stay servable.
func (co *coordinator) dropConn(connID string) {
	co.mu.Lock()
	defer co.mu.Unlock()
	for _, st := range co.streams {
		delete(st.receivers, connID)
	}
	for _, off := range co.offers {
		if off.senderConn == connID {
			off.senderConn = ""
		}
	}
}

// sweepExpired unconditionally removes offers older than the TTL. In-flight
// streams for an expired offer are abandoned with a best-effort cache close.
func (co *coordinator) sweepExpired(now time.Time) {
	ttl := co.cfg.Limits.OfferTTL()
	co.mu.Lock()
	defer co.mu.Unlock()
	for id, off := range co.offers {
		if now.Sub(off.created) <= ttl {
			continue
		}
		delete(co.offers, id)
		if st := co.streams[id]; st != nil {
			if st.cache != nil {
				_ = st.cache.Close()
			}
			delete(co.streams, id)
		}
		co.log.Debugf("offer %s: expired", id)
	}
}

// serveCache streams a cached offer to a single requester, throttling
// progress notices and terminating with an empty eof chunk. The blocking
// send paces the read to the receiver's drain rate.
func (co *coordinator) serveCache(c *conn, offerID, path string, size int64) {
	f, err := os.Open(path)
	if err != nil {
		_ = c.send(&wire.Message{Type: wire.TypeSystem, Text: fmt.Sprintf("Cache read error for offer %s.", offerID)})
		return
	}
	defer f.Close()

	buf := make([]byte, co.cfg.Limits.ChunkSize)
	var sent int64
	var chunks int
	for {
		n, err := f.Read(buf)
		if n > 0 {
			msg := &wire.Message{
				Type:    wire.TypeFileChunk,
				OfferID: offerID,
				DataB64: base64.StdEncoding.EncodeToString(buf[:n]),
			}
			if serr := c.send(msg); serr != nil {
				return
			}
			sent += int64(n)
			chunks++
			if chunks%co.cfg.Limits.ProgressChunks == 0 {
				_ = c.send(&wire.Message{Type: wire.TypeProgress, OfferID: offerID, Bytes: sent, Size: size})
			}
		}
		if err == io.EOF {
			_ = c.send(&wire.Message{Type: wire.TypeFileChunk, OfferID: offerID, EOF: true})
			return
		}
		if err != nil {
			_ = c.send(&wire.Message{Type: wire.TypeSystem, Text: fmt.Sprintf("Cache read error for offer %s.", offerID)})
			return
		}
	}
}

func (co *coordinator) cacheFilePath(offerID, filename string) string {
	return filepath.Join(co.cfg.Server.CacheDir, offerID+"_"+filename)
}

func (co *coordinator) writeCache(offerID, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(co.cfg.Server.CacheDir, 0o700); err != nil {
		return "", err
	}
	path := co.cacheFilePath(offerID, filename)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func (co *coordinator) createCache(offerID, filename string) (*os.File, string, error) {
	if err := os.MkdirAll(co.cfg.Server.CacheDir, 0o700); err != nil {
		return nil, "", err
	}
	path := co.cacheFilePath(offerID, filename)
	f, err := os.Create(path)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}
