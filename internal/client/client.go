package client

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"

	"github.com/Codeblinders/Chat-App/internal/config"
	"github.com/Codeblinders/Chat-App/internal/crypto"
	"github.com/Codeblinders/Chat-App/internal/log"
	"github.com/Codeblinders/Chat-App/internal/wire"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("client: closed")

	// ErrNotAuthenticated is returned when a payload operation is attempted
	// before the handshake completed; payloads never travel plaintext.
	ErrNotAuthenticated = errors.New("client: not authenticated")

	// ErrFileTooLarge is returned when a shared file exceeds the limit.
	ErrFileTooLarge = errors.New("client: file too large")
)

// Options configures a reliable-transport client.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string

	// DownloadDir defaults to downloads/<username> under the working
	// directory; PreviewDir defaults to the OS temp dir.
	DownloadDir string
	PreviewDir  string

	// LogBackend is optional; nil discards engine logs.
	LogBackend *log.Backend
}

// download tracks one in-flight file_chunk reassembly.
type download struct {
	f    *os.File
	path string
	mode string
}

// Client is the reliable-transport protocol engine.
type Client struct {
	opts   Options
	limits config.Limits
	log    *logging.Logger

	nc     net.Conn
	out    chan []byte
	done   chan struct{}
	events chan Event
	once   sync.Once
	wg     sync.WaitGroup

	mu        sync.Mutex
	key       []byte
	proof     []byte
	noncePath map[string]string // offer nonce -> local path, pre-ack
	offerPath map[string]string // offer id -> local path, post-ack
	rx        map[string]*download
	rxModes   map[string]string
	rxNames   map[string]string // offer id -> filename, kept for the offer's lifetime
}

// Dial connects and begins the handshake. Authentication progress arrives
// as events: auth failures as system events, success as a udp_key event
// followed by a system notice.
func Dial(opts Options) (*Client, error) {
	if opts.Username == "" {
		return nil, errors.New("client: username required")
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = filepath.Join("downloads", opts.Username)
	}
	if opts.PreviewDir == "" {
		opts.PreviewDir = os.TempDir()
	}
	backend := opts.LogBackend
	if backend == nil {
		var err error
		backend, err = log.New("", "NOTICE", true)
		if err != nil {
			return nil, err
		}
	}

	nc, err := net.Dial("tcp", net.JoinHostPort(opts.Host, fmt.Sprint(opts.Port)))
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}

	c := &Client{
		opts:      opts,
		limits:    config.Default().Limits,
		log:       backend.GetLogger("client"),
		nc:        nc,
		out:       make(chan []byte, 64),
		done:      make(chan struct{}),
		events:    make(chan Event, 128),
		noncePath: make(map[string]string),
		offerPath: make(map[string]string),
		rx:        make(map[string]*download),
		rxModes:   make(map[string]string),
		rxNames:   make(map[string]string),
	}
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()

	if err := c.sendPlain(&wire.Message{Type: wire.TypeAuthBegin, Username: opts.Username}); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Events is the inbound surface for the presentation layer.
func (c *Client) Events() <-chan Event { return c.events }

// Done is closed when the client shuts down.
func (c *Client) Done() <-chan struct{} { return c.done }

// SendChat broadcasts text to the room.
func (c *Client) SendChat(text string) error {
	if c.sessionKey() == nil {
		return ErrNotAuthenticated
	}
	return c.send(&wire.Message{Type: wire.TypeChat, Text: text})
}

// ShareFile announces path to the room. Small files ride inline with the
// offer; larger ones are announced with a correlation nonce and streamed on
// demand when the server fetches them.
func (c *Client) ShareFile(path, thumbB64 string) error {
	if c.sessionKey() == nil {
		return ErrNotAuthenticated
	}
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("client: share: %w", err)
	}
	size := fi.Size()
	if size > c.limits.MaxFileBytes {
		return ErrFileTooLarge
	}

	if size <= c.limits.InlineLimit {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("client: share: %w", err)
		}
		return c.send(&wire.Message{
			Type:      wire.TypeFileOffer,
			Filename:  filepath.Base(path),
			Size:      size,
			InlineB64: base64.StdEncoding.EncodeToString(data),
			ThumbB64:  thumbB64,
		})
	}

	nonce := uuid.NewString()
	c.mu.Lock()
	c.noncePath[nonce] = path
	c.mu.Unlock()
	return c.send(&wire.Message{
		Type:     wire.TypeFileOffer,
		Filename: filepath.Base(path),
		Size:     size,
		ThumbB64: thumbB64,
		Nonce:    nonce,
	})
}

// RequestFile asks for an offered file. mode is "download" or "preview".
func (c *Client) RequestFile(offerID, mode string) error {
	if c.sessionKey() == nil {
		return ErrNotAuthenticated
	}
	if mode != wire.ModePreview {
		mode = wire.ModeDownload
	}
	c.mu.Lock()
	c.rxModes[offerID] = mode
	c.mu.Unlock()
	return c.send(&wire.Message{Type: wire.TypeFileGet, OfferID: offerID, Mode: mode})
}

// Close says goodbye (best effort) and tears the connection down. It is
// idempotent.
func (c *Client) Close() error {
	c.once.Do(func() {
		if frame, err := wire.Seal(&wire.Message{Type: wire.TypeBye}, c.sessionKey()); err == nil {
			select {
			case c.out <- frame:
			default:
			}
		}
		close(c.done)
	})
	return nil
}

func (c *Client) sessionKey() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

func (c *Client) send(m *wire.Message) error {
	frame, err := wire.Seal(m, c.sessionKey())
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

func (c *Client) sendPlain(m *wire.Message) error {
	frame, err := wire.Encode(m)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

func (c *Client) enqueue(frame []byte) error {
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) writeLoop() {
	defer c.nc.Close()
	for {
		select {
		case frame := <-c.out:
			if _, err := c.nc.Write(frame); err != nil {
				return
			}
		case <-c.done:
			// Drain what was queued before the close (the goodbye).
			for {
				select {
				case frame := <-c.out:
					if _, err := c.nc.Write(frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Client) readLoop() {
	buf := make([]byte, 64<<10)
	var pending []byte
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				body, rest, ferr := wire.Decode(pending)
				if ferr != nil {
					c.emit(Event{Type: EventSystem, Text: "Protocol error; disconnecting."})
					c.Close()
					return
				}
				if body == nil {
					break
				}
				pending = rest
				c.handle(body)
			}
		}
		if err != nil {
			select {
			case <-c.done:
			default:
				c.emit(Event{Type: EventSystem, Text: "Disconnected."})
				c.Close()
			}
			return
		}
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// handle routes one inbound message. Per-message failures surface as
// system events and never abort the read loop.
func (c *Client) handle(body []byte) {
	m, err := wire.Open(body, c.sessionKey())
	if err != nil {
		c.log.Warningf("dropping inbound message: %v", err)
		return
	}

	switch m.Type {
	case wire.TypeAuthSalt:
		c.handleAuthSalt(m)
	case wire.TypeAuthOK:
		c.handleAuthOK(m)
	case wire.TypeAuthError:
		c.emit(Event{Type: EventSystem, Text: m.Text})
	case wire.TypeSystem:
		c.emit(Event{Type: EventSystem, Text: m.Text})
	case wire.TypeRoster:
		c.emit(Event{Type: EventRoster, Users: m.Users})
	case wire.TypeChat:
		c.emit(Event{Type: EventChat, Sender: m.Sender, Text: m.Text, TS: m.TS})
	case wire.TypeFileOffer:
		if m.OfferID != "" && m.Filename != "" {
			c.mu.Lock()
			c.rxNames[m.OfferID] = filepath.Base(m.Filename)
			c.mu.Unlock()
		}
		c.emit(Event{
			Type:     EventFileOffer,
			Sender:   m.Sender,
			Filename: m.Filename,
			Size:     m.Size,
			OfferID:  m.OfferID,
			ThumbB64: m.ThumbB64,
		})
	case wire.TypeOfferAck:
		c.handleOfferAck(m)
	case wire.TypeFileFetch:
		c.handleFileFetch(m)
	case wire.TypeFilePush:
		c.handleFilePush(m)
	case wire.TypeFileChunk:
		c.handleFileChunk(m)
	case wire.TypeProgress:
		c.emit(Event{Type: EventProgress, OfferID: m.OfferID, Bytes: m.Bytes, Size: m.Size})
	default:
		c.log.Debugf("ignoring inbound type %q", m.Type)
	}
}

func (c *Client) handleAuthSalt(m *wire.Message) {
	salt, err := base64.StdEncoding.DecodeString(m.Salt)
	if err != nil {
		c.emit(Event{Type: EventSystem, Text: "Malformed salt from server."})
		return
	}
	proof := crypto.PasswordProof(c.opts.Password, salt)
	c.mu.Lock()
	c.proof = proof
	c.mu.Unlock()
	_ = c.sendPlain(&wire.Message{
		Type:     wire.TypeAuthProof,
		Username: c.opts.Username,
		PwHash:   base64.StdEncoding.EncodeToString(proof),
	})
}

func (c *Client) handleAuthOK(m *wire.Message) {
	sessionSalt, err := base64.StdEncoding.DecodeString(m.SessionSalt)
	if err != nil {
		c.emit(Event{Type: EventSystem, Text: "Malformed auth_ok from server."})
		return
	}
	udpKey, err := base64.StdEncoding.DecodeString(m.UDPKey)
	if err != nil {
		c.emit(Event{Type: EventSystem, Text: "Malformed auth_ok from server."})
		return
	}

	c.mu.Lock()
	c.key = crypto.SessionKey(c.proof, sessionSalt)
	c.mu.Unlock()

	c.emit(Event{Type: EventUDPKey, Key: udpKey, Port: m.UDPPort})
	c.emit(Event{Type: EventSystem, Text: "Authentication success. Encryption ready."})
	// First sealed frame; confirms the derived key to the server.
	_ = c.send(&wire.Message{Type: wire.TypeHello})
}

func (c *Client) handleOfferAck(m *wire.Message) {
	c.mu.Lock()
	path, ok := c.noncePath[m.Nonce]
	if ok {
		delete(c.noncePath, m.Nonce)
		c.offerPath[m.OfferID] = path
	}
	c.mu.Unlock()
	c.emit(Event{Type: EventSystem, Text: "Offer acknowledged: " + m.OfferID})
}

func (c *Client) handleFileFetch(m *wire.Message) {
	c.mu.Lock()
	path, ok := c.offerPath[m.OfferID]
	c.mu.Unlock()
	if !ok {
		c.emit(Event{Type: EventSystem, Text: "Stream request for unknown offer " + m.OfferID})
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.streamOffer(m.OfferID, path)
	}()
}

// streamOffer feeds the server chunks for one of our offers, ending with
// the terminal empty eof chunk.
func (c *Client) streamOffer(offerID, path string) {
	f, err := os.Open(path)
	if err != nil {
		c.emit(Event{Type: EventSystem, Text: "Stream error: " + err.Error()})
		return
	}
	defer f.Close()

	buf := make([]byte, c.limits.ChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if serr := c.send(&wire.Message{
				Type:    wire.TypeFileChunk,
				OfferID: offerID,
				DataB64: base64.StdEncoding.EncodeToString(buf[:n]),
			}); serr != nil {
				return
			}
		}
		if err == io.EOF {
			_ = c.send(&wire.Message{Type: wire.TypeFileChunk, OfferID: offerID, EOF: true})
			return
		}
		if err != nil {
			c.emit(Event{Type: EventSystem, Text: "Stream error: " + err.Error()})
			return
		}
	}
}

func (c *Client) handleFilePush(m *wire.Message) {
	data, err := base64.StdEncoding.DecodeString(m.DataB64)
	if err != nil {
		c.emit(Event{Type: EventSystem, Text: "File payload corrupt for offer " + m.OfferID})
		return
	}
	path, err := c.destPath(filepath.Base(m.Filename), m.Mode)
	if err != nil {
		c.emit(Event{Type: EventSystem, Text: "File write error: " + err.Error()})
		return
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		c.emit(Event{Type: EventSystem, Text: "File write error: " + err.Error()})
		return
	}
	c.emitSaved(m.Mode, path)
}

func (c *Client) handleFileChunk(m *wire.Message) {
	c.mu.Lock()
	d, ok := c.rx[m.OfferID]
	if !ok {
		mode := c.rxModes[m.OfferID]
		name := c.rxNames[m.OfferID]
		if name == "" {
			name = m.OfferID + ".bin"
		}
		path, err := c.destPath(name, mode)
		if err == nil {
			var f *os.File
			f, err = os.Create(path)
			if err == nil {
				d = &download{f: f, path: path, mode: mode}
				c.rx[m.OfferID] = d
			}
		}
		if err != nil {
			c.mu.Unlock()
			c.emit(Event{Type: EventSystem, Text: "File open error: " + err.Error()})
			return
		}
	}
	c.mu.Unlock()

	if m.DataB64 != "" {
		data, err := base64.StdEncoding.DecodeString(m.DataB64)
		if err == nil {
			_, err = d.f.Write(data)
		}
		if err != nil {
			c.emit(Event{Type: EventSystem, Text: "Chunk write error for offer " + m.OfferID})
		}
	}
	if m.EOF {
		_ = d.f.Close()
		c.mu.Lock()
		delete(c.rx, m.OfferID)
		// rxNames stays: the offer remains requestable until it expires.
		c.mu.Unlock()
		c.emitSaved(d.mode, d.path)
	}
}

func (c *Client) destPath(filename, mode string) (string, error) {
	if mode == wire.ModePreview {
		return filepath.Join(c.opts.PreviewDir, "preview_"+filename), nil
	}
	if err := os.MkdirAll(c.opts.DownloadDir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(c.opts.DownloadDir, filename), nil
}

func (c *Client) emitSaved(mode, path string) {
	if mode == wire.ModePreview {
		c.emit(Event{Type: EventSystem, Text: "Preview saved: " + path})
	} else {
		c.emit(Event{Type: EventSystem, Text: "Downloaded: " + path})
	}
}

func nowTS() float64 {
	return float64(time.Now().UnixMilli()) / 1000.0
}
