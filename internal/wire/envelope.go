package wire

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrDecrypt is returned when an envelope tag fails to verify. The
	// message is dropped; the connection is not.
	ErrDecrypt = errors.New("wire: decryption failed")

	// ErrNoKey is returned when an encrypted envelope arrives before a
	// session key exists.
	ErrNoKey = errors.New("wire: no session key for encrypted payload")
)

// Envelope is the encrypted frame body: nonce, tag and ciphertext, all
// base64. Enc is false for plaintext bootstrap bodies.
type Envelope struct {
	Enc bool   `json:"enc,omitempty"`
	N   string `json:"n,omitempty"`
	T   string `json:"t,omitempty"`
	C   string `json:"c,omitempty"`
}

// Seal serialises m and, when key is non-nil, encrypts it into a framed
// Envelope with a fresh random nonce. A nil key degrades to a plaintext
// frame; that path is for the authentication handshake only.
func Seal(m *Message, key []byte) ([]byte, error) {
	if key == nil {
		return Encode(m)
	}
	env, err := sealEnvelope(m, key)
	if err != nil {
		return nil, err
	}
	return Encode(env)
}

// Open parses a frame body into a Message, decrypting it when enveloped.
// Plaintext bodies pass through regardless of key, for the handshake.
func Open(body, key []byte) (*Message, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("wire: malformed frame body: %w", err)
	}
	if !env.Enc {
		var m Message
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("wire: malformed message: %w", err)
		}
		return &m, nil
	}
	if key == nil {
		return nil, ErrNoKey
	}
	return openEnvelope(&env, key)
}

// Sealed reports whether a frame body is an encrypted envelope. Receivers
// that have completed the handshake use it to refuse plaintext payloads.
func Sealed(body []byte) bool {
	var env Envelope
	return json.Unmarshal(body, &env) == nil && env.Enc
}

// Packet is the unordered-transport datagram: the sender's username in the
// clear (the relay needs it to find a key before decrypting) plus the
// envelope fields.
type Packet struct {
	U string `json:"u"`
	N string `json:"n,omitempty"`
	T string `json:"t,omitempty"`
	C string `json:"c,omitempty"`
}

// SealPacket encrypts m under key and wraps it in a datagram stamped with
// username.
func SealPacket(username string, m *Message, key []byte) ([]byte, error) {
	env, err := sealEnvelope(m, key)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Packet{U: username, N: env.N, T: env.T, C: env.C})
}

// ParsePacket decodes the outer datagram without touching the ciphertext.
func ParsePacket(b []byte) (*Packet, error) {
	var p Packet
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("wire: malformed packet: %w", err)
	}
	return &p, nil
}

// Open decrypts the packet's payload under key.
func (p *Packet) Open(key []byte) (*Message, error) {
	return openEnvelope(&Envelope{Enc: true, N: p.N, T: p.T, C: p.C}, key)
}

func sealEnvelope(m *Message, key []byte) (*Envelope, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("wire: seal: %w", err)
	}
	// A fresh random nonce per seal; reuse under one key breaks the AEAD.
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("wire: nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, body, nil)
	split := len(sealed) - aead.Overhead()
	return &Envelope{
		Enc: true,
		N:   base64.StdEncoding.EncodeToString(nonce),
		T:   base64.StdEncoding.EncodeToString(sealed[split:]),
		C:   base64.StdEncoding.EncodeToString(sealed[:split]),
	}, nil
}

func openEnvelope(env *Envelope, key []byte) (*Message, error) {
	if key == nil {
		return nil, ErrNoKey
	}
	nonce, err := base64.StdEncoding.DecodeString(env.N)
	if err != nil {
		return nil, ErrDecrypt
	}
	tag, err := base64.StdEncoding.DecodeString(env.T)
	if err != nil {
		return nil, ErrDecrypt
	}
	ct, err := base64.StdEncoding.DecodeString(env.C)
	if err != nil {
		return nil, ErrDecrypt
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("wire: open: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, ErrDecrypt
	}
	plain, err := aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	var m Message
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, fmt.Errorf("wire: malformed sealed message: %w", err)
	}
	return &m, nil
}
