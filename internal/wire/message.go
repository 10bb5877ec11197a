package wire

// Message type strings. The set is closed; handlers switch exhaustively on
// these constants and fall through to a relay/ignore default for anything
// a newer peer might send.
const (
	TypeAuthBegin = "auth_begin"
	TypeAuthSalt  = "auth_salt"
	TypeAuthProof = "auth_proof"
	TypeAuthOK    = "auth_ok"
	TypeAuthError = "auth_error"

	TypeChat   = "chat"
	TypeSystem = "system"
	TypeRoster = "roster"

	TypeFileOffer = "file_offer"
	TypeOfferAck  = "offer_ack"
	TypeFileGet   = "file_get"
	TypeFileFetch = "file_fetch"
	TypeFileChunk = "file_chunk"
	TypeFilePush  = "file_push"
	TypeProgress  = "progress"

	TypeHandshake = "handshake"
	TypeHello     = "hello"
	TypePing      = "ping"
	TypeBye       = "bye"
)

// File request modes.
const (
	ModeDownload = "download"
	ModePreview  = "preview"
)

// Message is the single wire payload type, discriminated by Type. Unused
// fields are omitted from the JSON encoding, so every variant shares this
// one struct without bloating frames.
type Message struct {
	Type string `json:"type"`

	// Authentication.
	Username    string `json:"username,omitempty"`
	Mode        string `json:"mode,omitempty"`         // auth_salt: "register" | "login"; file_get: download | preview
	Salt        string `json:"salt,omitempty"`         // base64 credential salt
	PwHash      string `json:"pw_hash,omitempty"`      // base64 password proof
	SessionSalt string `json:"session_salt,omitempty"` // base64, auth_ok only
	UDPKey      string `json:"udp_key,omitempty"`      // base64 unordered-transport key
	UDPPort     int    `json:"udp_port,omitempty"`

	// Chat / system / roster.
	Text   string   `json:"text,omitempty"`
	Sender string   `json:"sender,omitempty"`
	TS     float64  `json:"ts,omitempty"` // unix seconds
	Users  []string `json:"users,omitempty"`

	// File transfer.
	Filename  string `json:"filename,omitempty"`
	Size      int64  `json:"size,omitempty"`
	InlineB64 string `json:"inline_b64,omitempty"`
	ThumbB64  string `json:"thumb_b64,omitempty"`
	Nonce     string `json:"nonce,omitempty"` // sender-chosen ack correlation token
	OfferID   string `json:"offer_id,omitempty"`
	DataB64   string `json:"data_b64,omitempty"`
	EOF       bool   `json:"eof,omitempty"`
	Bytes     int64  `json:"bytes,omitempty"` // progress: bytes relayed so far
}
