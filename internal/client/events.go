package client

// Event types surfaced to the presentation layer. One event per inbound
// message, plus the synthetic udp_key event that hands the unordered
// transport's key to whichever component manages that transport.
const (
	EventSystem    = "system"
	EventRoster    = "roster"
	EventChat      = "chat"
	EventFileOffer = "file_offer"
	EventProgress  = "progress"
	EventUDPKey    = "udp_key"
)

// Event is the single shape delivered to front ends; unused fields are zero.
type Event struct {
	Type string

	Text   string   // system
	Users  []string // roster
	Sender string   // chat, file_offer
	TS     float64  // chat

	Filename string // file_offer
	Size     int64  // file_offer, progress
	OfferID  string // file_offer, progress
	ThumbB64 string // file_offer
	Bytes    int64  // progress

	Key  []byte // udp_key
	Port int    // udp_key
}
