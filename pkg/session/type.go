package session

const (
	AllowedMethods = "INVITE, ACK, CANCEL, BYE, OPTIONS"
	AcceptedBody   = "application/sdp"
	MaxForwards    = 70
)

// Status is the call state of the single line.
type Status string

const (
	Idle         Status = "Idle"         /**< No dialog. */
	Calling      Status = "Calling"      /**< INVITE sent, no final response yet. */
	RingingLocal Status = "RingingLocal" /**< INVITE received, 180 sent, waiting for the user. */
	Active       Status = "Active"       /**< 2xx sent or received, media flowing. */
	Terminating  Status = "Terminating"  /**< BYE or CANCEL sent, waiting for it to complete. */
)

type Direction string

const (
	Outgoing Direction = "Outgoing"
	Incoming Direction = "Incoming"
)

const (
	UAC = "UAC"
	UAS = "UAS"
)

// Origin describes how this UA appears in requests it sends.
type Origin struct {
	// SentBy is the host:port placed in Via.
	SentBy string
	// Contact is the full Contact header value.
	Contact string
	// UserAgent is the User-Agent header value, empty for none.
	UserAgent string
}
