package transaction

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/message"
)

var (
	ErrUnmatched = errors.New("no matching transaction")
	ErrTimeout   = errors.New("transaction timed out")
)

// State of a transaction. Client INVITE runs Calling, Proceeding,
// Completed, Terminated. Client non-INVITE runs Trying, Completed,
// Terminated. Server INVITE adds Confirmed once the ACK arrives.
type State int

const (
	Calling State = iota
	Trying
	Proceeding
	Completed
	Confirmed
	Terminated
)

func (s State) String() string {
	switch s {
	case Calling:
		return "Calling"
	case Trying:
		return "Trying"
	case Proceeding:
		return "Proceeding"
	case Completed:
		return "Completed"
	case Confirmed:
		return "Confirmed"
	case Terminated:
		return "Terminated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Kind int

const (
	ClientInvite Kind = iota
	ClientNonInvite
	ServerInvite
	ServerNonInvite
)

func (k Kind) String() string {
	switch k {
	case ClientInvite:
		return "ClientInvite"
	case ClientNonInvite:
		return "ClientNonInvite"
	case ServerInvite:
		return "ServerInvite"
	case ServerNonInvite:
		return "ServerNonInvite"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Key identifies a transaction: method plus Via branch.
type Key struct {
	Method message.Method
	Branch string
}

func (k Key) String() string {
	return string(k.Method) + "/" + k.Branch
}

// Transport sends a message to a peer. Implemented by the signaling stack.
type Transport interface {
	Send(msg *message.Message, dest *net.UDPAddr) error
}

type Transaction struct {
	key      Key
	kind     Kind
	state    State
	request  *message.Message
	response *message.Message
	ack      *message.Message
	dest     *net.UDPAddr
	cseq     uint32

	retransmits    int
	interval       time.Duration
	nextRetransmit time.Time
	expiry         time.Time
}

func (tx *Transaction) Key() Key                    { return tx.key }
func (tx *Transaction) Kind() Kind                  { return tx.kind }
func (tx *Transaction) State() State                { return tx.state }
func (tx *Transaction) Request() *message.Message   { return tx.request }
func (tx *Transaction) Response() *message.Message  { return tx.response }
func (tx *Transaction) Dest() *net.UDPAddr          { return tx.dest }
func (tx *Transaction) Retransmits() int            { return tx.retransmits }
func (tx *Transaction) NextRetransmit() time.Time   { return tx.nextRetransmit }
func (tx *Transaction) Expiry() time.Time           { return tx.expiry }
func (tx *Transaction) IsClient() bool              { return tx.kind == ClientInvite || tx.kind == ClientNonInvite }
func (tx *Transaction) IsInvite() bool              { return tx.kind == ClientInvite || tx.kind == ServerInvite }
func (tx *Transaction) IsTerminated() bool          { return tx.state == Terminated }
func (tx *Transaction) String() string              { return tx.kind.String() + " " + tx.key.String() + " " + tx.state.String() }

// Result is what OnResponse hands to the transaction user.
type Result struct {
	Transaction *Transaction
	Response    *message.Message
	Final       bool
	// Duplicate marks a retransmitted response absorbed in Completed.
	Duplicate bool
}

// Disposition tells the caller of OnRequest what to do with a request.
type Disposition int

const (
	// New requests are passed to the transaction user.
	New Disposition = iota
	// Retransmission was absorbed; the last response, if any, was resent.
	Retransmission
	// Acknowledged means an ACK confirmed an INVITE server transaction.
	Acknowledged
)

// TimeoutError is reported once for a transaction whose retry budget or
// absolute deadline ran out.
type TimeoutError struct {
	Key     Key
	Kind    Kind
	Request *message.Message
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Key, ErrTimeout)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}
