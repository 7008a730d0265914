package transaction

import (
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/message"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/metrics"
	"github.com/ghettovoice/gosip/log"
)

// Manager owns every client and server transaction. It is not safe for
// concurrent use: the signaling unit drives it from a single goroutine and
// passes the current time into each call.
type Manager struct {
	cfg       Config
	transport Transport
	client    map[Key]*Transaction
	server    map[Key]*Transaction
	log       log.Logger
}

func NewManager(transport Transport, cfg Config, logger log.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		transport: transport,
		client:    make(map[Key]*Transaction),
		server:    make(map[Key]*Transaction),
		log:       logger.WithPrefix("Transaction"),
	}
}

// Start sends req and tracks it as a client transaction.
func (m *Manager) Start(req *message.Message, dest *net.UDPAddr, now time.Time) (*Transaction, error) {
	if !req.IsRequest() || req.Method() == message.ACK {
		return nil, fmt.Errorf("start transaction: %s cannot open a client transaction", req.Short())
	}
	branch := req.ViaBranch()
	if branch == "" {
		return nil, fmt.Errorf("start transaction: missing Via branch in %s", req.Short())
	}
	key := Key{Method: req.Method(), Branch: branch}
	if _, found := m.client[key]; found {
		return nil, fmt.Errorf("start transaction: %s already exists", key)
	}

	tx := &Transaction{
		key:            key,
		kind:           ClientNonInvite,
		state:          Trying,
		request:        req,
		dest:           dest,
		interval:       m.cfg.T1,
		nextRetransmit: now.Add(m.cfg.T1),
		expiry:         now.Add(m.cfg.TimerB()),
	}
	if req.Method() == message.INVITE {
		tx.kind = ClientInvite
		tx.state = Calling
	}
	if err := m.transport.Send(req, dest); err != nil {
		return nil, fmt.Errorf("start transaction %s: %w", key, err)
	}
	m.client[key] = tx
	m.log.Debugf("%s started, dest %v", tx, dest)
	return tx, nil
}

// OnResponse matches resp to a client transaction by branch and CSeq
// method. Unmatched responses return ErrUnmatched and should be dropped.
func (m *Manager) OnResponse(resp *message.Message, now time.Time) (Result, error) {
	_, method, err := resp.CSeq()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnmatched, err)
	}
	key := Key{Method: method, Branch: resp.ViaBranch()}
	tx, found := m.client[key]
	if !found {
		return Result{}, fmt.Errorf("%w: response %s", ErrUnmatched, resp.Short())
	}

	switch tx.state {
	case Calling, Trying, Proceeding:
		tx.response = resp
		if resp.IsProvisional() {
			if tx.kind == ClientInvite {
				tx.state = Proceeding
				tx.nextRetransmit = time.Time{}
				tx.expiry = now.Add(m.cfg.ProceedingTimeout)
			}
			return Result{Transaction: tx, Response: resp}, nil
		}
		tx.state = Completed
		tx.nextRetransmit = time.Time{}
		switch {
		case tx.kind == ClientInvite && !resp.IsSuccess():
			tx.ack = buildAck(tx.request, resp)
			m.send(tx.ack, tx.dest)
			tx.expiry = now.Add(m.cfg.TimerB())
		case tx.kind == ClientInvite:
			tx.expiry = now.Add(m.cfg.TimerB())
		default:
			tx.expiry = now.Add(m.cfg.T4)
		}
		m.log.Debugf("%s final response %d", tx, resp.StatusCode())
		return Result{Transaction: tx, Response: resp, Final: true}, nil
	case Completed:
		if resp.IsFinal() && tx.ack != nil {
			m.send(tx.ack, tx.dest)
		}
		return Result{Transaction: tx, Response: resp, Final: resp.IsFinal(), Duplicate: true}, nil
	}
	return Result{}, fmt.Errorf("%w: %s is %s", ErrUnmatched, key, tx.state)
}

// OnRequest runs an inbound request through the server transactions.
// Duplicates are absorbed by branch and CSeq and answered with the last
// response sent. ACKs are matched to their INVITE transaction by branch, or
// by Call-ID and CSeq number for an ACK to a 2xx.
func (m *Manager) OnRequest(req *message.Message, src *net.UDPAddr, now time.Time) (*Transaction, Disposition, error) {
	seq, _, err := req.CSeq()
	if err != nil {
		return nil, New, fmt.Errorf("%w: %v", ErrUnmatched, err)
	}

	if req.Method() == message.ACK {
		tx := m.server[Key{Method: message.INVITE, Branch: req.ViaBranch()}]
		if tx == nil {
			tx = m.findInvite(req.CallID(), seq)
		}
		if tx == nil {
			return nil, New, fmt.Errorf("%w: ACK %s", ErrUnmatched, req.Short())
		}
		switch tx.state {
		case Completed:
			tx.state = Confirmed
			tx.nextRetransmit = time.Time{}
			tx.expiry = now.Add(m.cfg.T4)
			return tx, Acknowledged, nil
		case Confirmed:
			return tx, Retransmission, nil
		}
		return nil, New, fmt.Errorf("%w: ACK for %s", ErrUnmatched, tx)
	}

	key := Key{Method: req.Method(), Branch: req.ViaBranch()}
	if tx, found := m.server[key]; found && tx.cseq == seq {
		if tx.response != nil {
			m.send(tx.response, tx.dest)
			metrics.SIPRetransmissions.WithLabelValues(string(key.Method)).Inc()
		}
		m.log.Debugf("%s absorbed retransmission", tx)
		return tx, Retransmission, nil
	}

	tx := &Transaction{
		key:     key,
		kind:    ServerNonInvite,
		state:   Trying,
		request: req,
		dest:    src,
		cseq:    seq,
	}
	if req.Method() == message.INVITE {
		tx.kind = ServerInvite
		tx.state = Proceeding
	}
	m.server[key] = tx
	return tx, New, nil
}

// Respond sends resp on a server transaction. A final response to an
// INVITE is retransmitted until the ACK arrives or Timer H fires.
func (m *Manager) Respond(tx *Transaction, resp *message.Message, now time.Time) error {
	if tx.IsClient() {
		return fmt.Errorf("respond: %s is a client transaction", tx)
	}
	if tx.state == Completed || tx.state == Confirmed || tx.state == Terminated {
		return fmt.Errorf("respond: %s already answered", tx)
	}
	if err := m.transport.Send(resp, tx.dest); err != nil {
		return fmt.Errorf("respond %s: %w", tx.key, err)
	}
	tx.response = resp
	if resp.IsProvisional() {
		if tx.state == Trying {
			tx.state = Proceeding
		}
		return nil
	}
	tx.state = Completed
	tx.expiry = now.Add(m.cfg.TimerB())
	if tx.kind == ServerInvite {
		tx.interval = m.cfg.T1
		tx.nextRetransmit = now.Add(m.cfg.T1)
	}
	return nil
}

// Tick fires due retransmissions, reports expired transactions and reaps
// finished ones. Each timeout is reported exactly once.
func (m *Manager) Tick(now time.Time) []*TimeoutError {
	var failures []*TimeoutError
	for _, tx := range sorted(m.client) {
		if err := m.tickClient(tx, now); err != nil {
			failures = append(failures, err)
		}
	}
	for _, tx := range sorted(m.server) {
		if err := m.tickServer(tx, now); err != nil {
			failures = append(failures, err)
		}
	}
	return failures
}

func (m *Manager) tickClient(tx *Transaction, now time.Time) *TimeoutError {
	switch tx.state {
	case Calling, Trying, Proceeding:
		if !now.Before(tx.expiry) {
			return m.timeout(tx)
		}
		if tx.nextRetransmit.IsZero() || now.Before(tx.nextRetransmit) {
			return nil
		}
		limit := m.cfg.NonInviteRetransmits
		if tx.kind == ClientInvite {
			limit = m.cfg.InviteRetransmits
		}
		if tx.retransmits >= limit {
			return m.timeout(tx)
		}
		m.send(tx.request, tx.dest)
		tx.retransmits++
		metrics.SIPRetransmissions.WithLabelValues(string(tx.key.Method)).Inc()
		tx.interval *= 2
		if tx.kind == ClientNonInvite && tx.interval > m.cfg.T2 {
			tx.interval = m.cfg.T2
		}
		tx.nextRetransmit = now.Add(tx.interval)
		m.log.Debugf("%s retransmit #%d, next in %v", tx, tx.retransmits, tx.interval)
	case Completed:
		if !now.Before(tx.expiry) {
			m.terminate(tx)
		}
	}
	return nil
}

func (m *Manager) tickServer(tx *Transaction, now time.Time) *TimeoutError {
	switch tx.state {
	case Completed:
		if !now.Before(tx.expiry) {
			if tx.kind == ServerInvite {
				return m.timeout(tx)
			}
			m.terminate(tx)
			return nil
		}
		if tx.nextRetransmit.IsZero() || now.Before(tx.nextRetransmit) {
			return nil
		}
		m.send(tx.response, tx.dest)
		tx.retransmits++
		metrics.SIPRetransmissions.WithLabelValues(string(tx.key.Method)).Inc()
		tx.interval *= 2
		if tx.interval > m.cfg.T2 {
			tx.interval = m.cfg.T2
		}
		tx.nextRetransmit = now.Add(tx.interval)
	case Confirmed:
		if !now.Before(tx.expiry) {
			m.terminate(tx)
		}
	}
	return nil
}

// Terminate drops tx without reporting anything.
func (m *Manager) Terminate(tx *Transaction) {
	m.terminate(tx)
}

// Client looks up a live client transaction.
func (m *Manager) Client(key Key) (*Transaction, bool) {
	tx, ok := m.client[key]
	return tx, ok
}

// Len is the number of live transactions.
func (m *Manager) Len() int {
	return len(m.client) + len(m.server)
}

func (m *Manager) timeout(tx *Transaction) *TimeoutError {
	m.log.Warnf("%s timed out after %d retransmits", tx, tx.retransmits)
	metrics.SIPTimeouts.WithLabelValues(string(tx.key.Method)).Inc()
	m.terminate(tx)
	return &TimeoutError{Key: tx.key, Kind: tx.kind, Request: tx.request}
}

func (m *Manager) terminate(tx *Transaction) {
	tx.state = Terminated
	tx.nextRetransmit = time.Time{}
	if tx.IsClient() {
		delete(m.client, tx.key)
	} else {
		delete(m.server, tx.key)
	}
}

func (m *Manager) findInvite(callID string, seq uint32) *Transaction {
	for _, tx := range m.server {
		if tx.kind == ServerInvite && tx.cseq == seq && tx.request.CallID() == callID {
			return tx
		}
	}
	return nil
}

func (m *Manager) send(msg *message.Message, dest *net.UDPAddr) {
	if err := m.transport.Send(msg, dest); err != nil {
		m.log.Warnf("send %s to %v: %v", msg.Short(), dest, err)
	}
}

func sorted(txs map[Key]*Transaction) []*Transaction {
	out := make([]*Transaction, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].key.String() < out[j].key.String()
	})
	return out
}

// buildAck builds the ACK a client INVITE transaction sends for a non-2xx
// final response: same branch, To taken from the response.
func buildAck(req, resp *message.Message) *message.Message {
	seq, _, _ := req.CSeq()
	b := message.NewRequest(message.ACK, req.RequestURI()).
		AddHeader("Via", req.Via()).
		AddHeader("Max-Forwards", "70").
		AddHeader("From", req.From()).
		AddHeader("To", resp.To()).
		AddHeader("Call-ID", req.CallID()).
		AddHeader("CSeq", fmt.Sprintf("%d ACK", seq))
	for _, route := range req.Headers("Route") {
		b.AddHeader("Route", route)
	}
	return b.Build()
}
