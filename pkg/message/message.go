package message

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Method is a SIP request method.
type Method string

const (
	REGISTER Method = "REGISTER"
	INVITE   Method = "INVITE"
	ACK      Method = "ACK"
	BYE      Method = "BYE"
	OPTIONS  Method = "OPTIONS"
	CANCEL   Method = "CANCEL"
)

// Known reports whether m is one of the methods this endpoint implements.
func (m Method) Known() bool {
	switch m {
	case REGISTER, INVITE, ACK, BYE, OPTIONS, CANCEL:
		return true
	}
	return false
}

func (m Method) String() string {
	return string(m)
}

// Kind tells requests and responses apart.
type Kind int

const (
	Request Kind = iota
	Response
)

func (k Kind) String() string {
	switch k {
	case Request:
		return "Request"
	case Response:
		return "Response"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Header is one header line. Names keep the case they were received or
// built with.
type Header struct {
	Name  string
	Value string
}

// Message is an immutable SIP request or response. Use Parse or a Builder
// to obtain one.
type Message struct {
	kind    Kind
	method  Method
	uri     string
	status  int
	reason  string
	headers []Header
	body    []byte
}

func (m *Message) Kind() Kind           { return m.kind }
func (m *Message) IsRequest() bool      { return m.kind == Request }
func (m *Message) IsResponse() bool     { return m.kind == Response }
func (m *Message) Method() Method       { return m.method }
func (m *Message) RequestURI() string   { return m.uri }
func (m *Message) StatusCode() int      { return m.status }
func (m *Message) Reason() string       { return m.reason }
func (m *Message) Body() []byte         { return m.body }
func (m *Message) IsProvisional() bool  { return m.kind == Response && m.status < 200 }
func (m *Message) IsSuccess() bool      { return m.kind == Response && m.status >= 200 && m.status < 300 }
func (m *Message) IsFinal() bool        { return m.kind == Response && m.status >= 200 }
func (m *Message) HeaderList() []Header { return append([]Header(nil), m.headers...) }

// Header returns the value of the first header called name.
func (m *Message) Header(name string) (string, bool) {
	for _, h := range m.headers {
		if sameHeader(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Headers returns every value of name, in message order.
func (m *Message) Headers(name string) []string {
	var values []string
	for _, h := range m.headers {
		if sameHeader(h.Name, name) {
			values = append(values, h.Value)
		}
	}
	return values
}

func (m *Message) CallID() string {
	v, _ := m.Header("Call-ID")
	return v
}

// CSeq returns the sequence number and method of the CSeq header.
func (m *Message) CSeq() (uint32, Method, error) {
	v, ok := m.Header("CSeq")
	if !ok {
		return 0, "", fmt.Errorf("missing CSeq header")
	}
	fields := strings.Fields(v)
	if len(fields) != 2 {
		return 0, "", fmt.Errorf("invalid CSeq %q", v)
	}
	seq, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("invalid CSeq number %q", fields[0])
	}
	return uint32(seq), Method(fields[1]), nil
}

// Via returns the topmost Via hop.
func (m *Message) Via() string {
	v, _ := m.Header("Via")
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return v
}

func (m *Message) ViaBranch() string {
	b, _ := Param(m.Via(), "branch")
	return b
}

func (m *Message) From() string {
	v, _ := m.Header("From")
	return v
}

func (m *Message) To() string {
	v, _ := m.Header("To")
	return v
}

func (m *Message) FromTag() string {
	t, _ := Param(m.From(), "tag")
	return t
}

func (m *Message) ToTag() string {
	t, _ := Param(m.To(), "tag")
	return t
}

// ContactURI is the URI of the first Contact, or "" when absent.
func (m *Message) ContactURI() string {
	v, ok := m.Header("Contact")
	if !ok {
		return ""
	}
	return AddressURI(v)
}

// Expires returns the Expires header in seconds.
func (m *Message) Expires() (int, bool) {
	v, ok := m.Header("Expires")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (m *Message) ContentType() string {
	v, _ := m.Header("Content-Type")
	return v
}

// Bytes serializes the message. Header order is kept and Content-Length
// always states the exact body length.
func (m *Message) Bytes() []byte {
	var b bytes.Buffer
	if m.kind == Request {
		fmt.Fprintf(&b, "%s %s SIP/2.0\r\n", m.method, m.uri)
	} else {
		fmt.Fprintf(&b, "SIP/2.0 %d %s\r\n", m.status, m.reason)
	}
	length := false
	for _, h := range m.headers {
		if sameHeader(h.Name, "Content-Length") {
			fmt.Fprintf(&b, "%s: %d\r\n", h.Name, len(m.body))
			length = true
			continue
		}
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	if !length {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(m.body))
	}
	b.WriteString("\r\n")
	b.Write(m.body)
	return b.Bytes()
}

func (m *Message) String() string {
	return string(m.Bytes())
}

// Short is a one-line summary for logs.
func (m *Message) Short() string {
	seq, method, _ := m.CSeq()
	if m.kind == Request {
		return fmt.Sprintf("%s %s (cseq=%d call-id=%s)", m.method, m.uri, seq, m.CallID())
	}
	return fmt.Sprintf("%d %s (cseq=%d %s call-id=%s)", m.status, m.reason, seq, method, m.CallID())
}
