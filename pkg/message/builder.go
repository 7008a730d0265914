package message

import (
	"sort"
	"strconv"
)

var headerOrder = []string{
	"via",
	"max-forwards",
	"from",
	"to",
	"call-id",
	"cseq",
	"contact",
	"expires",
	"authorization",
	"proxy-authorization",
	"www-authenticate",
	"proxy-authenticate",
	"allow",
	"accept",
	"supported",
	"user-agent",
	"content-type",
}

func headerRank(name string) int {
	c := canonical(name)
	for i, h := range headerOrder {
		if h == c {
			return i
		}
	}
	return len(headerOrder)
}

// Builder composes an outbound message. Build emits headers in a fixed
// order regardless of the order they were added in.
type Builder struct {
	msg Message
}

func NewRequest(method Method, uri string) *Builder {
	return &Builder{msg: Message{kind: Request, method: method, uri: uri}}
}

// NewResponse starts a response to req, copying its Via, From, To, Call-ID
// and CSeq headers. An empty reason takes the standard phrase.
func NewResponse(req *Message, code int, reason string) *Builder {
	if reason == "" {
		reason = ReasonPhrase(code)
	}
	b := &Builder{msg: Message{kind: Response, status: code, reason: reason}}
	for _, h := range req.headers {
		switch canonical(h.Name) {
		case "via", "from", "to", "call-id", "cseq":
			b.msg.headers = append(b.msg.headers, h)
		}
	}
	return b
}

// Edit starts a builder from a copy of m.
func Edit(m *Message) *Builder {
	c := *m
	c.headers = append([]Header(nil), m.headers...)
	c.body = append([]byte(nil), m.body...)
	return &Builder{msg: c}
}

func (b *Builder) AddHeader(name, value string) *Builder {
	b.msg.headers = append(b.msg.headers, Header{Name: name, Value: value})
	return b
}

// SetHeader replaces the first header called name and drops any others of
// that name. The header is added when absent.
func (b *Builder) SetHeader(name, value string) *Builder {
	out := b.msg.headers[:0]
	set := false
	for _, h := range b.msg.headers {
		if sameHeader(h.Name, name) {
			if set {
				continue
			}
			h.Value = value
			set = true
		}
		out = append(out, h)
	}
	b.msg.headers = out
	if !set {
		b.msg.headers = append(b.msg.headers, Header{Name: name, Value: value})
	}
	return b
}

func (b *Builder) RemoveHeader(name string) *Builder {
	out := b.msg.headers[:0]
	for _, h := range b.msg.headers {
		if !sameHeader(h.Name, name) {
			out = append(out, h)
		}
	}
	b.msg.headers = out
	return b
}

func (b *Builder) SetBody(contentType string, body []byte) *Builder {
	if len(body) == 0 {
		b.msg.body = nil
		b.RemoveHeader("Content-Type")
		return b
	}
	b.msg.body = append([]byte(nil), body...)
	return b.SetHeader("Content-Type", contentType)
}

// Build returns the finished message with headers in canonical order and
// Content-Length last.
func (b *Builder) Build() *Message {
	m := b.msg
	headers := make([]Header, 0, len(m.headers)+1)
	for _, h := range m.headers {
		if !sameHeader(h.Name, "Content-Length") {
			headers = append(headers, h)
		}
	}
	sort.SliceStable(headers, func(i, j int) bool {
		return headerRank(headers[i].Name) < headerRank(headers[j].Name)
	})
	headers = append(headers, Header{Name: "Content-Length", Value: strconv.Itoa(len(m.body))})
	m.headers = headers
	return &m
}
