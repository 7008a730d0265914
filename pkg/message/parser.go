package message

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New("malformed message")

// MalformedError points at the line that could not be parsed. Line is
// 1-based; 0 means the datagram as a whole.
type MalformedError struct {
	Line   int
	Text   string
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("malformed message: %s", e.Reason)
	}
	return fmt.Sprintf("malformed message at line %d %q: %s", e.Line, e.Text, e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformed
}

func malformed(line int, text, reason string) error {
	return &MalformedError{Line: line, Text: text, Reason: reason}
}

// Parse decodes a single datagram. Unknown headers are kept verbatim.
func Parse(data []byte) (*Message, error) {
	head, rest := data, []byte(nil)
	if i := bytes.Index(data, []byte("\r\n\r\n")); i >= 0 {
		head, rest = data[:i], data[i+4:]
	} else if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		head, rest = data[:i], data[i+2:]
	}
	if len(bytes.TrimSpace(head)) == 0 {
		return nil, malformed(0, "", "empty datagram")
	}

	lines := strings.Split(string(head), "\n")
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}

	msg := &Message{}
	if err := parseStartLine(msg, lines[0]); err != nil {
		return nil, err
	}

	length := -1
	for i, line := range lines[1:] {
		n := i + 2
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if len(msg.headers) == 0 {
				return nil, malformed(n, line, "continuation without header")
			}
			last := &msg.headers[len(msg.headers)-1]
			last.Value += " " + strings.TrimSpace(line)
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			return nil, malformed(n, line, "missing ':' in header")
		}
		name := strings.TrimSpace(line[:colon])
		if name == "" || strings.ContainsAny(name, " \t") {
			return nil, malformed(n, line, "invalid header name")
		}
		value := strings.TrimSpace(line[colon+1:])
		if sameHeader(name, "Content-Length") {
			l, err := strconv.Atoi(value)
			if err != nil || l < 0 {
				return nil, malformed(n, line, "invalid Content-Length")
			}
			if l > len(rest) {
				return nil, malformed(n, line, fmt.Sprintf("Content-Length %d exceeds body of %d bytes", l, len(rest)))
			}
			length = l
		}
		msg.headers = append(msg.headers, Header{Name: name, Value: value})
	}

	if length >= 0 {
		rest = rest[:length]
	}
	if len(rest) > 0 {
		msg.body = append([]byte(nil), rest...)
	}
	return msg, nil
}

func parseStartLine(msg *Message, line string) error {
	if strings.HasPrefix(line, "SIP/") {
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 2 || parts[0] != "SIP/2.0" {
			return malformed(1, line, "invalid status line")
		}
		code, err := strconv.Atoi(parts[1])
		if err != nil || code < 100 || code > 699 {
			return malformed(1, line, "invalid status code")
		}
		msg.kind = Response
		msg.status = code
		if len(parts) == 3 {
			msg.reason = parts[2]
		}
		return nil
	}

	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return malformed(1, line, "invalid request line")
	}
	if parts[2] != "SIP/2.0" {
		return malformed(1, line, "unsupported protocol version")
	}
	if !isToken(parts[0]) {
		return malformed(1, line, "invalid method")
	}
	if parts[1] == "" {
		return malformed(1, line, "empty Request-URI")
	}
	msg.kind = Request
	msg.method = Method(parts[0])
	msg.uri = parts[1]
	return nil
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
