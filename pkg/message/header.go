package message

import "strings"

var compactForms = map[string]string{
	"i": "call-id",
	"f": "from",
	"t": "to",
	"v": "via",
	"m": "contact",
	"l": "content-length",
	"c": "content-type",
	"k": "supported",
	"s": "subject",
	"e": "content-encoding",
}

func canonical(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if long, ok := compactForms[n]; ok {
		return long
	}
	return n
}

func sameHeader(a, b string) bool {
	return canonical(a) == canonical(b)
}

// Param returns the named header parameter of an address or Via value.
// Parameters inside <...> belong to the URI and are not considered.
func Param(value, name string) (string, bool) {
	if i := strings.IndexByte(value, '<'); i >= 0 {
		j := strings.IndexByte(value[i:], '>')
		if j < 0 {
			return "", false
		}
		value = value[i+j+1:]
	} else if i := strings.IndexByte(value, ';'); i >= 0 {
		value = value[i:]
	} else {
		return "", false
	}
	for _, p := range splitParams(value) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		k, v := p, ""
		if eq := strings.IndexByte(p, '='); eq >= 0 {
			k, v = strings.TrimSpace(p[:eq]), strings.TrimSpace(p[eq+1:])
		}
		if strings.EqualFold(k, name) {
			return strings.Trim(v, `"`), true
		}
	}
	return "", false
}

// splitParams splits on ';' outside quoted strings.
func splitParams(value string) []string {
	var out []string
	quoted := false
	start := 0
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '"':
			quoted = !quoted
		case ';':
			if !quoted {
				out = append(out, value[start:i])
				start = i + 1
			}
		}
	}
	return append(out, value[start:])
}

// AddressURI extracts the URI of a name-addr or addr-spec header value.
func AddressURI(value string) string {
	if i := strings.IndexByte(value, '<'); i >= 0 {
		if j := strings.IndexByte(value[i:], '>'); j > 0 {
			return value[i+1 : i+j]
		}
	}
	if i := strings.IndexByte(value, ';'); i >= 0 {
		value = value[:i]
	}
	return strings.TrimSpace(value)
}

// WithTag appends a tag parameter to an address value that has none.
func WithTag(value, tag string) string {
	if _, ok := Param(value, "tag"); ok || tag == "" {
		return value
	}
	return value + ";tag=" + tag
}
