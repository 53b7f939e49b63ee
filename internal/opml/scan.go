package opml

import "strings"

type tagKind int

const (
	tagOpen tagKind = iota
	tagClose
)

// tag is one start or end tag found in the markup. Name and attribute keys
// are lower-cased; attribute values are entity-unescaped.
type tag struct {
	kind        tagKind
	name        string
	attrs       map[string]string
	selfClosing bool
}

// scanner walks raw markup tag by tag. It never fails: text between tags is
// ignored, comments and declarations are skipped, and a truncated tag ends the scan.
type scanner struct {
	src string
	pos int
}

func (s *scanner) next() (tag, bool) {
	for {
		lt := strings.IndexByte(s.src[s.pos:], '<')
		if lt < 0 {
			return tag{}, false
		}
		s.pos += lt
		rest := s.src[s.pos:]

		switch {
		case strings.HasPrefix(rest, "<!--"):
			end := strings.Index(rest[4:], "-->")
			if end < 0 {
				return tag{}, false
			}
			s.pos += 4 + end + 3
			continue
		case strings.HasPrefix(rest, "<![CDATA["):
			end := strings.Index(rest, "]]>")
			if end < 0 {
				return tag{}, false
			}
			s.pos += end + 3
			continue
		case strings.HasPrefix(rest, "<?"), strings.HasPrefix(rest, "<!"):
			end := strings.IndexByte(rest, '>')
			if end < 0 {
				return tag{}, false
			}
			s.pos += end + 1
			continue
		case strings.HasPrefix(rest, "</"):
			end := strings.IndexByte(rest, '>')
			if end < 0 {
				return tag{}, false
			}
			s.pos += end + 1
			name := strings.ToLower(strings.TrimSpace(rest[2:end]))
			return tag{kind: tagClose, name: name}, true
		}

		end := tagEnd(rest)
		if end < 0 {
			return tag{}, false
		}
		s.pos += end + 1
		t, ok := parseStartTag(rest[1:end])
		if !ok {
			continue
		}
		return t, true
	}
}

// tagEnd returns the index of the '>' closing the tag at the start of s,
// skipping any '>' inside quoted attribute values.
func tagEnd(s string) int {
	var quote byte
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '>':
			return i
		}
	}
	return -1
}

func parseStartTag(body string) (tag, bool) {
	body = strings.TrimSpace(body)
	selfClosing := strings.HasSuffix(body, "/")
	body = strings.TrimSuffix(body, "/")

	i := 0
	for i < len(body) && !isSpace(body[i]) {
		i++
	}
	name := strings.ToLower(body[:i])
	if name == "" {
		return tag{}, false
	}
	return tag{
		kind:        tagOpen,
		name:        name,
		attrs:       parseAttrs(body[i:]),
		selfClosing: selfClosing,
	}, true
}

// parseAttrs accepts double-quoted, single-quoted, and unquoted values in any
// order. Keys without a value map to the empty string.
func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	i := 0
	for i < len(s) {
		for i < len(s) && (isSpace(s[i]) || s[i] == '/') {
			i++
		}
		start := i
		for i < len(s) && !isSpace(s[i]) && s[i] != '=' && s[i] != '/' {
			i++
		}
		key := strings.ToLower(s[start:i])
		if key == "" {
			i++
			continue
		}

		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) || s[i] != '=' {
			attrs[key] = ""
			continue
		}
		i++
		for i < len(s) && isSpace(s[i]) {
			i++
		}

		var val string
		if i < len(s) && (s[i] == '"' || s[i] == '\'') {
			q := s[i]
			i++
			end := strings.IndexByte(s[i:], q)
			if end < 0 {
				val = s[i:]
				i = len(s)
			} else {
				val = s[i : i+end]
				i += end + 1
			}
		} else {
			vs := i
			for i < len(s) && !isSpace(s[i]) {
				i++
			}
			val = s[vs:i]
		}
		if _, dup := attrs[key]; !dup {
			attrs[key] = unescape(val)
		}
	}
	return attrs
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

var (
	unescaper = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'")
	escaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
)

// unescape decodes the five predefined XML entities in a single pass, so
// "&amp;lt;" becomes "&lt;" rather than "<".
func unescape(s string) string {
	return unescaper.Replace(s)
}

func escape(s string) string {
	return escaper.Replace(s)
}
