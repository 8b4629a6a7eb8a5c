package shoutcast

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxMetadataLen is the largest block a single length byte can describe.
const maxMetadataLen = 255 * 16

// Metadata is the content of one ICY metadata block.
type Metadata struct {
	StreamTitle string
	StreamURL   string
}

// NewMetadata parses a raw metadata block, without its length byte.
func NewMetadata(b []byte) *Metadata {
	m := &Metadata{}
	s := strings.TrimRight(string(b), "\x00")
	for _, field := range strings.Split(s, "';") {
		key, value, ok := strings.Cut(field, "='")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "StreamTitle":
			m.StreamTitle = value
		case "StreamUrl":
			m.StreamURL = value
		}
	}
	return m
}

// Equals reports whether both blocks carry the same fields.
func (m *Metadata) Equals(other *Metadata) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.StreamTitle == other.StreamTitle && m.StreamURL == other.StreamURL
}

// Bytes encodes the block including its leading length byte.
func (m *Metadata) Bytes() []byte {
	body := m.text()
	blocks := (len(body) + 15) / 16
	out := make([]byte, 1+blocks*16)
	out[0] = byte(blocks)
	copy(out[1:], body)
	return out
}

func (m *Metadata) text() string {
	if m == nil {
		return ""
	}
	url := ""
	if m.StreamURL != "" {
		url = fmt.Sprintf("StreamUrl='%s';", strings.ReplaceAll(m.StreamURL, "'", "%27"))
	}
	// Players stop reading a value at the first quote.
	title := strings.ReplaceAll(m.StreamTitle, "'", "\u2019")
	overhead := len("StreamTitle='';") + len(url)
	if overhead > maxMetadataLen {
		url = ""
		overhead = len("StreamTitle='';")
	}
	return fmt.Sprintf("StreamTitle='%s';%s", truncate(title, maxMetadataLen-overhead), url)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
