package mllp

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

// Codec converts between Go strings and the byte encoding a peer expects
type Codec struct {
	name string
	enc  encoding.Encoding // nil for UTF-8 passthrough
}

// hl7Charsets maps MSH-18 values and common aliases to encodings
var hl7Charsets = map[string]encoding.Encoding{
	"":              nil,
	"utf-8":         nil,
	"utf8":          nil,
	"unicode utf-8": nil,
	"ascii":         nil,
	"8859/1":        charmap.ISO8859_1,
	"iso-8859-1":    charmap.ISO8859_1,
	"latin1":        charmap.ISO8859_1,
	"8859/2":        charmap.ISO8859_2,
	"iso-8859-2":    charmap.ISO8859_2,
	"8859/15":       charmap.ISO8859_15,
	"iso-8859-15":   charmap.ISO8859_15,
	"windows-1252":  charmap.Windows1252,
	"cp1252":        charmap.Windows1252,
}

// LookupCodec resolves a charset name. HL7 MSH-18 spellings are tried first,
// then the IANA registry.
func LookupCodec(name string) (*Codec, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if enc, ok := hl7Charsets[key]; ok {
		return &Codec{name: canonicalName(key), enc: enc}, nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", name)
	}
	return &Codec{name: key, enc: enc}, nil
}

// MustCodec is LookupCodec for names known to be valid
func MustCodec(name string) *Codec {
	c, err := LookupCodec(name)
	if err != nil {
		panic(err)
	}
	return c
}

func canonicalName(key string) string {
	if hl7Charsets[key] == nil {
		return "utf-8"
	}
	return key
}

// Name returns the charset name
func (c *Codec) Name() string {
	return c.name
}

// Encode converts s into the peer's encoding
func (c *Codec) Encode(s string) ([]byte, error) {
	if c == nil || c.enc == nil {
		return []byte(s), nil
	}
	out, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.name, err)
	}
	return out, nil
}

// Decode converts bytes in the peer's encoding into a string
func (c *Codec) Decode(b []byte) (string, error) {
	if c == nil || c.enc == nil {
		return string(b), nil
	}
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", c.name, err)
	}
	return string(out), nil
}
