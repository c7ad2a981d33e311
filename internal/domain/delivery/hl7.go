package delivery

import (
	"fmt"
	"strings"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/shared"
)

// ErrMalformedMessage is returned when content is not a parseable HL7 v2 message
var ErrMalformedMessage = shared.NewDomainError("INVALID_MESSAGE", "malformed HL7 message")

// hl7 timestamp layouts, most precise first
var hl7TimeLayouts = []string{
	"20060102150405.9999-0700",
	"20060102150405-0700",
	"20060102150405.9999",
	"20060102150405",
	"200601021504",
	"2006010215",
	"20060102",
}

// Header holds the MSH fields the delivery pipeline cares about
type Header struct {
	FieldSeparator       string
	EncodingCharacters   string
	SendingApplication   string
	SendingFacility      string
	ReceivingApplication string
	ReceivingFacility    string
	Timestamp            time.Time
	MessageType          string // full MSH-9, e.g. ADT^A01
	MessageCode          string // ADT
	TriggerEvent         string // A01
	ControlID            string
	ProcessingID         string
	Version              string
	CharacterSet         string
}

// SplitSegments splits HL7 content into segments, accepting \r, \n and \r\n terminators
func SplitSegments(content string) []string {
	normalized := strings.ReplaceAll(content, "\r\n", "\r")
	normalized = strings.ReplaceAll(normalized, "\n", "\r")
	raw := strings.Split(normalized, "\r")
	segments := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// ParseHeader extracts the MSH segment of an HL7 v2 message
func ParseHeader(content string) (*Header, error) {
	segments := SplitSegments(content)
	if len(segments) == 0 {
		return nil, malformed("empty message")
	}
	msh := segments[0]
	if !strings.HasPrefix(msh, "MSH") || len(msh) < 8 {
		return nil, malformed("first segment is not MSH")
	}

	sep := msh[3:4]
	fields := strings.Split(msh, sep)
	// fields[0] is "MSH" and fields[n-1] holds MSH-n because MSH-1 is the separator itself
	if len(fields) < 10 {
		return nil, malformed(fmt.Sprintf("MSH has %d fields, need at least 10", len(fields)))
	}

	field := func(n int) string {
		if n-1 < len(fields) {
			return strings.TrimSpace(fields[n-1])
		}
		return ""
	}

	h := &Header{
		FieldSeparator:       sep,
		EncodingCharacters:   field(2),
		SendingApplication:   firstComponent(field(3), field(2)),
		SendingFacility:      firstComponent(field(4), field(2)),
		ReceivingApplication: firstComponent(field(5), field(2)),
		ReceivingFacility:    firstComponent(field(6), field(2)),
		Timestamp:            ParseTimestamp(field(7)),
		MessageType:          field(9),
		ControlID:            field(10),
		ProcessingID:         field(11),
		Version:              field(12),
		CharacterSet:         field(18),
	}

	if h.MessageType == "" {
		return nil, malformed("MSH-9 message type is empty")
	}
	if h.ControlID == "" {
		return nil, malformed("MSH-10 control ID is empty")
	}

	compSep := componentSeparator(h.EncodingCharacters)
	parts := strings.Split(h.MessageType, compSep)
	h.MessageCode = parts[0]
	if len(parts) > 1 {
		h.TriggerEvent = parts[1]
	}

	return h, nil
}

// ParseTimestamp parses an HL7 DTM value, returning the zero time when it cannot
func ParseTimestamp(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range hl7TimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func componentSeparator(encoding string) string {
	if encoding == "" {
		return "^"
	}
	return encoding[:1]
}

func firstComponent(value, encoding string) string {
	if i := strings.Index(value, componentSeparator(encoding)); i >= 0 {
		return value[:i]
	}
	return value
}

func malformed(detail string) error {
	return shared.WrapDomainError(ErrMalformedMessage.Code, ErrMalformedMessage.Message, fmt.Errorf("%s", detail))
}
