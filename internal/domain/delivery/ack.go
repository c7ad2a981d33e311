package delivery

import (
	"fmt"
	"strings"
	"time"
)

// AckCode is the MSA-1 acknowledgment code
type AckCode string

const (
	AckAccept       AckCode = "AA"
	AckError        AckCode = "AE"
	AckReject       AckCode = "AR"
	AckCommitAccept AckCode = "CA"
	AckCommitError  AckCode = "CE"
	AckCommitReject AckCode = "CR"
)

// Ack is a parsed HL7 acknowledgment
type Ack struct {
	Code      AckCode
	ControlID string
	Text      string
}

// Accepted reports whether the receiver took the message
func (a *Ack) Accepted() bool {
	return a.Code == AckAccept || a.Code == AckCommitAccept
}

// Rejected reports whether the receiver refused the message outright; resending will not help
func (a *Ack) Rejected() bool {
	return a.Code == AckReject || a.Code == AckCommitReject
}

// Err converts a negative acknowledgment into a classified delivery error text.
// Returns "" for accepted messages.
func (a *Ack) Err() string {
	switch {
	case a.Accepted():
		return ""
	case a.Rejected():
		return fmt.Sprintf("%s: receiver rejected message (%s) %s", ErrorInvalidMessage, a.Code, a.Text)
	default:
		return fmt.Sprintf("%s: receiver returned application error (%s) %s", ErrorTemporaryFailure, a.Code, a.Text)
	}
}

// ParseAck extracts the MSA segment from an acknowledgment message
func ParseAck(content string) (*Ack, error) {
	header, err := ParseHeader(content)
	if err != nil {
		return nil, err
	}
	for _, segment := range SplitSegments(content) {
		if !strings.HasPrefix(segment, "MSA") {
			continue
		}
		fields := strings.Split(segment, header.FieldSeparator)
		if len(fields) < 3 {
			return nil, malformed("MSA segment is incomplete")
		}
		ack := &Ack{
			Code:      AckCode(strings.ToUpper(strings.TrimSpace(fields[1]))),
			ControlID: strings.TrimSpace(fields[2]),
		}
		if len(fields) > 3 {
			ack.Text = strings.TrimSpace(fields[3])
		}
		switch ack.Code {
		case AckAccept, AckError, AckReject, AckCommitAccept, AckCommitError, AckCommitReject:
			return ack, nil
		}
		return nil, malformed(fmt.Sprintf("unknown acknowledgment code %q", ack.Code))
	}
	return nil, malformed("acknowledgment has no MSA segment")
}

// BuildAck builds the acknowledgment for a received message. Sender and
// receiver are swapped relative to the original header.
func BuildAck(original *Header, code AckCode, text string, now time.Time) string {
	sep := original.FieldSeparator
	if sep == "" {
		sep = "|"
	}
	encoding := original.EncodingCharacters
	if encoding == "" {
		encoding = `^~\&`
	}
	processingID := original.ProcessingID
	if processingID == "" {
		processingID = "P"
	}
	version := original.Version
	if version == "" {
		version = "2.5"
	}
	ackType := "ACK"
	if original.TriggerEvent != "" {
		ackType = "ACK" + encoding[:1] + original.TriggerEvent
	}

	msh := strings.Join([]string{
		"MSH",
		encoding,
		original.ReceivingApplication,
		original.ReceivingFacility,
		original.SendingApplication,
		original.SendingFacility,
		now.Format("20060102150405"),
		"",
		ackType,
		"ACK" + original.ControlID,
		processingID,
		version,
	}, sep)
	msa := strings.Join([]string{"MSA", string(code), original.ControlID, escapeText(text, sep, encoding)}, sep)
	return msh + "\r" + msa + "\r"
}

// escapeText applies HL7 escape sequences for the field and component separators
func escapeText(text, sep, encoding string) string {
	if text == "" {
		return ""
	}
	escape := `\`
	if len(encoding) >= 3 {
		escape = encoding[2:3]
	}
	r := strings.NewReplacer(
		escape, escape+"E"+escape,
		sep, escape+"F"+escape,
		encoding[:1], escape+"S"+escape,
	)
	return r.Replace(text)
}
