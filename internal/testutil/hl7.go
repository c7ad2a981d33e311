// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// HL7Fixture builds synthetic HL7 v2 messages with plausible patient data
type HL7Fixture struct {
	faker *gofakeit.Faker
	seq   int
}

// NewHL7Fixture creates a fixture. A zero seed gives random data.
func NewHL7Fixture(seed uint64) *HL7Fixture {
	return &HL7Fixture{faker: gofakeit.New(seed)}
}

// ADTOptions overrides header fields of a generated message
type ADTOptions struct {
	SendingApplication   string
	ReceivingApplication string
	TriggerEvent         string
	ControlID            string
}

// ADT returns an ADT message with MSH, EVN, PID and PV1 segments separated by \r
func (f *HL7Fixture) ADT(opts ADTOptions) string {
	f.seq++
	if opts.SendingApplication == "" {
		opts.SendingApplication = "EPIC"
	}
	if opts.ReceivingApplication == "" {
		opts.ReceivingApplication = "LAB"
	}
	if opts.TriggerEvent == "" {
		opts.TriggerEvent = "A01"
	}
	if opts.ControlID == "" {
		opts.ControlID = fmt.Sprintf("MSG%05d", f.seq)
	}

	now := time.Now().Format("20060102150405")
	sex := "F"
	if f.faker.Gender() == "male" {
		sex = "M"
	}
	dob := f.faker.Date().Format("20060102")
	mrn := fmt.Sprintf("%08d", f.faker.Number(1, 99999999))

	segments := []string{
		strings.Join([]string{"MSH", `^~\&`, opts.SendingApplication, "MAIN_HOSPITAL", opts.ReceivingApplication, "LAB_FACILITY", now, "", "ADT^" + opts.TriggerEvent, opts.ControlID, "P", "2.5"}, "|"),
		"EVN|" + opts.TriggerEvent + "|" + now,
		fmt.Sprintf("PID|1||%s^^^MAIN_HOSPITAL^MR||%s^%s||%s|%s|||%s^^%s^%s^%s",
			mrn, f.faker.LastName(), f.faker.FirstName(), dob, sex,
			f.faker.Street(), f.faker.City(), f.faker.StateAbr(), f.faker.Zip()),
		"PV1|1|I|" + strings.ToUpper(f.faker.LetterN(3)) + "^101^1",
	}
	return strings.Join(segments, "\r") + "\r"
}

// ACK returns an acknowledgment for controlID with the given MSA-1 code
func ACK(controlID, code, text string) string {
	now := time.Now().Format("20060102150405")
	return "MSH|^~\\&|LAB|LAB_FACILITY|EPIC|MAIN_HOSPITAL|" + now + "||ACK^A01|ACK" + controlID + "|P|2.5\r" +
		"MSA|" + code + "|" + controlID + "|" + text + "\r"
}
