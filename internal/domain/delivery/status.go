package delivery

// Status is the lifecycle state of an HL7 message in the delivery pipeline
type Status string

const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusDelivered   Status = "delivered"
	StatusFailed      Status = "failed"
	StatusRetrying    Status = "retrying"
	StatusDeadLetter  Status = "dead_letter"
	StatusQuarantined Status = "quarantined"
)

// AllStatuses returns every known status
func AllStatuses() []Status {
	return []Status{
		StatusPending,
		StatusProcessing,
		StatusDelivered,
		StatusFailed,
		StatusRetrying,
		StatusDeadLetter,
		StatusQuarantined,
	}
}

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	for _, v := range AllStatuses() {
		if s == v {
			return true
		}
	}
	return false
}

// InRetryQueue reports whether a message in this status waits for a delivery attempt
func (s Status) InRetryQueue() bool {
	return s == StatusPending || s == StatusRetrying
}

// IsTerminal reports whether the processor will never pick the message up again on its own
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusDeadLetter || s == StatusQuarantined
}

func (s Status) String() string {
	return string(s)
}
