package task

import "strconv"

// AttemptHeader carries the 1-based delivery attempt on queued messages.
const AttemptHeader = "x-attempt"

type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeRetry
	OutcomeDeadLetter
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ok"
	case OutcomeRetry:
		return "retry"
	case OutcomeDeadLetter:
		return "dead_letter"
	}
	return "unknown"
}

// Decide maps a handler result on the given attempt to what the broker
// should do with the delivery.
func Decide(err error, attempt int, p RetryPolicy) Outcome {
	switch {
	case err == nil:
		return OutcomeAck
	case IsPermanent(err), p.Exhausted(attempt):
		return OutcomeDeadLetter
	}
	return OutcomeRetry
}

// DeadLetterReason labels why a failed delivery was not retried.
func DeadLetterReason(err error) string {
	if IsPermanent(err) {
		return "permanent"
	}
	return "exhausted"
}

// ParseAttempt reads an attempt number from a header value. Missing or
// malformed values count as the first attempt.
func ParseAttempt(v any) int {
	var n int64
	switch t := v.(type) {
	case int:
		n = int64(t)
	case int32:
		n = int64(t)
	case int64:
		n = t
	case string:
		p, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 1
		}
		n = p
	default:
		return 1
	}
	if n < 1 {
		return 1
	}
	return int(n)
}
