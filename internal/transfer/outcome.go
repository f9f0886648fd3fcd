package transfer

import (
	"fmt"
	"time"
)

// Status is the terminal state of one Send.
type Status int

const (
	Succeeded Status = iota
	Cancelled
	Failed
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Reason says how far a failed transfer got.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonConnection Reason = "connection" // no endpoint accepted a session
	ReasonChannel    Reason = "channel"    // session opened, SFTP channel or remote file did not
	ReasonTransfer   Reason = "transfer"   // channel opened, I/O failed
)

// Outcome is the result of one Send.
type Outcome struct {
	Status     Status
	Reason     Reason
	Endpoint   string // endpoint name used for the final attempt, if any
	Bytes      int64  // bytes written in the final attempt
	TransferID string
	Duration   time.Duration
	Err        error // last per-attempt error, for diagnostics only
}

func (o Outcome) String() string {
	switch o.Status {
	case Failed:
		return fmt.Sprintf("failed (%s)", o.Reason)
	default:
		return o.Status.String()
	}
}

// stage orders how far an attempt progressed.
type stage int

const (
	stageConnect stage = iota + 1
	stageChannel
	stageTransfer
	stageDone
)

func (s stage) reason() Reason {
	switch s {
	case stageChannel:
		return ReasonChannel
	case stageTransfer:
		return ReasonTransfer
	default:
		return ReasonConnection
	}
}
