package faults

import (
	"errors"
	"fmt"
)

// Kind classifies what went wrong with a transfer.
type Kind int

const (
	DeviceUnavailable Kind = iota
	ToolMissing
	PathInvalid
	PermissionDenied
	PipelineStageFailed
	UserCancelled
	SizeProbeFailed
)

func (k Kind) String() string {
	switch k {
	case DeviceUnavailable:
		return "device_unavailable"
	case ToolMissing:
		return "tool_missing"
	case PathInvalid:
		return "path_invalid"
	case PermissionDenied:
		return "permission_denied"
	case PipelineStageFailed:
		return "pipeline_stage_failed"
	case UserCancelled:
		return "user_cancelled"
	case SizeProbeFailed:
		return "size_probe_failed"
	default:
		return "unknown"
	}
}

// Fault carries the taxonomy kind plus enough diagnostic text that the
// caller never has to inspect raw process output.
type Fault struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (f *Fault) Error() string {
	msg := fmt.Sprintf("%s: %s", f.Op, f.Kind)
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Fault) Unwrap() error {
	return f.Err
}

func New(kind Kind, op, detail string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Detail: detail, Err: err}
}

// KindOf extracts the taxonomy kind from an error chain.
func KindOf(err error) (Kind, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return 0, false
}

func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
