package isotp

import (
	"errors"
	"fmt"
)

// Plain sentinel errors for conditions that carry no structured detail.
// ErrEmptyPdu is caller-fixable and is returned from the codec and
// segmenter without touching session state; ErrDeviceError is returned by
// the session when the link refuses a frame or the session is in Error.
// Mirrors the teacher's flat sentinel-error style (errors.go), one var per
// condition.
var (
	ErrEmptyPdu    = errors.New("isotp: pdu is empty")
	ErrDeviceError = errors.New("isotp: link collaborator reported a device error")
)

// Code identifies a structured transport error, the ISO-TP analogue of the
// teacher's SDOAbortCode: a small closed set with a description map,
// convertible to an error via Error(). Most codes are peer violations or
// session-absorbing; CodeInvalidParam and CodeLengthOutOfRange are also
// returned for caller input.
type Code uint8

const (
	CodeInvalidPdu Code = iota + 1
	CodeInvalidDataLength
	CodeInvalidSequence
	CodeMixFrames
	CodeInvalidParam
	CodeOverloadFlow
	CodeTimeout
	CodeConvertError
	CodeContextError
	CodeLengthOutOfRange
)

var codeDescriptions = map[Code]string{
	CodeInvalidPdu:        "invalid protocol data unit",
	CodeInvalidDataLength: "invalid data length for frame type",
	CodeInvalidSequence:   "invalid consecutive sequence number",
	CodeMixFrames:         "consecutive frame received without a preceding first frame",
	CodeInvalidParam:      "invalid parameter",
	CodeOverloadFlow:      "peer flow control reported overload",
	CodeTimeout:           "protocol timer expired",
	CodeConvertError:      "error converting between frame representations",
	CodeContextError:      "internal locking error",
	CodeLengthOutOfRange:  "pdu length is out of range for dialect",
}

func (c Code) String() string {
	if d, ok := codeDescriptions[c]; ok {
		return d
	}
	return "unknown error"
}

// TransportError is the typed error raised by the codec, reassembler and
// session engine for conditions in §7 of the spec that are either a peer
// protocol violation or a reason to abort the current transfer. It carries
// structured fields so callers can branch on them the way the teacher
// branches on SDOAbortCode via GetAbortCode(), without losing a normal
// Go error identity (errors.Is/As both work against it).
type TransportError struct {
	Code Code

	// Populated for CodeInvalidPdu.
	Bytes []byte
	// Populated for CodeInvalidDataLength.
	Actual, Expect int
	// Populated for CodeInvalidSequence.
	ExpectSeq, ActualSeq uint8
	// Populated for CodeInvalidParam / CodeContextError.
	Message string
	// Populated for CodeConvertError.
	Src, Target string
	// Populated for CodeTimeout.
	Value uint64
	Unit  string
	// Populated for CodeLengthOutOfRange.
	Length int
}

func (e *TransportError) Error() string {
	switch e.Code {
	case CodeInvalidPdu:
		return fmt.Sprintf("isotp: %s: % x", e.Code, e.Bytes)
	case CodeInvalidDataLength:
		return fmt.Sprintf("isotp: %s: actual=%d expect=%d", e.Code, e.Actual, e.Expect)
	case CodeInvalidSequence:
		return fmt.Sprintf("isotp: %s: expect=%d actual=%d", e.Code, e.ExpectSeq, e.ActualSeq)
	case CodeInvalidParam, CodeContextError:
		return fmt.Sprintf("isotp: %s: %s", e.Code, e.Message)
	case CodeConvertError:
		return fmt.Sprintf("isotp: %s: %s -> %s", e.Code, e.Src, e.Target)
	case CodeTimeout:
		return fmt.Sprintf("isotp: %s: %d%s", e.Code, e.Value, e.Unit)
	case CodeLengthOutOfRange:
		return fmt.Sprintf("isotp: %s: %d", e.Code, e.Length)
	default:
		return fmt.Sprintf("isotp: %s", e.Code)
	}
}

// Is allows errors.Is(err, ErrMixFrames) style comparisons against the
// package-level sentinels below, matching on Code alone.
func (e *TransportError) Is(target error) bool {
	other, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// Sentinel instances for errors.Is comparisons, one per Code, mirroring
// the shape of the teacher's AbortXxx constants but as comparable errors.
var (
	ErrInvalidPdu        = &TransportError{Code: CodeInvalidPdu}
	ErrInvalidDataLength = &TransportError{Code: CodeInvalidDataLength}
	ErrInvalidSequence   = &TransportError{Code: CodeInvalidSequence}
	ErrMixFrames         = &TransportError{Code: CodeMixFrames}
	ErrInvalidParam      = &TransportError{Code: CodeInvalidParam}
	ErrOverloadFlow      = &TransportError{Code: CodeOverloadFlow}
	ErrTimeout           = &TransportError{Code: CodeTimeout}
	ErrConvert           = &TransportError{Code: CodeConvertError}
	ErrContext           = &TransportError{Code: CodeContextError}
	ErrLenOutOfRange     = &TransportError{Code: CodeLengthOutOfRange}
)

func invalidPdu(bytes []byte) error {
	return &TransportError{Code: CodeInvalidPdu, Bytes: bytes}
}

func invalidDataLength(actual, expect int) error {
	return &TransportError{Code: CodeInvalidDataLength, Actual: actual, Expect: expect}
}

func invalidSequence(expect, actual uint8) error {
	return &TransportError{Code: CodeInvalidSequence, ExpectSeq: expect, ActualSeq: actual}
}

func invalidParam(msg string) error {
	return &TransportError{Code: CodeInvalidParam, Message: msg}
}

func timeoutError(value uint64, unit string) error {
	return &TransportError{Code: CodeTimeout, Value: value, Unit: unit}
}

func contextError(msg string) error {
	return &TransportError{Code: CodeContextError, Message: msg}
}

func convertError(src, target string) error {
	return &TransportError{Code: CodeConvertError, Src: src, Target: target}
}

func lengthOutOfRange(length int) error {
	return &TransportError{Code: CodeLengthOutOfRange, Length: length}
}
