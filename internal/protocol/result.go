package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failed Result.
type Kind int

const (
	// KindProtocol is a malformed input line.
	KindProtocol Kind = iota + 1
	// KindValidation is a request the worker refuses without loading anything.
	KindValidation
	// KindBackend is a failure inside model loading or inference.
	KindBackend
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindValidation:
		return "validation"
	case KindBackend:
		return "backend"
	default:
		return "unknown"
	}
}

// Result is the outcome of one request: either a success payload or a failure
// with a kind, a message and an optional diagnostic.
type Result struct {
	payload    any
	kind       Kind
	message    string
	diagnostic string
}

// OK wraps a success payload.
func OK(payload any) Result {
	return Result{payload: payload}
}

// Fail builds a failed Result.
func Fail(kind Kind, message, diagnostic string) Result {
	return Result{kind: kind, message: message, diagnostic: diagnostic}
}

// Invalid builds a validation failure. Validation failures carry no diagnostic.
func Invalid(format string, args ...any) Result {
	return Fail(KindValidation, fmt.Sprintf(format, args...), "")
}

// FromError converts a backend error, keeping its wrap chain as the diagnostic.
func FromError(err error) Result {
	return Fail(KindBackend, err.Error(), Diagnose(err))
}

// FromPanic converts a recovered panic value and the stack it was raised on.
func FromPanic(value any, stack []byte) Result {
	return Fail(KindBackend, fmt.Sprint(value), fmt.Sprintf("panic: %v\n\n%s", value, stack))
}

// IsOK reports whether the result is a success.
func (r Result) IsOK() bool {
	return r.kind == 0
}

// Kind returns the failure kind, or zero for a success.
func (r Result) Kind() Kind {
	return r.kind
}

// Message returns the failure message.
func (r Result) Message() string {
	return r.message
}

// Diagnostic returns the failure diagnostic.
func (r Result) Diagnostic() string {
	return r.diagnostic
}

// Payload returns the success payload.
func (r Result) Payload() any {
	return r.payload
}

// Response returns the value written to the output stream.
func (r Result) Response() any {
	if r.IsOK() {
		return r.payload
	}

	return ErrorResponse{
		Status:    StatusError,
		Error:     r.message,
		Traceback: r.diagnostic,
	}
}

// Diagnose renders the chain of wrapped errors beneath err, outermost first.
func Diagnose(err error) string {
	var builder strings.Builder

	builder.WriteString("error chain (most recent wrap first):\n")
	writeChain(&builder, err, 1)

	return builder.String()
}

func writeChain(builder *strings.Builder, err error, depth int) {
	for err != nil {
		fmt.Fprintf(builder, "%s%T: %s\n", strings.Repeat("  ", depth), err, err.Error())

		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				writeChain(builder, inner, depth+1)
			}

			return
		}

		err = errors.Unwrap(err)
		depth++
	}
}
