package log

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// extractStacktrace returns the stack recorded by cockroachdb/errors for err.
// The first safe detail of a withstack wrapper is the formatted trace; when
// err carries none, the verbose %+v rendering is used instead.
func extractStacktrace(err error) string {
	if err == nil {
		return ""
	}
	for e := err; e != nil; e = errors.UnwrapOnce(e) {
		if details := errors.GetSafeDetails(e).SafeDetails; len(details) > 0 && details[0] != "" {
			return details[0]
		}
	}
	return fmt.Sprintf("%+v", err)
}

// marshalStack is installed as zerolog.ErrorStackMarshaler.
func marshalStack(err error) interface{} {
	return extractStacktrace(err)
}
