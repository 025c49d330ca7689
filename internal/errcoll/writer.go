package errcoll

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"
)

// WriterErrorCollector is an [Interface] implementation that writes errors to
// an io.Writer.
type WriterErrorCollector struct {
	w io.Writer
}

// NewWriterErrorCollector returns a new WriterErrorCollector.
func NewWriterErrorCollector(w io.Writer) (c *WriterErrorCollector) {
	return &WriterErrorCollector{
		w: w,
	}
}

// type check
var _ Interface = (*WriterErrorCollector)(nil)

// Collect implements the [Interface] interface for *WriterErrorCollector.
func (c *WriterErrorCollector) Collect(ctx context.Context, err error) {
	_, _ = fmt.Fprintf(c.w, "%s: %s: caught error: %s\n", time.Now(), caller(2), err)
}

// caller returns the file name and the line number of the caller at the given
// depth in the "file.go:123" format.  If the caller cannot be determined, it
// returns "<unknown>".
func caller(depth int) (s string) {
	_, file, line, ok := runtime.Caller(depth)
	if !ok {
		return "<unknown>"
	}

	return fmt.Sprintf("%s:%d", file, line)
}
