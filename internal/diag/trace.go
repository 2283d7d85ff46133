package diag

import (
	"fmt"
	"io"
	"runtime"
)

// DumpStack writes the Go call stack starting at the given depth,
// adapted from biscuit's caller.Callerdump (there to debug which code
// path reached a kernel entry point, here to show where a host-fatal
// error originated).
func DumpStack(w io.Writer, start int) {
	for i := start; ; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			return
		}
		if i == start {
			fmt.Fprintf(w, "%s:%d\n", file, line)
		} else {
			fmt.Fprintf(w, "\t<-%s:%d\n", file, line)
		}
	}
}
