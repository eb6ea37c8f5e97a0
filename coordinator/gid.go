package coordinator

import (
	"bytes"
	"runtime"
	"strconv"
)

// currentThreadID identifies the calling goroutine for handle-cache
// affinity. Parsed from the runtime's stack header ("goroutine N [...]"),
// which is stable across Go releases.
func currentThreadID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i > 0 {
		if id, err := strconv.ParseUint(string(buf[:i]), 10, 64); err == nil {
			return id
		}
	}
	return 0
}
