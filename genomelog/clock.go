package genomelog

import "time"

// processStart anchors osMonotonicMs, the monotonic millisecond clock used
// to stamp blocks: milliseconds elapsed since package init. Tests override
// the package var nowMs (genomelog.go), not this function, to avoid
// depending on real time.
var processStart = time.Now()

func osMonotonicMs() int64 {
	return time.Since(processStart).Milliseconds()
}
