package timeutil

import "time"

// Now is the clock used by packages that need wall time. Tests may swap it
// for a fixed function; production code leaves it alone.
var Now func() time.Time = time.Now

// UnixSecs returns the current wall clock as whole seconds since the epoch.
func UnixSecs() uint64 {
	return uint64(Now().Unix())
}
