package main

import "time"

// nowMillis returns the current time as Unix milliseconds, the timestamp
// unit used throughout the BDP data model (spec.md §3).
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
