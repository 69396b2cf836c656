// Package monitoring holds the process-wide diagnostic logger used by the
// leaf packages (extraction, indices, search, download) that do not carry
// their own ops/diag streams.
package monitoring

import (
	"io"
	"log"
)

// Logf defaults to log.Printf. Tests mute it with SetLogger(nil).
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. Passing nil installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetOutput points Logf at w with the given prefix. A nil writer mutes it.
func SetOutput(w io.Writer, prefix string) {
	if w == nil {
		SetLogger(nil)
		return
	}
	SetLogger(log.New(w, prefix, log.LstdFlags|log.Lmicroseconds).Printf)
}
