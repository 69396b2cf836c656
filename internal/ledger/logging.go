package ledger

import (
	"io"
	"log"
	"sync"
)

var (
	logMu   sync.RWMutex
	opsLog  *log.Logger
	diagLog *log.Logger
)

// SetLogWriters routes operational and diagnostic ledger logs. A nil
// writer disables that stream.
func SetLogWriters(ops, diag io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	opsLog = newLogger(ops)
	diagLog = newLogger(diag)
}

func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "[ledger] ", log.LstdFlags|log.Lmicroseconds)
}

func opsf(format string, args ...interface{}) {
	logMu.RLock()
	l := opsLog
	logMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

func diagf(format string, args ...interface{}) {
	logMu.RLock()
	l := diagLog
	logMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}
