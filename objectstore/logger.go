package objectstore

import (
	"fmt"
	"log"
)

// Logger defines an interface for writing log messages.
type Logger interface {
	Infof(format string, args ...interface{})
}

// DefaultLogger logs to the Go stdlib logs.
type DefaultLogger struct{}

// Infof implements the Logger.Infof interface.
func (DefaultLogger) Infof(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf(format, args...))
}
