package utils

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger writes INFO lines to stdout and ERROR lines to stderr.
type Logger struct {
	infoLog  *log.Logger
	errorLog *log.Logger
}

func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout, os.Stderr)
}

// NewLoggerTo is NewLogger with explicit writers.
func NewLoggerTo(info, errw io.Writer) *Logger {
	return &Logger{
		infoLog:  log.New(info, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile),
		errorLog: log.New(errw, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile),
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewLoggerTo(io.Discard, io.Discard)
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.infoLog.Output(2, fmt.Sprintf(format, v...))
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.errorLog.Output(2, fmt.Sprintf(format, v...))
}
