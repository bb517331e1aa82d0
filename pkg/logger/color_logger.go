package logger

import (
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

type ColorLogger struct {
	*log.Logger
	color bool
}

type Color string

const (
	ColorBlack  Color = "\u001b[30m"
	ColorRed    Color = "\u001b[31m"
	ColorGreen  Color = "\u001b[32m"
	ColorYellow Color = "\u001b[33m"
	ColorBlue   Color = "\u001b[34m"
	ColorReset  Color = "\u001b[0m"
)

// Flags used by every fswatchd logger: date and time.
const Flags = log.Ldate | log.Ltime

func NewColorLogger(lg *log.Logger) *ColorLogger {
	c := ColorLogger{
		Logger: lg,
		color:  true,
	}
	return &c
}

// NewPlainLogger returns a ColorLogger that drops color codes, for writers
// that are not terminals.
func NewPlainLogger(lg *log.Logger) *ColorLogger {
	return &ColorLogger{Logger: lg}
}

func (c *ColorLogger) Printcf(color Color, format string, args ...interface{}) {
	c.Printc(color, fmt.Sprintf(format, args...))
}

func (c *ColorLogger) Printc(color Color, s string) {
	if !c.color {
		c.Print(s)
		return
	}
	c.Print(string(color) + s + string(ColorReset))
}

// FileConfig describes a rotating log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a logger writing to stdout, or to a rotating file when
// cfg.Path is set. The returned closer releases the file.
func New(prefix string, cfg FileConfig) (*log.Logger, io.Closer) {
	if cfg.Path == "" {
		return log.New(os.Stdout, prefix, Flags), nopCloser{}
	}

	w := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	return log.New(w, prefix, Flags), w
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
