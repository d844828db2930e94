// Package allocator hands out local bind addresses so several peers on one
// machine appear to the relay as distinct hosts.
//
// The file allocator keeps a single integer in a text file. There is no
// cross-process locking: peers started at the same instant may receive the
// same address.
package allocator

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/postalsys/relaychat/internal/logging"
)

const (
	// DefaultBase is the first counter value handed out after a reset.
	DefaultBase = 2

	// DefaultPrefix produces 127.0.0.<counter> addresses.
	DefaultPrefix = "127.0.0."

	// DefaultCounterFile is the counter file name used by the CLI.
	DefaultCounterFile = "client_counter.txt"
)

// Allocator returns a fresh local address per peer startup.
type Allocator interface {
	Next() string
}

// Resetter is implemented by allocators the relay resets at startup.
type Resetter interface {
	Reset() error
}

// File is a file-backed counter allocator.
type File struct {
	Path   string
	Base   int
	Prefix string
	Logger *slog.Logger
}

// NewFile returns a File allocator with default base and prefix.
func NewFile(path string, logger *slog.Logger) *File {
	return &File{
		Path:   path,
		Base:   DefaultBase,
		Prefix: DefaultPrefix,
		Logger: logging.Component(logger, "allocator"),
	}
}

// Next reads the counter, returns the address for it and stores counter+1.
// Read or write failures are logged and the base value is used instead.
func (f *File) Next() string {
	counter := f.base()

	data, err := os.ReadFile(f.Path)
	switch {
	case err == nil:
		if v, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil {
			counter = v
		}
	case !os.IsNotExist(err):
		f.logger().Warn("failed to read address counter", "path", f.Path, logging.KeyError, err)
	}

	addr := f.prefix() + strconv.Itoa(counter)

	if err := os.WriteFile(f.Path, []byte(strconv.Itoa(counter+1)), 0o644); err != nil {
		f.logger().Warn("failed to write address counter", "path", f.Path, logging.KeyError, err)
	}

	return addr
}

// Reset stores the base value so the next allocation starts over.
func (f *File) Reset() error {
	if err := os.WriteFile(f.Path, []byte(strconv.Itoa(f.base())), 0o644); err != nil {
		return fmt.Errorf("reset address counter: %w", err)
	}
	return nil
}

func (f *File) base() int {
	if f.Base <= 0 {
		return DefaultBase
	}
	return f.Base
}

func (f *File) prefix() string {
	if f.Prefix == "" {
		return DefaultPrefix
	}
	return f.Prefix
}

func (f *File) logger() *slog.Logger {
	if f.Logger == nil {
		return logging.NopLogger()
	}
	return f.Logger
}

// Static always returns the same address.
type Static string

// Next returns the fixed address.
func (s Static) Next() string {
	return string(s)
}
