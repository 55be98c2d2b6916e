// Package driverapi defines the messages exchanged with registered
// backends and the initializer signature every backend exports.
package driverapi

import (
	"unsafe"

	"github.com/Nativu5/uadk-go/pkg/registry"
)

// InitFunc registers a backend's drivers with reg. config carries
// backend-specific options and may be nil.
type InitFunc func(reg *registry.Registry, config map[string]interface{}) error

// CompOp selects the direction of a compression job.
type CompOp int

const (
	CompOpCompress CompOp = iota
	CompOpDecompress
)

func (op CompOp) String() string {
	if op == CompOpDecompress {
		return "decompress"
	}
	return "compress"
}

// CompMsg is a one-shot buffer compression job. Send consumes Src and
// stores the result in Dst; Recv completes the job.
type CompMsg struct {
	Op  CompOp
	Src []byte
	Dst []byte
	// Done is set by Send once Dst holds the result and cleared by Recv.
	Done bool
}

// CmdMsg forwards a numeric command to a hardware queue.
type CmdMsg struct {
	Opcode uintptr
	Arg    unsafe.Pointer
	// Result is the command's return value, or the negated errno.
	Result int
	Done   bool
}

// Config keys understood by the builtin backends.
const (
	// ConfigLevel is the compression level, an int.
	ConfigLevel = "level"
	// ConfigAlgs lists the algorithms a hardware backend registers for, a
	// []string.
	ConfigAlgs = "algs"
	// ConfigSelector overrides the device selector of a hardware backend.
	ConfigSelector = "selector"
	// ConfigObserver receives device and context events.
	ConfigObserver = "observer"
	// ConfigWaitTimeout is the completion poll timeout in milliseconds, an
	// int.
	ConfigWaitTimeout = "wait_timeout"
)

// IntOption returns config[key] as an int, or def when absent or of
// another type.
func IntOption(config map[string]interface{}, key string, def int) int {
	if v, ok := config[key].(int); ok {
		return v
	}
	return def
}

// StringsOption returns config[key] as a []string, or def.
func StringsOption(config map[string]interface{}, key string, def []string) []string {
	if v, ok := config[key].([]string); ok && len(v) > 0 {
		return v
	}
	return def
}
