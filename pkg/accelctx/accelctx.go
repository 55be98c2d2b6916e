// Package accelctx manages an open accelerator queue: the character
// device descriptor, its memory-mapped regions and the control commands
// issued on it.
//
// A Context has a single owner and must not be used from several
// goroutines at once without external locking. Distinct contexts are
// independent.
package accelctx

import (
	"path/filepath"
	"strings"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/Nativu5/uadk-go/pkg/accelerr"
	"github.com/Nativu5/uadk-go/pkg/types"
)

// uacce ioctl commands, _IO('W', n).
const (
	CmdStart uintptr = 0x5700
	CmdPutQ  uintptr = 0x5701
)

// Context is one open accelerator session.
type Context struct {
	fd      int
	path    string
	devName string
	drvName string
	dev     *types.Device

	regionSize [types.RegionMax]uint64
	regions    [types.RegionMax][]byte

	priv interface{}
}

// ───────────────────────────────────────────
//  name derivation
// ───────────────────────────────────────────

// AccelName returns the final component of devPath. With stripInstance a
// trailing "-<digits>" queue-instance suffix is removed. It returns "" when
// the path has no final component.
func AccelName(devPath string, stripInstance bool) string {
	name := devPath
	if i := strings.LastIndexByte(devPath, '/'); i >= 0 {
		name = devPath[i+1:]
	}
	if name == "" {
		return ""
	}
	if !stripInstance {
		return name
	}

	dash := strings.LastIndexByte(name, '-')
	if dash < 0 || dash == len(name)-1 {
		return name
	}
	for _, c := range name[dash+1:] {
		if c < '0' || c > '9' {
			return name
		}
	}
	return name[:dash]
}

// ───────────────────────────────────────────
//  lifecycle
// ───────────────────────────────────────────

// Open resolves the character device of dev, derives its names, takes a
// private copy of the descriptor and opens the device read/write. No
// region is mapped yet.
func Open(dev *types.Device) (*Context, error) {
	if dev == nil || dev.Root == "" {
		return nil, accelerr.New(accelerr.CodeNotFound, "open", "device has no sysfs root")
	}

	path, err := filepath.EvalSymlinks(dev.CharDevPath)
	if err != nil {
		return nil, accelerr.Wrap(accelerr.CodeNotFound, "open", err)
	}
	if path, err = filepath.Abs(path); err != nil {
		return nil, accelerr.Wrap(accelerr.CodeNotFound, "open", err)
	}

	ctx := &Context{
		fd:      -1,
		path:    path,
		devName: AccelName(path, false),
		drvName: AccelName(path, true),
	}
	if ctx.devName == "" || ctx.drvName == "" {
		return nil, accelerr.New(accelerr.CodeNotFound, "open", "cannot derive device name from %s", path)
	}
	ctx.dev = dev.Clone()
	ctx.regionSize = ctx.dev.RegionSize

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		log.Errorf("accelctx: failed to open %s: %v", path, err)
		return nil, accelerr.Wrap(accelerr.CodeIO, "open", err)
	}
	ctx.fd = fd

	log.Debugf("accelctx: opened %s (driver %s, fd %d)", path, ctx.drvName, fd)
	return ctx, nil
}

// Close unmaps every mapped region and closes the descriptor. It is safe
// to call more than once.
func (c *Context) Close() error {
	if c == nil || c.fd < 0 {
		return nil
	}
	var err error
	for r := types.RegionType(0); r < types.RegionMax; r++ {
		err = multierr.Append(err, c.Unmap(r))
	}
	if cerr := unix.Close(c.fd); cerr != nil {
		err = multierr.Append(err, accelerr.Wrap(accelerr.CodeIO, "close", cerr))
	}
	c.fd = -1
	c.priv = nil
	return err
}

func (c *Context) check(op string) error {
	if c == nil || c.fd < 0 {
		return accelerr.New(accelerr.CodeInvalidArgument, op, "context is not open")
	}
	return nil
}

// ───────────────────────────────────────────
//  queue regions
// ───────────────────────────────────────────

// Map maps region r shared read/write at offset r*pagesize. A region whose
// declared size is zero does not exist; Map returns nil without error.
// Mapping an already mapped region returns the existing mapping.
func (c *Context) Map(r types.RegionType) ([]byte, error) {
	if err := c.check("mmap"); err != nil {
		return nil, err
	}
	if !r.Valid() {
		return nil, accelerr.New(accelerr.CodeInvalidArgument, "mmap", "invalid region %d", r)
	}
	size := c.regionSize[r]
	if size == 0 {
		return nil, nil
	}
	if c.regions[r] != nil {
		return c.regions[r], nil
	}

	off := int64(r) * int64(unix.Getpagesize())
	mem, err := unix.Mmap(c.fd, off, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		log.Errorf("accelctx: failed to map %s region of %s: %v", r, c.path, err)
		return nil, accelerr.Wrap(accelerr.CodeIO, "mmap", err)
	}
	c.regions[r] = mem
	return mem, nil
}

// Unmap releases region r. Zero-size and unmapped regions are no-ops.
func (c *Context) Unmap(r types.RegionType) error {
	if c == nil || !r.Valid() || c.regionSize[r] == 0 || c.regions[r] == nil {
		return nil
	}
	mem := c.regions[r]
	c.regions[r] = nil
	if err := unix.Munmap(mem); err != nil {
		return accelerr.Wrap(accelerr.CodeIO, "munmap", err)
	}
	return nil
}

// Region returns the mapped base of r, or nil when not mapped.
func (c *Context) Region(r types.RegionType) []byte {
	if c == nil || !r.Valid() {
		return nil
	}
	return c.regions[r]
}

// RegionSize returns the declared size of r.
func (c *Context) RegionSize(r types.RegionType) uint64 {
	if c == nil || !r.Valid() {
		return 0
	}
	return c.regionSize[r]
}

// ───────────────────────────────────────────
//  control
// ───────────────────────────────────────────

// IssueCommand passes cmd to the device ioctl, with arg only when non-nil.
// On failure the result is the negated errno.
func (c *Context) IssueCommand(cmd uintptr, arg unsafe.Pointer) (int, error) {
	if err := c.check("ioctl"); err != nil {
		return accelerr.Errno(err), err
	}
	var (
		r1    uintptr
		errno unix.Errno
	)
	if arg == nil {
		r1, _, errno = unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), cmd, 0)
	} else {
		r1, _, errno = unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), cmd, uintptr(arg))
	}
	if errno != 0 {
		return -int(errno), accelerr.Wrap(accelerr.CodeIO, "ioctl", errno)
	}
	return int(r1), nil
}

// Start starts the queue.
func (c *Context) Start() (int, error) {
	ret, err := c.IssueCommand(CmdStart, nil)
	if err != nil {
		log.Errorf("accelctx: failed to start on %s: %v", c.Path(), err)
	}
	return ret, err
}

// ForceRelease puts the queue back to the device ahead of Close.
func (c *Context) ForceRelease() (int, error) {
	ret, err := c.IssueCommand(CmdPutQ, nil)
	if err != nil {
		log.Errorf("accelctx: failed to stop on %s: %v", c.Path(), err)
	}
	return ret, err
}

// Wait polls the descriptor for readability. A zero timeout does not
// block and a negative one blocks until an event arrives. It returns the
// number of ready descriptors, or the negated errno on failure.
func (c *Context) Wait(timeoutMs int) (int, error) {
	if err := c.check("poll"); err != nil {
		return accelerr.Errno(err), err
	}
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		return accelerr.Errno(err), accelerr.Wrap(accelerr.CodeIO, "poll", err)
	}
	return n, nil
}

// ───────────────────────────────────────────
//  accessors
// ───────────────────────────────────────────

// NUMANode returns the home node of the device.
func (c *Context) NUMANode() (int, error) {
	if err := c.check("numa"); err != nil {
		return 0, err
	}
	return c.dev.NUMANode, nil
}

// API returns the API tag of the device.
func (c *Context) API() (string, error) {
	if err := c.check("api"); err != nil {
		return "", err
	}
	return c.dev.API, nil
}

// IsSVA reports whether the device shares the process address space.
func (c *Context) IsSVA() (bool, error) {
	if err := c.check("sva"); err != nil {
		return false, err
	}
	return c.dev.IsSVA(), nil
}

// Priv returns the opaque private state slot.
func (c *Context) Priv() (interface{}, error) {
	if err := c.check("priv"); err != nil {
		return nil, err
	}
	return c.priv, nil
}

// SetPriv stores v in the private state slot.
func (c *Context) SetPriv(v interface{}) error {
	if err := c.check("priv"); err != nil {
		return err
	}
	c.priv = v
	return nil
}

// Fd returns the device descriptor, -1 once closed.
func (c *Context) Fd() int {
	if c == nil {
		return -1
	}
	return c.fd
}

func (c *Context) Path() string {
	if c == nil {
		return ""
	}
	return c.path
}

func (c *Context) DeviceName() string {
	if c == nil {
		return ""
	}
	return c.devName
}

func (c *Context) DriverName() string {
	if c == nil {
		return ""
	}
	return c.drvName
}

// Device returns the context's private descriptor copy.
func (c *Context) Device() *types.Device {
	if c == nil {
		return nil
	}
	return c.dev
}
