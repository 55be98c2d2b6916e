// Package swdeflate is the software backend for the deflate family of
// algorithms: raw deflate, zlib and gzip.
package swdeflate

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	log "github.com/sirupsen/logrus"

	"github.com/Nativu5/uadk-go/pkg/accelctx"
	"github.com/Nativu5/uadk-go/pkg/accelerr"
	"github.com/Nativu5/uadk-go/pkg/driverapi"
	"github.com/Nativu5/uadk-go/pkg/registry"
)

// DriverName is the registered name of every driver of this backend.
const DriverName = "deflate_sw"

// Algorithms served by this backend.
var Algorithms = []string{"deflate", "zlib", "gzip"}

type codec struct {
	writer func(w io.Writer, level int) (io.WriteCloser, error)
	reader func(r io.Reader) (io.ReadCloser, error)
}

var codecs = map[string]codec{
	"deflate": {
		writer: func(w io.Writer, level int) (io.WriteCloser, error) { return flate.NewWriter(w, level) },
		reader: func(r io.Reader) (io.ReadCloser, error) { return flate.NewReader(r), nil },
	},
	"zlib": {
		writer: func(w io.Writer, level int) (io.WriteCloser, error) { return zlib.NewWriterLevel(w, level) },
		reader: func(r io.Reader) (io.ReadCloser, error) { return zlib.NewReader(r) },
	},
	"gzip": {
		writer: func(w io.Writer, level int) (io.WriteCloser, error) { return gzip.NewWriterLevel(w, level) },
		reader: func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) },
	},
}

type ops struct {
	level int
}

// Init registers one driver per algorithm. The "level" option sets the
// compression level, flate.DefaultCompression when absent.
func Init(reg *registry.Registry, config map[string]interface{}) error {
	level := driverapi.IntOption(config, driverapi.ConfigLevel, flate.DefaultCompression)
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		return accelerr.New(accelerr.CodeInvalidArgument, "swdeflate", "invalid level %d", level)
	}

	o := &ops{level: level}
	for _, alg := range Algorithms {
		drv := &registry.Driver{
			Name:     DriverName,
			Alg:      alg,
			Priority: registry.PrioritySoft,
			Ops:      o,
		}
		if err := reg.Register(drv); err != nil {
			log.Errorf("%s: error registering driver for %s: %v", DriverName, alg, err)
			return err
		}
	}
	return nil
}

func (o *ops) Init(drv *registry.Driver, conf interface{}) error { return nil }
func (o *ops) Exit(drv *registry.Driver) {}

// Usage reports zero: software drivers have no queue to saturate.
func (o *ops) Usage(param interface{}) (int, error) { return 0, nil }

// Send runs the job synchronously. q is ignored.
func (o *ops) Send(drv *registry.Driver, q *accelctx.Context, msg interface{}) error {
	m, ok := msg.(*driverapi.CompMsg)
	if !ok || m == nil {
		return accelerr.New(accelerr.CodeNotSupported, "send", "%s accepts compression messages only", DriverName)
	}
	c, ok := codecs[drv.Alg]
	if !ok {
		return accelerr.New(accelerr.CodeNotSupported, "send", "%s does not serve %s", DriverName, drv.Alg)
	}

	var (
		out []byte
		err error
	)
	switch m.Op {
	case driverapi.CompOpCompress:
		out, err = o.compress(c, m.Src)
	case driverapi.CompOpDecompress:
		out, err = decompress(c, m.Src)
	default:
		return accelerr.New(accelerr.CodeInvalidArgument, "send", "unknown op %d", m.Op)
	}
	if err != nil {
		return accelerr.Wrap(accelerr.CodeIO, drv.Alg+" "+m.Op.String(), err)
	}
	m.Dst, m.Done = out, true
	return nil
}

// Recv completes a job started by Send.
func (o *ops) Recv(drv *registry.Driver, q *accelctx.Context, msg interface{}) error {
	m, ok := msg.(*driverapi.CompMsg)
	if !ok || m == nil {
		return accelerr.New(accelerr.CodeNotSupported, "recv", "%s accepts compression messages only", DriverName)
	}
	if !m.Done {
		return accelerr.New(accelerr.CodeUnavailable, "recv", "no completed job")
	}
	m.Done = false
	return nil
}

func (o *ops) compress(c codec, src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.writer(&buf, o.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(c codec, src []byte) ([]byte, error) {
	r, err := c.reader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
