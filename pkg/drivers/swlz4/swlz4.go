// Package swlz4 is the software lz4 backend. Payloads use the lz4 frame
// format so a compressed buffer carries its own size and checksums.
package swlz4

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Nativu5/uadk-go/pkg/accelctx"
	"github.com/Nativu5/uadk-go/pkg/accelerr"
	"github.com/Nativu5/uadk-go/pkg/driverapi"
	"github.com/Nativu5/uadk-go/pkg/registry"
)

const (
	DriverName = "lz4_sw"
	Algorithm  = "lz4"
)

var levels = [...]lz4.CompressionLevel{
	lz4.Fast,
	lz4.Level1, lz4.Level2, lz4.Level3,
	lz4.Level4, lz4.Level5, lz4.Level6,
	lz4.Level7, lz4.Level8, lz4.Level9,
}

type ops struct {
	level lz4.CompressionLevel
}

// Init registers the lz4 driver. The "level" option ranges from 0 (fast)
// to 9.
func Init(reg *registry.Registry, config map[string]interface{}) error {
	level := driverapi.IntOption(config, driverapi.ConfigLevel, 0)
	if level < 0 || level >= len(levels) {
		return accelerr.New(accelerr.CodeInvalidArgument, "swlz4", "invalid level %d", level)
	}

	drv := &registry.Driver{
		Name:     DriverName,
		Alg:      Algorithm,
		Priority: registry.PrioritySoft,
		Ops:      &ops{level: levels[level]},
	}
	if err := reg.Register(drv); err != nil {
		log.Errorf("%s: error registering driver: %v", DriverName, err)
		return err
	}
	return nil
}

func (o *ops) Init(drv *registry.Driver, conf interface{}) error { return nil }
func (o *ops) Exit(drv *registry.Driver) {}
func (o *ops) Usage(param interface{}) (int, error) { return 0, nil }

func (o *ops) Send(drv *registry.Driver, q *accelctx.Context, msg interface{}) error {
	m, ok := msg.(*driverapi.CompMsg)
	if !ok || m == nil {
		return accelerr.New(accelerr.CodeNotSupported, "send", "%s accepts compression messages only", DriverName)
	}

	var (
		out []byte
		err error
	)
	switch m.Op {
	case driverapi.CompOpCompress:
		if len(m.Src) == 0 {
			return accelerr.New(accelerr.CodeInvalidArgument, "send", "empty input")
		}
		out, err = o.compress(m.Src)
	case driverapi.CompOpDecompress:
		out, err = io.ReadAll(lz4.NewReader(bytes.NewReader(m.Src)))
	default:
		return accelerr.New(accelerr.CodeInvalidArgument, "send", "unknown op %d", m.Op)
	}
	if err != nil {
		return accelerr.Wrap(accelerr.CodeIO, "lz4 "+m.Op.String(), err)
	}
	m.Dst, m.Done = out, true
	return nil
}

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

func (o *ops) compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(o.level)); err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
