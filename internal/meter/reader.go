package meter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mb "github.com/goburrow/modbus"
	"go.uber.org/zap"

	"manhole-inspection/internal/model"
)

const defaultTimeout = 5 * time.Second

// Readings are the values read from a panel in one pass.
type Readings struct {
	EquipmentID model.ID
	Values      map[Field]float64
	Units       map[Field]string
	ReadAt      time.Time
}

// Apply copies the readings onto an inspection draft. Fields the panel did
// not report are left as they are.
func (r Readings) Apply(insp *model.Inspection) {
	set := func(f Field, dst *model.Reading) {
		if v, ok := r.Values[f]; ok {
			*dst = model.ReadingOf(v)
		}
	}
	set(FieldVoltage, &insp.Voltage)
	set(FieldNo1Current, &insp.No1Current)
	set(FieldNo2Current, &insp.No2Current)
	set(FieldNo1Hour, &insp.No1Hour)
	set(FieldNo2Hour, &insp.No2Hour)
	set(FieldOperationWaterLevel, &insp.OperationWaterLevel)
	set(FieldAbnormalWaterLevel, &insp.AbnormalWaterLevel)
	if u := r.Units[FieldOperationWaterLevel]; u != "" {
		insp.OperationWaterLevelUnit = u
	}
	if u := r.Units[FieldAbnormalWaterLevel]; u != "" {
		insp.AbnormalWaterLevelUnit = u
	}
}

// handlerWithConn embeds mb.ClientHandler and exposes Connect/Close used for lifecycle.
type handlerWithConn interface {
	mb.ClientHandler
	Connect() error
	Close() error
}

// Reader reads one panel.
type Reader struct {
	panel Panel
	log   *zap.Logger
	now   func() time.Time
}

// NewReader validates the panel configuration.
func NewReader(p Panel, log *zap.Logger) (*Reader, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{panel: p, log: log.With(zap.Int64("equipment", int64(p.EquipmentID))), now: time.Now}, nil
}

// newHandler creates and configures a handler for TCP or RTU based on config.
// It returns the handler and a human-readable address for logs.
func (r *Reader) newHandler() (handlerWithConn, string) {
	p := r.panel
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if p.protocol() == "rtu" {
		h := mb.NewRTUClientHandler(p.SerialPort)
		if p.BaudRate > 0 {
			h.BaudRate = p.BaudRate
		}
		if p.DataBits > 0 {
			h.DataBits = p.DataBits
		}
		if p.StopBits > 0 {
			h.StopBits = p.StopBits
		}
		if parity := strings.ToUpper(strings.TrimSpace(p.Parity)); parity != "" {
			h.Parity = parity
		}
		h.Timeout = timeout
		h.SlaveId = p.SlaveID
		return h, p.SerialPort
	}
	h := mb.NewTCPClientHandler(p.Address)
	h.Timeout = timeout
	h.SlaveId = p.SlaveID
	return h, p.Address
}

func (r *Reader) connect(ctx context.Context, h handlerWithConn, addr string) error {
	retry := max(r.panel.RetryCount, 0)
	for attempt := 0; ; attempt++ {
		err := h.Connect()
		if err == nil {
			return nil
		}
		if attempt >= retry {
			return fmt.Errorf("connect %s: %w", addr, err)
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Read connects, reads every configured point once and disconnects. A
// point that fails to read is logged and left out; Read fails only when no
// point could be read.
func (r *Reader) Read(ctx context.Context) (Readings, error) {
	h, addr := r.newHandler()
	if err := r.connect(ctx, h, addr); err != nil {
		return Readings{}, err
	}
	defer h.Close()
	client := mb.NewClient(h)

	out := Readings{
		EquipmentID: r.panel.EquipmentID,
		Values:      make(map[Field]float64, len(r.panel.Points)),
		Units:       map[Field]string{},
		ReadAt:      r.now(),
	}
	var errs []error
	for _, p := range r.panel.Points {
		if err := ctx.Err(); err != nil {
			return Readings{}, err
		}
		v, err := readPoint(client, p)
		if err != nil {
			r.log.Warn("panel point unreadable", zap.String("field", string(p.Field)), zap.Uint16("address", p.Address), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s@%d: %w", p.Field, p.Address, err))
			continue
		}
		out.Values[p.Field] = round(v, p.decimals())
		if p.Unit != "" {
			out.Units[p.Field] = p.Unit
		}
	}
	if len(out.Values) == 0 {
		return Readings{}, fmt.Errorf("read panel %s: %w", addr, errors.Join(errs...))
	}
	r.log.Debug("panel read", zap.String("addr", addr), zap.Int("points", len(out.Values)))
	return out, nil
}

func readPoint(client mb.Client, p Point) (float64, error) {
	var (
		data []byte
		err  error
	)
	switch p.registerType() {
	case "holding":
		data, err = client.ReadHoldingRegisters(p.Address, p.words())
	case "input":
		data, err = client.ReadInputRegisters(p.Address, p.words())
	default:
		return 0, fmt.Errorf("unsupported register type: %s", p.RegisterType)
	}
	if err != nil {
		return 0, err
	}
	return decode(p, data)
}
