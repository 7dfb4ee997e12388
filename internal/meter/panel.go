// Package meter reads pump-panel registers over Modbus so an inspection
// draft can be pre-filled with the panel's own readings.
package meter

import (
	"fmt"
	"strings"
	"time"

	"manhole-inspection/internal/model"
)

// Field names the inspection reading a point fills.
type Field string

const (
	FieldVoltage             Field = "voltage"
	FieldNo1Current          Field = "no1Current"
	FieldNo2Current          Field = "no2Current"
	FieldNo1Hour             Field = "no1Hour"
	FieldNo2Hour             Field = "no2Hour"
	FieldOperationWaterLevel Field = "operationWaterLevel"
	FieldAbnormalWaterLevel  Field = "abnormalWaterLevel"
)

var knownFields = map[Field]bool{
	FieldVoltage: true, FieldNo1Current: true, FieldNo2Current: true,
	FieldNo1Hour: true, FieldNo2Hour: true,
	FieldOperationWaterLevel: true, FieldAbnormalWaterLevel: true,
}

const defaultDecimals = 2

// Panel is the Modbus connection to one equipment's control panel.
type Panel struct {
	EquipmentID model.ID      `yaml:"equipment_id"`
	Protocol    string        `yaml:"protocol"` // modbus-tcp | modbus-rtu
	Address     string        `yaml:"address"`  // host:port
	SlaveID     uint8         `yaml:"slave_id"`
	Timeout     time.Duration `yaml:"timeout"`
	RetryCount  int           `yaml:"retry_count"`

	// RTU
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
	DataBits   int    `yaml:"data_bits"`
	StopBits   int    `yaml:"stop_bits"`
	Parity     string `yaml:"parity"`

	Points []Point `yaml:"points"`
}

// Point maps one register to one inspection reading.
type Point struct {
	Field        Field   `yaml:"field"`
	Address      uint16  `yaml:"address"`
	RegisterType string  `yaml:"register_type"` // holding | input
	DataType     string  `yaml:"data_type"`     // uint16 | int16 | uint32 | int32 | float32
	ByteOrder    string  `yaml:"byte_order"`    // ABCD | DCBA | BADC | CDAB
	Scale        float64 `yaml:"scale"`
	Offset       float64 `yaml:"offset"`
	Decimals     *int    `yaml:"decimals"`
	Unit         string  `yaml:"unit"`
}

func (p Point) scale() float64 {
	if p.Scale == 0 {
		return 1
	}
	return p.Scale
}

func (p Point) decimals() int {
	if p.Decimals == nil || *p.Decimals < 0 {
		return defaultDecimals
	}
	return *p.Decimals
}

func (p Point) registerType() string { return strings.ToLower(strings.TrimSpace(p.RegisterType)) }

func (p Point) dataType() string {
	dt := strings.ToLower(strings.TrimSpace(p.DataType))
	if dt == "" {
		return "uint16"
	}
	return dt
}

// words is how many registers the point spans.
func (p Point) words() uint16 {
	switch p.dataType() {
	case "float32", "uint32", "int32":
		return 2
	}
	return 1
}

func (p Panel) protocol() string {
	switch strings.ToLower(strings.TrimSpace(p.Protocol)) {
	case "", "modbus-tcp", "tcp":
		return "tcp"
	case "modbus-rtu", "rtu":
		return "rtu"
	}
	return p.Protocol
}

// Validate checks the panel before any connection is attempted.
func (p Panel) Validate() error {
	switch p.protocol() {
	case "tcp":
		if strings.TrimSpace(p.Address) == "" {
			return fmt.Errorf("panel %d: address is required for modbus-tcp", p.EquipmentID)
		}
	case "rtu":
		if strings.TrimSpace(p.SerialPort) == "" {
			return fmt.Errorf("panel %d: serial_port is required for modbus-rtu", p.EquipmentID)
		}
	default:
		return fmt.Errorf("panel %d: protocol %s not implemented", p.EquipmentID, p.Protocol)
	}
	if len(p.Points) == 0 {
		return fmt.Errorf("panel %d: no points configured", p.EquipmentID)
	}
	seen := map[Field]bool{}
	for _, pt := range p.Points {
		if !knownFields[pt.Field] {
			return fmt.Errorf("panel %d: unknown field %q", p.EquipmentID, pt.Field)
		}
		if seen[pt.Field] {
			return fmt.Errorf("panel %d: field %q mapped twice", p.EquipmentID, pt.Field)
		}
		seen[pt.Field] = true
		switch pt.registerType() {
		case "holding", "input":
		default:
			return fmt.Errorf("panel %d: unsupported register type %q for %s", p.EquipmentID, pt.RegisterType, pt.Field)
		}
		switch pt.dataType() {
		case "uint16", "int16", "uint32", "int32", "float32":
		default:
			return fmt.Errorf("panel %d: unsupported data type %q for %s", p.EquipmentID, pt.DataType, pt.Field)
		}
	}
	return nil
}

// FindPanel returns the panel configured for an equipment.
func FindPanel(panels []Panel, equipmentID model.ID) (Panel, bool) {
	for _, p := range panels {
		if p.EquipmentID == equipmentID {
			return p, true
		}
	}
	return Panel{}, false
}
