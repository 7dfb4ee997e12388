package meter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const (
	functionReadHoldingRegs = 0x03
	functionReadInputRegs   = 0x04

	exceptionIllegalFunction = 0x01
	exceptionIllegalDataAddr = 0x02
	exceptionIllegalDataVal  = 0x03
)

var (
	errOutOfRange    = errors.New("out of range")
	errInvalidQty    = errors.New("invalid quantity")
	errInvalidPDULen = errors.New("invalid pdu length")
)

// Simulator is a Modbus TCP panel that serves holding and input registers.
// It stands in for a real control panel in tests and bench setups.
type Simulator struct {
	log       *zap.Logger
	listener  net.Listener
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once
	// serving counts goroutines tied to open connections.
	serving atomic.Int32

	mu      sync.RWMutex
	holding []uint16
	input   []uint16
}

func NewSimulator(log *zap.Logger) *Simulator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Simulator{
		log:     log,
		holding: make([]uint16, 65536),
		input:   make([]uint16, 65536),
		quit:    make(chan struct{}),
	}
}

// Listen starts accepting connections on address; use "127.0.0.1:0" for an
// ephemeral port and Addr to find it.
func (s *Simulator) Listen(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.listener = l
	s.log.Info("panel simulator listening", zap.String("addr", l.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Simulator) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Simulator) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Simulator) handleConnection(conn net.Conn) {
	s.serving.Add(1)
	defer s.wg.Done()
	defer s.serving.Add(-1)
	defer conn.Close()

	// Unblock the read below on shutdown; exits with the connection.
	done := make(chan struct{})
	defer close(done)
	s.serving.Add(1)
	go func() {
		defer s.serving.Add(-1)
		select {
		case <-s.quit:
			conn.Close()
		case <-done:
		}
	}()

	header := make([]byte, 7)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		length := binary.BigEndian.Uint16(header[4:6])
		pduLength := int(length) - 1
		if pduLength <= 0 {
			continue
		}
		pdu := make([]byte, pduLength)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}

		response := s.handlePDU(pdu)
		binary.BigEndian.PutUint16(header[2:4], 0)
		binary.BigEndian.PutUint16(header[4:6], uint16(len(response)+1))
		if _, err := conn.Write(append(header, response...)); err != nil {
			return
		}
	}
}

func (s *Simulator) handlePDU(pdu []byte) []byte {
	if len(pdu) == 0 {
		return exceptionResponse(0, exceptionIllegalFunction)
	}
	function := pdu[0]
	var source []uint16
	switch function {
	case functionReadHoldingRegs:
		source = s.holding
	case functionReadInputRegs:
		source = s.input
	default:
		return exceptionResponse(function, exceptionIllegalFunction)
	}
	data, err := s.readRegisters(source, pdu)
	if err != nil {
		return exceptionResponse(function, errToCode(err))
	}
	return append([]byte{function, byte(len(data))}, data...)
}

func (s *Simulator) readRegisters(source []uint16, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return nil, errInvalidPDULen
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	quantity := binary.BigEndian.Uint16(pdu[3:5])
	if quantity == 0 || quantity > 125 {
		return nil, errInvalidQty
	}
	if int(start)+int(quantity) > len(source) {
		return nil, errOutOfRange
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]byte, quantity*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:(i+1)*2], source[int(start)+i])
	}
	return result, nil
}

func exceptionResponse(function byte, code byte) []byte {
	return []byte{function | 0x80, code}
}

func errToCode(err error) byte {
	switch {
	case errors.Is(err, errOutOfRange):
		return exceptionIllegalDataAddr
	case errors.Is(err, errInvalidQty), errors.Is(err, errInvalidPDULen):
		return exceptionIllegalDataVal
	default:
		return exceptionIllegalFunction
	}
}

// Close stops the simulator and waits for all goroutines to exit.
func (s *Simulator) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
}

func (s *Simulator) bank(registerType string) ([]uint16, error) {
	switch registerType {
	case "holding":
		return s.holding, nil
	case "input":
		return s.input, nil
	}
	return nil, fmt.Errorf("register type %s does not support word writes", registerType)
}

// SetRegister updates one raw register word.
func (s *Simulator) SetRegister(registerType string, address, value uint16) error {
	bank, err := s.bank(registerType)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bank[address] = value
	return nil
}

// SetPoint stores v so that a Reader configured with p reads it back.
func (s *Simulator) SetPoint(p Point, v float64) error {
	bank, err := s.bank(p.registerType())
	if err != nil {
		return err
	}
	words, err := encode(p, v)
	if err != nil {
		return err
	}
	if int(p.Address)+len(words) > len(bank) {
		return fmt.Errorf("address %d out of range for %s", p.Address, p.dataType())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(bank[p.Address:], words)
	return nil
}

// SetValues applies a row of field values to the panel's points. Fields
// without a point are ignored.
func (s *Simulator) SetValues(points []Point, values map[Field]float64) error {
	var errs []error
	for _, p := range points {
		v, ok := values[p.Field]
		if !ok {
			continue
		}
		if err := s.SetPoint(p, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Field, err))
		}
	}
	return errors.Join(errs...)
}
