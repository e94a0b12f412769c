// Package nrf24 drives the nRF24L01(+) 2.4GHz transceiver over SPI.
//
// The driver owns a single mutex that guards the SPI bus and the CE pin.
// Write (transmit) and ReadLoop (interrupt-driven receive) may run on
// different goroutines, and Write may be called from inside a ReadLoop
// handler; a receive-FIFO drain never interleaves with a transmit.
//
// The radio uses one 5 byte address: it is both the transmit target and the
// address this radio listens on. Payloads are always dynamic, 1 to 32 bytes.
package nrf24

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPkg             = errors.New("nrf24dev")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrMaxRetries      = errors.New("max retransmissions reached")
	ErrTimeout         = errors.New("timeout waiting for device")
	ErrNoIRQ           = errors.New("IRQ pin not configured")
	ErrLoopRunning     = errors.New("read loop already running")
	ErrBus             = errors.New("bus error")
)

type Address [_ADDRESS_WIDTH]byte

// DefaultAddress is the chip's reset value for TX_ADDR and RX_ADDR_P0.
var DefaultAddress = Address{0xE7, 0xE7, 0xE7, 0xE7, 0xE7}

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4])
}

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText accepts "E7:E7:E7:E7:E7" or "E7E7E7E7E7".
func (a *Address) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(strings.ReplaceAll(string(text), ":", ""))
	if err != nil || len(b) != _ADDRESS_WIDTH {
		return fmt.Errorf("%w: bad address %q", ErrInvalidConfig, text)
	}
	copy(a[:], b)
	return nil
}

// valid rejects single-level addresses, which the receiver cannot tell
// apart from noise.
func (a Address) valid() bool {
	for _, b := range a[1:] {
		if b != a[0] {
			return true
		}
	}
	return a[0] != 0x00 && a[0] != 0xFF
}

type (
	DataRate  byte
	PALevel   byte
	CRCLength byte
)

// The zero value of each setting selects its default.
const (
	// DataRate1mbps represents a data rate of 1mbps. It is the default.
	DataRate1mbps DataRate = iota + 1
	// DataRate2mbps represents a data rate of 2mbps
	DataRate2mbps
	// DataRate250kbps represents a data rate of 250kbps
	DataRate250kbps
)

func (d DataRate) String() string {
	switch d {
	case DataRate250kbps:
		return "250kbps"
	case DataRate1mbps:
		return "1mbps"
	case DataRate2mbps:
		return "2mbps"
	default:
		return "unknown"
	}
}

func (d *DataRate) UnmarshalText(text []byte) error {
	for _, v := range []DataRate{DataRate1mbps, DataRate2mbps, DataRate250kbps} {
		if strings.EqualFold(string(text), v.String()) {
			*d = v
			return nil
		}
	}
	return fmt.Errorf("%w: unknown data rate %q", ErrInvalidConfig, text)
}

const (
	// PALevelMax represents a power amplifier level of 0dBm. It is the default.
	PALevelMax PALevel = iota + 1
	// PALevelHigh represents a power amplifier level of -6dBm
	PALevelHigh
	// PALevelLow represents a power amplifier level of -12dBm
	PALevelLow
	// PALevelMin represents a power amplifier level of -18dBm
	PALevelMin
)

func (p PALevel) String() string {
	switch p {
	case PALevelMin:
		return "-18dBm"
	case PALevelLow:
		return "-12dBm"
	case PALevelHigh:
		return "-6dBm"
	case PALevelMax:
		return "0dBm"
	default:
		return "unknown"
	}
}

func (p *PALevel) UnmarshalText(text []byte) error {
	for _, v := range []PALevel{PALevelMax, PALevelHigh, PALevelLow, PALevelMin} {
		if strings.EqualFold(string(text), v.String()) {
			*p = v
			return nil
		}
	}
	return fmt.Errorf("%w: unknown PA level %q", ErrInvalidConfig, text)
}

const (
	// CRCLength16 enables 16-bit CRC. It is the default.
	CRCLength16 CRCLength = iota + 1
	// CRCLength8 enables 8-bit CRC
	CRCLength8
	// CRCLengthDisabled disables CRC. The chip forces CRC on while auto-ack is enabled.
	CRCLengthDisabled
)

func (c CRCLength) String() string {
	switch c {
	case CRCLength16:
		return "16"
	case CRCLength8:
		return "8"
	case CRCLengthDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

func (c *CRCLength) UnmarshalText(text []byte) error {
	for _, v := range []CRCLength{CRCLength16, CRCLength8, CRCLengthDisabled} {
		if strings.EqualFold(string(text), v.String()) {
			*c = v
			return nil
		}
	}
	return fmt.Errorf("%w: unknown CRC length %q", ErrInvalidConfig, text)
}

func (c CRCLength) configBits() byte {
	switch c {
	case CRCLength8:
		return _EN_CRC
	case CRCLengthDisabled:
		return 0
	default:
		return _EN_CRC | _CRCO
	}
}

type RadioConfig struct {
	// Channel determines the RF frequency, 2400MHz + Channel. The range is
	// between 0 and 125.
	// Channel numbers like 70-80 (around 2470-2480 MHz) are often good choices because they sit above the main Wi-Fi
	// spectrum used in many regions.
	Channel byte `json:"channel"`
	// Address is both the address this radio listens on (pipe 1, and pipe 0
	// which also receives auto-acks) and the transmit target.
	// Defaults to DefaultAddress if not provided.
	Address Address `json:"address"`
	// AutoAckPipes is the EN_AA pipe bitmask.
	// Defaults to pipes 0 and 1 if not provided.
	AutoAckPipes byte `json:"auto_ack_pipes"`
	// DisableAutoAck turns hardware auto-acknowledgement off on every pipe.
	// Transmits then always report success.
	DisableAutoAck bool `json:"disable_auto_ack"`
	// DynamicPayloadPipes is the DYNPD pipe bitmask.
	// Defaults to pipes 0 and 1 if not provided.
	DynamicPayloadPipes byte `json:"dynamic_payload_pipes"`
	// CRCLength sets the CRC length.
	// Defaults to CRCLength16 if not provided.
	CRCLength CRCLength `json:"crc_length"`
	// DataRate sets the data rate.
	// Defaults to DataRate1mbps if not provided.
	DataRate DataRate `json:"data_rate"`
	// PALevel sets the power amplifier level.
	// Defaults to PALevelMax if not provided.
	PALevel PALevel `json:"pa_level"`
	// AutoRetransmitDelay sets the auto-retransmit delay.
	// The value is in microseconds and must be a multiple of 250.
	// Range: 250 to 4000.
	// Defaults to 250 if not provided.
	AutoRetransmitDelay uint16 `json:"auto_retransmit_delay"`
	// AutoRetransmitCount sets the auto-retransmit count.
	// Range: 1 to 15.
	// Defaults to 15 if not provided; use DisableAutoRetransmit for 0.
	AutoRetransmitCount byte `json:"auto_retransmit_count"`
	// DisableAutoRetransmit sends each payload once, overriding
	// AutoRetransmitCount.
	DisableAutoRetransmit bool `json:"disable_auto_retransmit"`
	// TxTimeout bounds the wait for a transmission to complete.
	// Defaults to the worst case retransmit time plus 50ms.
	TxTimeout time.Duration `json:"-"`
	// Logger receives the driver's logs.
	// Defaults to the logger set with SetLogger.
	Logger Logger `json:"-"`
}

// withDefaults fills unset fields and validates the result.
func (c RadioConfig) withDefaults() (RadioConfig, error) {
	if c.Address == (Address{}) {
		c.Address = DefaultAddress
	}
	if c.AutoAckPipes == 0 {
		c.AutoAckPipes = _ERX_P0 | _ERX_P1
	}
	if c.DisableAutoAck {
		c.AutoAckPipes = 0
	}
	if c.DynamicPayloadPipes == 0 {
		c.DynamicPayloadPipes = _ERX_P0 | _ERX_P1
	}
	if c.CRCLength == 0 {
		c.CRCLength = CRCLength16
	}
	if c.DataRate == 0 {
		c.DataRate = DataRate1mbps
	}
	if c.PALevel == 0 {
		c.PALevel = PALevelMax
	}
	if c.AutoRetransmitDelay == 0 {
		c.AutoRetransmitDelay = 250
	}
	if c.AutoRetransmitCount == 0 {
		c.AutoRetransmitCount = 15
	}
	if c.DisableAutoRetransmit {
		c.AutoRetransmitCount = 0
	}
	if c.TxTimeout == 0 {
		c.TxTimeout = txTimeout(c.AutoRetransmitDelay, c.AutoRetransmitCount)
	}
	if c.Logger == nil {
		c.Logger = globalLogger
	}

	switch {
	case c.Channel > _MAX_CHANNEL:
		return c, fmt.Errorf("%w: channel number must be between 0 and %d", ErrInvalidConfig, _MAX_CHANNEL)
	case !c.Address.valid():
		return c, fmt.Errorf("%w: address %s is a single level", ErrInvalidConfig, c.Address)
	case c.AutoAckPipes > 0x3F || c.DynamicPayloadPipes > 0x3F:
		return c, fmt.Errorf("%w: pipe masks must fit pipes 0 to 5", ErrInvalidConfig)
	case c.DataRate > DataRate250kbps || c.PALevel > PALevelMin || c.CRCLength > CRCLengthDisabled:
		return c, fmt.Errorf("%w: unknown data rate, PA level or CRC length", ErrInvalidConfig)
	}
	if err := checkRetransmit(c.AutoRetransmitDelay, c.AutoRetransmitCount); err != nil {
		return c, err
	}
	return c, nil
}

func checkRetransmit(delay uint16, count byte) error {
	if delay < 250 || delay > 4000 || delay%250 != 0 {
		return fmt.Errorf("%w: delay must be between 250 and 4000 us and multiple of 250", ErrInvalidConfig)
	}
	if count > 15 {
		return fmt.Errorf("%w: count must be between 0 and 15", ErrInvalidConfig)
	}
	return nil
}

// txTimeout is the longest the hardware spends retrying plus a 50ms safety
// buffer for SPI communication and OS scheduling.
func txTimeout(delay uint16, count byte) time.Duration {
	return time.Duration(delay)*time.Duration(count+1)*time.Microsecond + 50*time.Millisecond
}

func setupRetr(delay uint16, count byte) byte {
	ard := (delay/250 - 1) & 0x0F
	return byte(ard)<<4 | count&0x0F
}

func rfSetup(rate DataRate, level PALevel) byte {
	var v byte
	switch rate {
	case DataRate2mbps:
		v |= _RF_DR_HIGH
	case DataRate250kbps:
		v |= _RF_DR_LOW
	}
	// PALevelMax is 0b11, PALevelMin 0b00
	v |= byte(PALevelMin-level) << _RF_PWR
	return v
}

type HardwareConfig struct {
	RadioConfig
	// CE is the Chip Enable pin interface.
	CE OutputPin
	// IRQ is the Interrupt Request pin interface.
	// Optional. Without it ReadLoop is unavailable and Write polls STATUS.
	IRQ InterruptPin
}

type Device struct {
	config  HardwareConfig
	conn    SPI
	nrfPort io.Closer
	log     Logger

	mu           sync.Mutex // guards the bus and CE, and everything below
	scratch      [_MAX_PAYLOAD_BYTES + 1]byte
	status       Status
	busErr       error
	ce           Level
	mode         RadioState
	lastTXFailed bool
	lastPipe     int

	irq        *irqLine // nil without an IRQ pin
	loopActive atomic.Bool
	stopLoop   atomic.Bool
	done       chan struct{}
	closeOnce  sync.Once
}

// NewWithHardware creates and initializes a new NRF24L01 driver with the provided hardware interfaces.
// The radio is left powered down; call EnableRX to listen.
func NewWithHardware(c HardwareConfig, conn SPI) (*Device, error) {
	if c.CE == nil {
		return nil, fmt.Errorf("%w: CE pin not configured", ErrInvalidConfig)
	}
	rc, err := c.RadioConfig.withDefaults()
	if err != nil {
		return nil, err
	}
	c.RadioConfig = rc

	dev := &Device{
		config:   c,
		conn:     conn,
		log:      rc.Logger,
		lastPipe: _RX_P_EMPTY,
		done:     make(chan struct{}),
	}
	if c.IRQ != nil {
		dev.irq = newIRQLine(c.IRQ)
	}

	dev.log.WithField("addr", rc.Address.String()).Info("Initializing NRF24L01 SPI communication...")

	dev.mu.Lock()
	defer dev.mu.Unlock()

	// Ensure CE is Low (Standby-I) during configuration
	dev.setCE(Low)
	dev.writeRegister(_CONFIG, 0)
	dev.writeRegister(_EN_AA, rc.AutoAckPipes)
	dev.writeRegister(_EN_RXADDR, _ERX_P0|_ERX_P1)
	dev.writeRegister(_RF_SETUP, rfSetup(rc.DataRate, rc.PALevel))
	dev.clearIRQ(_IRQ_MASK)
	dev.writeRegister(_DYNPD, rc.DynamicPayloadPipes)
	dev.writeRegister(_FEATURE, _EN_DPL)
	dev.flushRX()
	dev.flushTX()
	dev.clearIRQ(_IRQ_MASK)
	dev.writeRegister(_RF_CH, rc.Channel)
	dev.writeRegister(_SETUP_RETR, setupRetr(rc.AutoRetransmitDelay, rc.AutoRetransmitCount))
	dev.writeRegister(_SETUP_AW, _AW_5_BYTES)
	// Powered down with interrupts unmasked.
	dev.writeRegister(_CONFIG, rc.CRCLength.configBits())
	dev.writeAddress(rc.Address)

	// Read back the channel to ensure SPI write/read is working
	_, readChannel := dev.readRegister(_RF_CH)
	if err := dev.takeErr(); err != nil {
		dev.closePort()
		return nil, err
	}
	if readChannel != rc.Channel {
		dev.closePort()
		return nil, fmt.Errorf("%w: failed to verify NRF24L01 connection: check wiring/power", ErrPkg)
	}
	dev.mode = DeepSleep

	dev.log.WithField("channel", rc.Channel).Info("NRF24L01 initialized. Call EnableRX to listen.")
	return dev, nil
}

func (d *Device) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return fmt.Sprintf("NRF24L01(Channel=%d, DataRate=%s, PALevel=%s, Address=%s, CRC=%s, Mode=%s)",
		d.config.Channel,
		d.config.DataRate,
		d.config.PALevel,
		d.config.Address,
		d.config.CRCLength,
		d.mode,
	)
}

// Close cleans up the resources used by the NRF24L01 driver.
// It powers down the radio, closes the SPI connection and ends a running
// ReadLoop, which releases the IRQ pin.
// This method is concurrent safe.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.powerDown()
		err = d.takeErr()
		d.log.Info("NRF24L01 powered down.")
		d.closePort()
		d.mu.Unlock()
		close(d.done)
	})
	return err
}

func (d *Device) closePort() {
	if d.nrfPort == nil {
		return
	}
	if err := d.nrfPort.Close(); err != nil {
		d.log.WithError(err).Warn("Failed to close SPI port")
		return
	}
	d.log.Info("SPI bus closed.")
}

// writeAddress programs addr as transmit target and as the listening
// address of pipes 0 and 1. Pipe 0 receives the auto-acks.
func (d *Device) writeAddress(addr Address) {
	d.writeRegister(_TX_ADDR_REG, addr[:]...)
	d.writeRegister(_RX_ADDR_P0, addr[:]...)
	d.writeRegister(_RX_ADDR_P1, addr[:]...)
}

// --- NRF24L01 Configuration ---

// SetAddress changes the address used both to listen and as transmit target.
// This method is concurrent safe.
func (d *Device) SetAddress(addr Address) error {
	if !addr.valid() {
		return fmt.Errorf("%w: address %s is a single level", ErrInvalidConfig, addr)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.withCELow(func() { d.writeAddress(addr) })
	if err := d.takeErr(); err != nil {
		return err
	}
	d.config.Address = addr
	d.log.WithField("addr", addr.String()).Debug("address changed")
	return nil
}

// SetChannel changes the radio channel (frequency).
// channel must be between 0 and 125.
// This method is concurrent safe.
func (d *Device) SetChannel(channel byte) error {
	if channel > _MAX_CHANNEL {
		return fmt.Errorf("%w: channel number must be between 0 and %d", ErrInvalidConfig, _MAX_CHANNEL)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.withCELow(func() { d.writeRegister(_RF_CH, channel) })
	if err := d.takeErr(); err != nil {
		return err
	}
	d.config.Channel = channel
	return nil
}

// SetDataRate changes the air data rate.
// This method is concurrent safe.
func (d *Device) SetDataRate(rate DataRate) error {
	if rate == 0 || rate > DataRate250kbps {
		return fmt.Errorf("%w: unknown data rate %d", ErrInvalidConfig, rate)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.config.DataRate = rate
	return d.updateRFSetup()
}

// SetPALevel changes the power amplifier level.
// This method is concurrent safe.
func (d *Device) SetPALevel(level PALevel) error {
	if level == 0 || level > PALevelMin {
		return fmt.Errorf("%w: unknown PA level %d", ErrInvalidConfig, level)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.config.PALevel = level
	return d.updateRFSetup()
}

// updateRFSetup writes the RF_SETUP register based on current config.
// Call with lock held.
func (d *Device) updateRFSetup() error {
	d.withCELow(func() { d.writeRegister(_RF_SETUP, rfSetup(d.config.DataRate, d.config.PALevel)) })
	return d.takeErr()
}

// SetAutoRetransmit configures the automatic retransmission parameters.
// delay: 250 to 4000 microseconds (must be multiple of 250).
// count: 0 to 15 retransmits.
// The transmit timeout is recomputed unless one was configured.
// This method is concurrent safe.
func (d *Device) SetAutoRetransmit(delay uint16, count byte) error {
	if err := checkRetransmit(delay, count); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.withCELow(func() { d.writeRegister(_SETUP_RETR, setupRetr(delay, count)) })
	if err := d.takeErr(); err != nil {
		return err
	}
	if d.config.TxTimeout == txTimeout(d.config.AutoRetransmitDelay, d.config.AutoRetransmitCount) {
		d.config.TxTimeout = txTimeout(delay, count)
	}
	d.config.AutoRetransmitDelay = delay
	d.config.AutoRetransmitCount = count
	return nil
}

// --- Diagnostics ---

// GetRetransmissionCounters returns the number of lost packets and the number of retransmissions
// for the last sent packet.
// lostPackets: Number of packets lost (count resets when changing channel).
// currentRetries: Number of retransmissions for the latest transmission.
// This method is concurrent safe.
func (d *Device) GetRetransmissionCounters() (lostPackets byte, currentRetries byte, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, val := d.readRegister(_OBSERVE_TX)
	return val >> 4 & 0x0F, val & 0x0F, d.takeErr()
}

// IsCarrierDetected returns true if a carrier is detected on the current channel.
// On NRF24L01+, it detects signals > -64dBm. Only meaningful while receiving.
// This method is concurrent safe.
func (d *Device) IsCarrierDetected() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, rpd := d.readRegister(_RPD)
	return rpd&0x01 != 0, d.takeErr()
}

// FlushTX clears the transmit FIFO buffer.
// This method is concurrent safe.
func (d *Device) FlushTX() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushTX()
	return d.takeErr()
}

// FlushRX clears the receive FIFO buffer.
// This method is concurrent safe.
func (d *Device) FlushRX() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushRX()
	return d.takeErr()
}

// GetStatus returns the STATUS register. It costs a single NOP exchange.
// This method is concurrent safe.
func (d *Device) GetStatus() (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.nop()
	return st, d.takeErr()
}
