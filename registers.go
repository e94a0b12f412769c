package nrf24

import "strconv"

// --- NRF24L01 Registers/Commands/Bits ---

// NRF24 Register Addresses
const (
	_CONFIG      = 0x00
	_EN_AA       = 0x01 // Auto Ack
	_EN_RXADDR   = 0x02
	_SETUP_AW    = 0x03
	_SETUP_RETR  = 0x04
	_RF_CH       = 0x05
	_RF_SETUP    = 0x06
	_STATUS      = 0x07
	_OBSERVE_TX  = 0x08
	_RPD         = 0x09
	_RX_ADDR_P0  = 0x0A
	_RX_ADDR_P1  = 0x0B
	_TX_ADDR_REG = 0x10
	_FIFO_STATUS = 0x17
	_DYNPD       = 0x1C // Dynamic Payload Register
	_FEATURE     = 0x1D // Feature Register
)

// NRF24 Commands
const (
	_R_REGISTER   = 0x00
	_W_REGISTER   = 0x20
	_R_RX_PL_WID  = 0x60
	_R_RX_PAYLOAD = 0x61
	_W_TX_PAYLOAD = 0xA0
	_FLUSH_TX     = 0xE1
	_FLUSH_RX     = 0xE2
	_NOP          = 0xFF

	_REGISTER_MASK = 0x1F
)

// NRF24 Register Bit Definitions
const (
	// CONFIG
	_MASK_RX_DR  = 1 << 6
	_MASK_TX_DS  = 1 << 5
	_MASK_MAX_RT = 1 << 4
	_EN_CRC      = 1 << 3
	_CRCO        = 1 << 2
	_PWR_UP      = 1 << 1
	_PRIM_RX     = 1 << 0

	// STATUS
	_RX_DR      = 1 << 6
	_TX_DS      = 1 << 5
	_MAX_RT     = 1 << 4
	_RX_P_NO    = 7 << 1
	_TX_FULL    = 1 << 0
	_IRQ_MASK   = _RX_DR | _TX_DS | _MAX_RT
	_RX_P_EMPTY = 7

	// FIFO_STATUS
	_FIFO_TX_FULL  = 1 << 5
	_FIFO_TX_EMPTY = 1 << 4
	_FIFO_RX_FULL  = 1 << 1
	_FIFO_RX_EMPTY = 1 << 0

	// EN_RXADDR, EN_AA, DYNPD
	_ERX_P0 = 1 << 0
	_ERX_P1 = 1 << 1

	// FEATURE
	_EN_DPL = 1 << 2 // Enable Dynamic Payload Length

	// RF_SETUP
	_RF_DR_LOW  = 1 << 5
	_RF_DR_HIGH = 1 << 3
	_RF_PWR     = 1 // shift of the 2-bit power field

	// SETUP_AW value for 5 byte addresses
	_AW_5_BYTES = 0x03
)

const (
	_MAX_PAYLOAD_BYTES = 32
	_ADDRESS_WIDTH     = 5
	_MAX_CHANNEL       = 125
	_MAX_PIPE          = 5
)

// IRQ is a set of interrupt flags as laid out in the STATUS register.
type IRQ byte

const (
	// IRQTxFailed is MAX_RT: the retransmit budget was exhausted.
	IRQTxFailed IRQ = _MAX_RT
	// IRQTxOK is TX_DS: the payload was sent (and acknowledged, if auto-ack is on).
	IRQTxOK IRQ = _TX_DS
	// IRQRxReady is RX_DR: a payload arrived in the RX FIFO.
	IRQRxReady IRQ = _RX_DR
)

func (i IRQ) String() string {
	return flags("RxReady+ TxOK+ TxFailed+", _IRQ_MASK, byte(i))
}

// Status is the STATUS register value returned as the first byte of every
// SPI exchange.
type Status byte

// IRQ returns the interrupt flags present in s.
func (s Status) IRQ() IRQ { return IRQ(s) & _IRQ_MASK }

// RxPipe returns the data pipe of the payload at the head of the RX FIFO,
// 6 if unused or 7 if the RX FIFO is empty.
func (s Status) RxPipe() int { return int(s&_RX_P_NO) >> 1 }

// TxFull reports whether the TX FIFO is full.
func (s Status) TxFull() bool { return s&_TX_FULL != 0 }

func (s Status) String() string {
	return flags("RxDR+ TxDS+ MaxRT+ TxFull+ RxPipe:", _IRQ_MASK|_TX_FULL, byte(s)) +
		strconv.Itoa(s.RxPipe())
}

// flags renders the bits selected by mask in the order they appear in b,
// most significant first, replacing each '+' in f with '+' or '-'.
func flags(f string, mask, b byte) string {
	buf := make([]byte, len(f))
	m := byte(0x80)
	for i := range buf {
		if f[i] != '+' {
			buf[i] = f[i]
			continue
		}
		for mask&m == 0 {
			m >>= 1
		}
		if b&m == 0 {
			buf[i] = '-'
		} else {
			buf[i] = '+'
		}
		m >>= 1
	}
	return string(buf)
}

func validPipe(pipe int) bool { return pipe >= 0 && pipe <= _MAX_PIPE }

func validWidth(width byte) bool { return width > 0 && width <= _MAX_PAYLOAD_BYTES }
