package nrf24

import (
	"fmt"
	"io"
	"time"

	"github.com/flynn/json5"
)

// fileConfig is the on-disk form of Config. Durations are Go duration
// strings such as "150ms".
type fileConfig struct {
	Config
	TxTimeout string `json:"tx_timeout"`
}

// LoadConfig reads a JSON5 configuration, for example:
//
//	{
//	  channel: 76,
//	  address: "E7:E7:E7:E7:E7",
//	  data_rate: "250kbps",
//	  pa_level: "-6dBm",
//	  ce_pin: 25,
//	  irq_pin: 24,
//	  tx_timeout: "200ms",
//	}
//
// Settings left out keep their defaults. Values are only range checked when
// the device is created.
func LoadConfig(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}
	var fc fileConfig
	if err := json5.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if fc.TxTimeout != "" {
		d, err := time.ParseDuration(fc.TxTimeout)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: bad tx_timeout %q", ErrInvalidConfig, fc.TxTimeout)
		}
		fc.Config.TxTimeout = d
	}
	return fc.Config, nil
}
