package ble

import (
	"log/slog"
	"time"
)

// Config carries the construction parameters for a BLE controller.
type Config struct {
	// Dialer opens the transport to the module. Required.
	Dialer Dialer
	// Name is the Bluetooth name configured via AT+NAME. Required; it is
	// sent verbatim, so the caller must keep it protocol safe.
	Name string
	// RxBufferSize is the initial capacity of the receive buffer.
	RxBufferSize int
	// RetryInterval is how long a wait-for-device state goes without data
	// before retransmitting its command.
	RetryInterval time.Duration
	// CommandTimeout bounds the response window of the setup commands.
	CommandTimeout time.Duration
	// WaitForDeviceTimeout bounds how long the controller probes with "AT"
	// before giving up on the module.
	WaitForDeviceTimeout time.Duration
	// Logger receives a line per significant event (command sent, response
	// received, state transition, panic). Nil disables logging.
	Logger *slog.Logger
	// Clock supplies the time base for deadlines. Nil means the system
	// clock; tests inject a fake.
	Clock Clock
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	if c.Name == "" {
		return ErrNoDeviceName
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.RxBufferSize == 0 {
		c.RxBufferSize = 32
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 500 * time.Millisecond
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 500 * time.Millisecond
	}
	if c.WaitForDeviceTimeout == 0 {
		c.WaitForDeviceTimeout = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
}

// ConfigBuilder assembles a Config fluently.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithName(name string) *ConfigBuilder {
	b.config.Name = name
	return b
}

func (b *ConfigBuilder) WithRxBufferSize(size int) *ConfigBuilder {
	b.config.RxBufferSize = size
	return b
}

func (b *ConfigBuilder) WithRetryInterval(d time.Duration) *ConfigBuilder {
	b.config.RetryInterval = d
	return b
}

func (b *ConfigBuilder) WithCommandTimeout(d time.Duration) *ConfigBuilder {
	b.config.CommandTimeout = d
	return b
}

func (b *ConfigBuilder) WithWaitForDeviceTimeout(d time.Duration) *ConfigBuilder {
	b.config.WaitForDeviceTimeout = d
	return b
}

func (b *ConfigBuilder) WithLogger(logger *slog.Logger) *ConfigBuilder {
	b.config.Logger = logger
	return b
}

func (b *ConfigBuilder) WithClock(clock Clock) *ConfigBuilder {
	b.config.Clock = clock
	return b
}

// Build validates the assembled Config and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	config := b.config
	config.setDefaults()
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}
