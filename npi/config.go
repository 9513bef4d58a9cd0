package npi

import (
	"time"

	"github.com/coprocbridge/mtnpi/mtmsg"
)

// Config collects the knobs spec §6's configuration-key table lists for the
// NPI bridge as a whole: where to find the co-processor, where to listen for
// clients, and the MsgInterface options shared by the UART link and every
// accepted client socket. There is deliberately no INI/CLI parser here —
// per the non-goals, that surface belongs to whatever embeds this package
// (see cmd/npid, which uses the standard flag package).
type Config struct {
	UARTDevice   string
	UARTBaudRate int

	ListenAddr string

	ResetTimeout time.Duration

	InterfaceOptions []mtmsg.Option
}

// DefaultConfig returns sane defaults for a 802.15.4 co-processor link.
func DefaultConfig() Config {
	return Config{
		UARTBaudRate: 115200,
		ListenAddr:   ":5567",
		ResetTimeout: 3 * time.Second,
		InterfaceOptions: []mtmsg.Option{
			mtmsg.WithFrameSync(true),
			mtmsg.WithChecksum(true),
		},
	}
}

// Option mutates a Config, following the functional-options idiom used
// throughout mtmsg.
type Option func(*Config)

func WithUARTDevice(device string) Option { return func(c *Config) { c.UARTDevice = device } }
func WithUARTBaudRate(baud int) Option     { return func(c *Config) { c.UARTBaudRate = baud } }
func WithListenAddr(addr string) Option    { return func(c *Config) { c.ListenAddr = addr } }
func WithResetTimeout(d time.Duration) Option {
	return func(c *Config) { c.ResetTimeout = d }
}

// WithInterfaceOptions appends mtmsg.Options applied to both the UART link
// and every accepted client socket.
func WithInterfaceOptions(opts ...mtmsg.Option) Option {
	return func(c *Config) { c.InterfaceOptions = append(c.InterfaceOptions, opts...) }
}

// Apply folds opts onto a base Config, returning the result.
func Apply(base Config, opts ...Option) Config {
	for _, opt := range opts {
		opt(&base)
	}
	return base
}
