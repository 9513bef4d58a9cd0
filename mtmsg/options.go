package mtmsg

import "time"

// Options configures one MsgInterface. Field names track the attributes
// listed in spec §3.3; defaults match the table there.
type Options struct {
	DbgName string
	IsNPI   bool

	FrameSync     bool
	IncludeChksum bool
	Len2Bytes     bool

	TxFragSize int

	RetryMax int

	FragTimeout        time.Duration
	SRSPTimeout        time.Duration
	IntermsgTimeout    time.Duration
	IntersymbolTimeout time.Duration
	FlushTimeout       time.Duration
	TxLockTimeout      time.Duration

	StackID int

	StartupFlush bool

	// OnFragmentRetry, if set, is called each time sendFragmentedLocked has
	// to resend a block because the previous attempt timed out or drew a
	// mismatched ACK. OnFragmentAbort, if set, is called when a fragmented
	// send gives up on a block entirely (ErrFragAborted). Both let a caller
	// like npi.Server feed its own metrics without mtmsg importing npi.
	OnFragmentRetry func()
	OnFragmentAbort func()
}

// DefaultOptions returns the interface defaults from spec §3.3.
func DefaultOptions() Options {
	return Options{
		FrameSync:          false,
		IncludeChksum:      false,
		Len2Bytes:          false,
		TxFragSize:         256,
		RetryMax:           3,
		FragTimeout:        2000 * time.Millisecond,
		SRSPTimeout:        3000 * time.Millisecond,
		IntermsgTimeout:    3000 * time.Millisecond,
		IntersymbolTimeout: 100 * time.Millisecond,
		FlushTimeout:       50 * time.Millisecond,
		TxLockTimeout:      3000 * time.Millisecond,
		StackID:            0,
		StartupFlush:       false,
	}
}

// Option mutates Options; the functional-options idiom follows the teacher
// package's options.go.
type Option func(*Options)

func WithDbgName(name string) Option { return func(o *Options) { o.DbgName = name } }
func WithIsNPI(isNPI bool) Option    { return func(o *Options) { o.IsNPI = isNPI } }

// WithFrameSync maps the "frame-sync" configuration key (§6).
func WithFrameSync(enabled bool) Option { return func(o *Options) { o.FrameSync = enabled } }

// WithChecksum maps the "include-chksum" configuration key.
func WithChecksum(enabled bool) Option { return func(o *Options) { o.IncludeChksum = enabled } }

// WithLen2Bytes maps the "len-2bytes" configuration key.
func WithLen2Bytes(enabled bool) Option { return func(o *Options) { o.Len2Bytes = enabled } }

// WithStartupFlush maps the "startup-flush" configuration key.
func WithStartupFlush(enabled bool) Option { return func(o *Options) { o.StartupFlush = enabled } }

// WithFragmentSize maps the "fragmentation-size" configuration key.
func WithFragmentSize(n int) Option { return func(o *Options) { o.TxFragSize = n } }

// WithRetryMax maps the "retry-max" configuration key.
func WithRetryMax(n int) Option { return func(o *Options) { o.RetryMax = n } }

// WithFragTimeout maps the "fragmentation-timeout-msecs" configuration key.
func WithFragTimeout(d time.Duration) Option { return func(o *Options) { o.FragTimeout = d } }

// WithIntersymbolTimeout maps the "intersymbol-timeout-msecs" configuration key.
func WithIntersymbolTimeout(d time.Duration) Option {
	return func(o *Options) { o.IntersymbolTimeout = d }
}

// WithSRSPTimeout maps the "srsp-timeout-msecs" configuration key.
func WithSRSPTimeout(d time.Duration) Option { return func(o *Options) { o.SRSPTimeout = d } }

// WithIntermsgTimeout maps the "intermsg-timeout-msecs" configuration key.
func WithIntermsgTimeout(d time.Duration) Option { return func(o *Options) { o.IntermsgTimeout = d } }

// WithFlushTimeout maps the "flush-timeout-msecs" configuration key.
func WithFlushTimeout(d time.Duration) Option { return func(o *Options) { o.FlushTimeout = d } }

// WithTxLockTimeout maps the "tx-lock-timeout" configuration key.
func WithTxLockTimeout(d time.Duration) Option { return func(o *Options) { o.TxLockTimeout = d } }

// WithStackID sets the 3-bit stack id stamped into extended headers.
func WithStackID(id int) Option { return func(o *Options) { o.StackID = id & 0x7 } }

// WithOnFragmentRetry registers a callback invoked on every retried
// fragment block.
func WithOnFragmentRetry(fn func()) Option { return func(o *Options) { o.OnFragmentRetry = fn } }

// WithOnFragmentAbort registers a callback invoked when a fragmented send
// gives up on a block after exhausting its retries or hitting a fatal ACK
// status.
func WithOnFragmentAbort(fn func()) Option { return func(o *Options) { o.OnFragmentAbort = fn } }

// HeaderLen returns the on-wire header length for these options: optional
// sync byte, 1- or 2-byte length, cmd0, cmd1.
func (o *Options) HeaderLen() int {
	n := 2 // cmd0 + cmd1
	if o.FrameSync {
		n++
	}
	if o.Len2Bytes {
		n += 2
	} else {
		n++
	}
	return n
}

// TrailerLen returns the on-wire trailer length: the optional checksum byte.
func (o *Options) TrailerLen() int {
	if o.IncludeChksum {
		return 1
	}
	return 0
}
