package config

import "github.com/jessevdk/go-flags"

// Options holds the subset of Config overridable from the command line.
// Fields left at their zero value do not override whatever Load produced.
type Options struct {
	ListenPlain     string `long:"listen-plain" description:"plain-framed miner listen address"`
	ListenEncrypted string `long:"listen-encrypted" description:"encrypted-framed miner listen address"`
	FeeShare        int    `long:"fee-share" description:"percent of job slots diverted to the fee pool"`
	FeeWallet       string `long:"fee-wallet" description:"wallet used to log in to the fee pool"`
	LogLevel        string `long:"log-level" description:"debug, info, warn, or error"`
}

// ParseFlags parses os.Args[1:] into an Options value. Unset flags keep
// their Go zero value and are treated as "no override" by Overlay.
func ParseFlags(args []string) (*Options, error) {
	opts := &Options{}
	parser := flags.NewParser(opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// Overlay applies any non-zero-value options on top of the loaded config.
func (c *Config) Overlay(opts *Options) {
	if opts == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if opts.ListenPlain != "" {
		c.Listen.Plain = opts.ListenPlain
	}
	if opts.ListenEncrypted != "" {
		c.Listen.Encrypted = opts.ListenEncrypted
	}
	if opts.FeeShare != 0 {
		c.Fee.Share = opts.FeeShare
	}
	if opts.FeeWallet != "" {
		c.Fee.Wallet = opts.FeeWallet
	}
	if opts.LogLevel != "" {
		c.LogLevel = opts.LogLevel
	}
}
