// Command feeproxy runs the Ethereum-stratum fee proxy headlessly: it
// loads data/config.json from the executable's directory, overlays any command-line
// flags, and serves the configured listener set until killed.
//
// Replaces ShaeOJ-GoVault's Wails-bridged app.go entrypoint — there is no
// GUI consumer here, so this wires the same config/logger construction
// directly into an acceptor instead of a desktop window.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"feeproxy/internal/acceptor"
	"feeproxy/internal/codec"
	"feeproxy/internal/config"
	"feeproxy/internal/logger"
	"feeproxy/internal/reporting"
	"feeproxy/internal/scheduler"
	"feeproxy/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "feeproxy:", err)
		os.Exit(1)
	}
}

func run() error {
	opts, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Overlay(opts)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(cfg.LogDir(), cfg.LogLevel, 5)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Close()

	sessionCfg := session.Config{
		MainAddrs:     cfg.Main.TCPAddress,
		FeeAddrs:      cfg.Fee.TCPAddress,
		FeeWallet:     cfg.Fee.Wallet,
		DevelopAddrs:  cfg.Develop.TCPAddress,
		DevelopWallet: cfg.Develop.Wallet,
		Policy: scheduler.Policy{
			SharePercent: cfg.Fee.Share,
			DevelopRatio: cfg.Develop.Ratio,
		},
	}

	registry := reporting.NewRegistry()
	sink := reporting.NewSink(registry, 256)
	sinkDone := make(chan struct{})
	go sink.Run(sinkDone)
	defer close(sinkDone)

	var listeners []acceptor.Listener
	if cfg.Listen.Plain != "" {
		listeners = append(listeners, acceptor.Listener{Addr: cfg.Listen.Plain, Mode: codec.Plain})
	}
	if cfg.Listen.Encrypted != "" {
		key, err := cfg.Encrypt.Key()
		if err != nil {
			return fmt.Errorf("encrypted listener key: %w", err)
		}
		iv, err := cfg.Encrypt.IV()
		if err != nil {
			return fmt.Errorf("encrypted listener iv: %w", err)
		}
		listeners = append(listeners, acceptor.Listener{
			Addr:  cfg.Listen.Encrypted,
			Mode:  codec.Encrypted,
			Key:   key,
			IV:    iv,
			Delim: cfg.Encrypt.Delimiter,
		})
	}

	a := acceptor.New(listeners, sessionCfg, log, registry, sink.Channel())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("main", "shutdown signal received")
		a.Close()
	}()

	log.Infof("main", "feeproxy starting, fee share=%d%%", cfg.Fee.Share)
	return a.Run()
}
