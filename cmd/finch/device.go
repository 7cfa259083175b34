package main

import (
	"fmt"
	"time"

	"finch-controller/internal/config"
	"finch-controller/internal/device"
	"finch-controller/internal/finch"
	"finch-controller/internal/sim"
)

// newDevice builds the robot link selected by cfg.Kind.
func newDevice(cfg config.DeviceConfig) (device.Device, error) {
	if cfg.Kind == config.DeviceSim {
		return sim.New(sim.Options{RealTime: true, Temperature: 22.5}), nil
	}

	responseTimeout, err := time.ParseDuration(cfg.ResponseTimeout)
	if err != nil {
		return nil, fmt.Errorf("response_timeout: %w", err)
	}

	var transport finch.Transport
	switch cfg.Kind {
	case config.DeviceSerial:
		transport = finch.NewSerialTransport(cfg.SerialPort, cfg.BaudRate, cfg.SerialFallbacks...)
	case config.DeviceBLE:
		scanTimeout, err := time.ParseDuration(cfg.ScanTimeout)
		if err != nil {
			return nil, fmt.Errorf("scan_timeout: %w", err)
		}
		connectTimeout, err := time.ParseDuration(cfg.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("connect_timeout: %w", err)
		}
		transport = finch.NewBLETransport(cfg.BLENames, scanTimeout, connectTimeout)
	default:
		return nil, fmt.Errorf("unknown device kind '%s'", cfg.Kind)
	}

	return finch.NewController(transport, finch.Options{
		ResponseTimeout: responseTimeout,
		RateLimit:       cfg.RateLimit,
		RateBurst:       cfg.RateBurst,
	}), nil
}
