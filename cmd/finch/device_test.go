package main

import (
	"testing"

	"finch-controller/internal/config"
	"finch-controller/internal/finch"
	"finch-controller/internal/sim"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDevice(t *testing.T) {
	cfg := config.Default()

	cfg.Device.Kind = config.DeviceSim
	dev, err := newDevice(cfg.Device)
	require.NoError(t, err)
	assert.IsType(t, &sim.Device{}, dev)

	cfg.Device.Kind = config.DeviceSerial
	dev, err = newDevice(cfg.Device)
	require.NoError(t, err)
	assert.IsType(t, &finch.Controller{}, dev)
	assert.False(t, dev.IsConnected())

	cfg.Device.Kind = config.DeviceBLE
	cfg.Device.ScanTimeout = "soon"
	_, err = newDevice(cfg.Device)
	assert.ErrorContains(t, err, "scan_timeout")

	cfg.Device.Kind = "usb"
	_, err = newDevice(cfg.Device)
	assert.Error(t, err)
}
