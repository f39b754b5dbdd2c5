//go:build gocv

package main

import (
	"github.com/banshee-data/pursuit/internal/monitoring"
	"github.com/banshee-data/pursuit/internal/perception"
)

func openCamera(device int) (perception.Source, func() error, error) {
	cfg := perception.DefaultCascadeConfig()
	cfg.Device = device
	cam, err := perception.OpenCascade(cfg)
	if err != nil {
		return nil, nil, err
	}
	monitoring.Logf("reading camera %d at %dx%d", cfg.Device, cfg.Width, cfg.Height)
	return cam, cam.Close, nil
}
