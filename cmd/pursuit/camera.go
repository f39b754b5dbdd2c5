//go:build !gocv

package main

import (
	"errors"

	"github.com/banshee-data/pursuit/internal/perception"
)

func openCamera(int) (perception.Source, func() error, error) {
	return nil, nil, errors.New("built without camera support: rebuild with -tags gocv or pass -fixtures")
}
