//go:build !linux && !darwin && !windows

package security

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

type genericPlatform struct{}

func newPlatform() Platform {
	return genericPlatform{}
}

func (genericPlatform) Name() string { return runtime.GOOS }

func (genericPlatform) CollectIdentifiers(ctx context.Context) ([]Identifier, error) {
	return collect(func() (string, error) {
		return "", fmt.Errorf("cpu identification not supported on %s", runtime.GOOS)
	}, primaryHardwareAddr, machineGUID)
}

func (genericPlatform) StoragePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(dir, ".sysconf", ".lic"), nil
}

func (genericPlatform) DeviceSecret() (string, error) {
	return WeakIdentity(), nil
}
