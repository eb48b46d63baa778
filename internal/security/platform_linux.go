//go:build linux

package security

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const (
	linuxRecordDir  = ".sysconf"
	linuxRecordFile = ".lic"
)

type linuxPlatform struct{}

func newPlatform() Platform {
	return linuxPlatform{}
}

func (linuxPlatform) Name() string { return "Linux" }

func (linuxPlatform) CollectIdentifiers(ctx context.Context) ([]Identifier, error) {
	return collect(linuxCPUID, primaryHardwareAddr, machineGUID)
}

// StoragePath resolves to $XDG_CONFIG_HOME (or ~/.config)/.sysconf/.lic.
func (linuxPlatform) StoragePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(dir, linuxRecordDir, linuxRecordFile), nil
}

func (linuxPlatform) DeviceSecret() (string, error) {
	return WeakIdentity(), nil
}

func linuxCPUID() (string, error) {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return "", err
	}
	defer f.Close()
	return parseCPUInfo(f)
}
