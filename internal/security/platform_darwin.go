//go:build darwin

package security

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	darwinRecordDir  = ".sysconf"
	darwinRecordFile = ".auth"
)

type darwinPlatform struct{}

func newPlatform() Platform {
	return darwinPlatform{}
}

func (darwinPlatform) Name() string { return "Darwin" }

func (darwinPlatform) CollectIdentifiers(ctx context.Context) ([]Identifier, error) {
	return collect(func() (string, error) { return darwinCPUID(ctx) }, primaryHardwareAddr, machineGUID)
}

// StoragePath resolves to ~/Library/Application Support/.sysconf/.auth.
func (darwinPlatform) StoragePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, "Library", "Application Support", darwinRecordDir, darwinRecordFile), nil
}

func (darwinPlatform) DeviceSecret() (string, error) {
	return WeakIdentity(), nil
}

func darwinCPUID(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "sysctl", "-n", "machdep.cpu.brand_string").Output()
	if err != nil {
		return "", fmt.Errorf("sysctl failed: %w", err)
	}
	brand := strings.TrimSpace(string(out))
	if brand == "" {
		return "", fmt.Errorf("empty cpu brand string")
	}
	return brand, nil
}
