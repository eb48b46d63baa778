//go:build windows

package security

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows"
)

const (
	windowsRecordDir  = "WinSys"
	windowsRecordFile = "winsvc.dat"
)

type windowsPlatform struct{}

func newPlatform() Platform {
	return windowsPlatform{}
}

func (windowsPlatform) Name() string { return "Windows" }

func (windowsPlatform) CollectIdentifiers(ctx context.Context) ([]Identifier, error) {
	return collect(windowsCPUID, primaryHardwareAddr, machineGUID)
}

// StoragePath resolves to the common application data folder (usually
// C:\ProgramData)\WinSys\winsvc.dat.
func (windowsPlatform) StoragePath() (string, error) {
	dir, err := windows.KnownFolderPath(windows.FOLDERID_ProgramData, 0)
	if err != nil || dir == "" {
		dir = os.Getenv("ProgramData")
	}
	if dir == "" {
		return "", fmt.Errorf("failed to resolve common application data folder: %v", err)
	}
	return filepath.Join(dir, windowsRecordDir, windowsRecordFile), nil
}

// DeviceSecret is the registry MachineGuid, falling back to hostname-user.
func (windowsPlatform) DeviceSecret() (string, error) {
	guid, err := machineGUID()
	if err != nil {
		slog.Warn("MachineGuid unavailable, using weak device secret", slog.String("error", err.Error()))
		return WeakIdentity(), nil
	}
	return guid, nil
}

func windowsCPUID() (string, error) {
	parts := []string{}
	for _, key := range []string{"PROCESSOR_IDENTIFIER", "PROCESSOR_REVISION"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("processor identifier not set")
	}
	return strings.Join(parts, "/"), nil
}
