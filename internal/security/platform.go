package security

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"strings"

	"github.com/keygen-sh/machineid"
)

// Identifier names, in the order they are hashed.
const (
	IdentifierCPU         = "cpu"
	IdentifierMAC         = "mac"
	IdentifierMachineGUID = "machine_guid"
)

// Identifier is one hardware-derived value contributing to the fingerprint.
type Identifier struct {
	Name  string
	Value string
}

// Platform is the per-OS capability set behind device binding. The
// implementation for the running OS is selected at build time; tests inject fakes.
type Platform interface {
	// Name matches the conventional OS name (Windows, Darwin, Linux).
	Name() string
	// CollectIdentifiers returns the identifiers it could read, in hash order,
	// together with an error describing the ones it could not.
	CollectIdentifiers(ctx context.Context) ([]Identifier, error)
	// StoragePath returns the absolute path of the activation record.
	StoragePath() (string, error)
	// DeviceSecret returns the machine secret the record key is derived from.
	DeviceSecret() (string, error)
}

// Current returns the Platform of the running OS.
func Current() Platform {
	return newPlatform()
}

// WeakIdentity is "hostname-user", used when stronger identifiers are unavailable.
func WeakIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s-%s", host, currentUsername())
}

// currentUsername checks the login environment first and falls back to the account database.
func currentUsername() string {
	for _, key := range []string{"LOGNAME", "USER", "LNAME", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

// machineGUID reads the OS install identifier (MachineGuid, IOPlatformUUID, /etc/machine-id).
func machineGUID() (string, error) {
	id, err := machineid.ID()
	if err != nil {
		return "", fmt.Errorf("machine id unavailable: %w", err)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("machine id is empty")
	}
	return id, nil
}

// virtualPrefixes are interface names of bridges, tunnels and container links.
var virtualPrefixes = []string{
	"docker", "veth", "br-", "virbr", "vmnet", "vboxnet", "utun", "tun", "tap",
	"awdl", "llw", "bridge", "zt", "tailscale", "wg",
}

func isVirtualInterface(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range virtualPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// primaryHardwareAddr picks the first physical adapter in interface index order.
// The up/down state is ignored so the choice survives a disabled adapter.
func primaryHardwareAddr() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}
	return pickHardwareAddr(ifaces)
}

func pickHardwareAddr(ifaces []net.Interface) (string, error) {
	var fallback string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) < 6 {
			continue
		}
		mac := iface.HardwareAddr.String()
		if mac == "00:00:00:00:00:00" {
			continue
		}
		if isVirtualInterface(iface.Name) {
			if fallback == "" {
				fallback = mac
			}
			continue
		}
		return mac, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("no valid MAC address found")
}

var cpuInfoKeys = []string{
	"vendor_id", "model name", "cpu family", "model", "stepping",
	"Hardware", "Serial", "CPU implementer", "CPU part",
}

// parseCPUInfo reduces /proc/cpuinfo to the identifying fields of the first processor.
func parseCPUInfo(r io.Reader) (string, error) {
	seen := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if _, dup := seen[key]; dup || value == "" {
			continue
		}
		seen[key] = value
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read cpuinfo: %w", err)
	}

	var parts []string
	for _, k := range cpuInfoKeys {
		if v, ok := seen[k]; ok {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no cpu identification in cpuinfo")
	}
	return strings.Join(parts, "/"), nil
}

// collect runs the three identifier sources in hash order, skipping failures.
func collect(cpu, mac, guid func() (string, error)) ([]Identifier, error) {
	sources := []struct {
		name string
		fn   func() (string, error)
	}{
		{IdentifierCPU, cpu},
		{IdentifierMAC, mac},
		{IdentifierMachineGUID, guid},
	}

	var ids []Identifier
	var failures []string
	for _, s := range sources {
		v, err := s.fn()
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", s.name, err))
			continue
		}
		ids = append(ids, Identifier{Name: s.name, Value: v})
	}
	if len(failures) > 0 {
		return ids, fmt.Errorf("identifier collection incomplete: %s", strings.Join(failures, "; "))
	}
	return ids, nil
}
