package security

import (
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPUInfo(t *testing.T) {
	x86 := `processor	: 0
vendor_id	: GenuineIntel
cpu family	: 6
model		: 142
model name	: Intel(R) Core(TM) i7-8650U CPU @ 1.90GHz
stepping	: 10
flags		: fpu vme

processor	: 1
vendor_id	: GenuineIntel
model name	: Intel(R) Core(TM) i7-8650U CPU @ 1.90GHz
`
	got, err := parseCPUInfo(strings.NewReader(x86))
	require.NoError(t, err)
	assert.Equal(t, "GenuineIntel/Intel(R) Core(TM) i7-8650U CPU @ 1.90GHz/6/142/10", got)

	arm := `processor	: 0
CPU implementer	: 0x41
CPU part	: 0xd08
Hardware	: BCM2835
Serial		: 10000000abcdef01
`
	got, err = parseCPUInfo(strings.NewReader(arm))
	require.NoError(t, err)
	assert.Equal(t, "BCM2835/10000000abcdef01/0x41/0xd08", got)

	_, err = parseCPUInfo(strings.NewReader("processor : 0\n"))
	assert.Error(t, err)
}

func iface(index int, name, mac string, flags net.Flags) net.Interface {
	hw, _ := net.ParseMAC(mac)
	return net.Interface{Index: index, Name: name, HardwareAddr: hw, Flags: flags}
}

func TestPickHardwareAddr(t *testing.T) {
	t.Run("skips loopback and virtual adapters", func(t *testing.T) {
		ifaces := []net.Interface{
			{Index: 1, Name: "lo", Flags: net.FlagLoopback | net.FlagUp},
			iface(2, "docker0", "02:42:ac:11:00:02", net.FlagUp),
			iface(3, "eth0", "3c:22:fb:01:02:03", 0),
			iface(4, "wlan0", "3c:22:fb:01:02:04", net.FlagUp),
		}
		mac, err := pickHardwareAddr(ifaces)
		require.NoError(t, err)
		assert.Equal(t, "3c:22:fb:01:02:03", mac, "down adapters still count")
	})

	t.Run("falls back to virtual adapter", func(t *testing.T) {
		mac, err := pickHardwareAddr([]net.Interface{iface(2, "veth1234", "0a:58:0a:f4:00:01", net.FlagUp)})
		require.NoError(t, err)
		assert.Equal(t, "0a:58:0a:f4:00:01", mac)
	})

	t.Run("ignores zero address", func(t *testing.T) {
		_, err := pickHardwareAddr([]net.Interface{iface(2, "eth0", "00:00:00:00:00:00", net.FlagUp)})
		assert.Error(t, err)
	})
}

func TestCollect(t *testing.T) {
	ok := func(v string) func() (string, error) { return func() (string, error) { return v, nil } }
	fail := func() (string, error) { return "", errors.New("denied") }

	ids, err := collect(ok("cpu"), ok("mac"), ok("guid"))
	require.NoError(t, err)
	assert.Equal(t, []Identifier{{IdentifierCPU, "cpu"}, {IdentifierMAC, "mac"}, {IdentifierMachineGUID, "guid"}}, ids)

	ids, err = collect(ok("cpu"), fail, ok("guid"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mac: denied")
	assert.Equal(t, []Identifier{{IdentifierCPU, "cpu"}, {IdentifierMachineGUID, "guid"}}, ids)
}

func TestCurrentUsername(t *testing.T) {
	t.Setenv("LOGNAME", "")
	t.Setenv("USER", "bob")
	assert.Equal(t, "bob", currentUsername())

	t.Setenv("LOGNAME", "alice")
	assert.Equal(t, "alice", currentUsername())
}

func TestFileAttributesBestEffort(t *testing.T) {
	path := t.TempDir() + "/record"
	// missing file: Windows reports an error, elsewhere a no-op; neither panics
	_ = HideFile(path)
	_ = UnhideFile(path)
}
