package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlatform struct {
	ids    []Identifier
	err    error
	secret string
	calls  atomic.Int32
}

func (p *fakePlatform) Name() string { return "Linux" }

func (p *fakePlatform) CollectIdentifiers(ctx context.Context) ([]Identifier, error) {
	p.calls.Add(1)
	return p.ids, p.err
}

func (p *fakePlatform) StoragePath() (string, error) { return "/tmp/record", nil }

func (p *fakePlatform) DeviceSecret() (string, error) {
	if p.secret == "" {
		return "", errors.New("no secret")
	}
	return p.secret, nil
}

func fullIdentifiers() []Identifier {
	return []Identifier{
		{Name: IdentifierCPU, Value: "GenuineIntel/Intel(R) Core(TM) i7"},
		{Name: IdentifierMAC, Value: "3c:22:fb:01:02:03"},
		{Name: IdentifierMachineGUID, Value: "4c4c4544-0042-3510-8052-b4c04f4e4d32"},
	}
}

var displayPattern = regexp.MustCompile(`^[0-9a-f]{4}(-[0-9a-f]{4}){4}$`)

func TestDeriveStrong(t *testing.T) {
	p := &fakePlatform{ids: fullIdentifiers()}
	fp := NewFingerprinter(p).Derive(context.Background())

	sum := sha256.Sum256([]byte("GenuineIntel/Intel(R) Core(TM) i7-3c:22:fb:01:02:03-4c4c4544-0042-3510-8052-b4c04f4e4d32"))
	want := hex.EncodeToString(sum[:])

	assert.Equal(t, want, fp.Digest)
	assert.Regexp(t, displayPattern, fp.ID)
	assert.Equal(t, strings.Join([]string{want[0:4], want[4:8], want[8:12], want[12:16], want[16:20]}, "-"), fp.ID)
	assert.Equal(t, ConfidenceStrong, fp.Confidence)
	assert.Equal(t, []string{IdentifierCPU, IdentifierMAC, IdentifierMachineGUID}, fp.Components)
	assert.Equal(t, "Linux", fp.OS)
	assert.Equal(t, "GenuineIntel/Intel(R) Core(TM) i7", fp.CPU)
}

func TestDeriveDeterministic(t *testing.T) {
	a := NewFingerprinter(&fakePlatform{ids: fullIdentifiers()}, WithCacheDuration(0)).Derive(context.Background())
	b := NewFingerprinter(&fakePlatform{ids: fullIdentifiers()}, WithCacheDuration(0)).Derive(context.Background())
	assert.Equal(t, a.Digest, b.Digest)
	assert.Equal(t, a.ID, b.ID)

	changed := fullIdentifiers()
	changed[1].Value = "3c:22:fb:01:02:04"
	c := NewFingerprinter(&fakePlatform{ids: changed}).Derive(context.Background())
	assert.NotEqual(t, a.Digest, c.Digest)
}

func TestDerivePartial(t *testing.T) {
	ids := fullIdentifiers()[:2]
	p := &fakePlatform{ids: ids, err: errors.New("machine_guid: unavailable")}

	fp := NewFingerprinter(p).Derive(context.Background())

	assert.Equal(t, ConfidencePartial, fp.Confidence)
	assert.Equal(t, []string{IdentifierCPU, IdentifierMAC}, fp.Components)
	digest, _ := Hash([]string{ids[0].Value, ids[1].Value})
	assert.Equal(t, digest, fp.Digest)
}

func TestDeriveWeakFallback(t *testing.T) {
	t.Setenv("LOGNAME", "tester")
	p := &fakePlatform{err: errors.New("collector unavailable")}

	fp := NewFingerprinter(p).Derive(context.Background())

	assert.Equal(t, ConfidenceWeak, fp.Confidence)
	assert.Equal(t, []string{"hostname", "user"}, fp.Components)
	digest, _ := Hash([]string{WeakIdentity()})
	assert.Equal(t, digest, fp.Digest)
	assert.True(t, strings.HasSuffix(WeakIdentity(), "-tester"))
}

func TestDeriveCaches(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &fakePlatform{ids: fullIdentifiers()}
	f := NewFingerprinter(p,
		WithCacheDuration(time.Hour),
		WithFingerprintClock(func() time.Time { return now }))

	first := f.Derive(context.Background())
	first.ID = "mutated"
	second := f.Derive(context.Background())

	assert.Equal(t, int32(1), p.calls.Load())
	assert.NotEqual(t, "mutated", second.ID, "callers get copies")

	now = now.Add(2 * time.Hour)
	f.Derive(context.Background())
	assert.Equal(t, int32(2), p.calls.Load())

	f.Invalidate()
	f.Derive(context.Background())
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestMatches(t *testing.T) {
	fp := NewFingerprinter(&fakePlatform{ids: fullIdentifiers()}).Derive(context.Background())

	assert.True(t, fp.Matches(fp.Digest))
	assert.True(t, fp.Matches(strings.ToUpper(fp.Digest)))
	assert.True(t, fp.Matches(fp.ID))
	assert.True(t, fp.Matches(" "+fp.ID+" "))
	assert.False(t, fp.Matches(""))
	assert.False(t, fp.Matches("0000-0000-0000-0000-0000"))
	assert.False(t, fp.Matches(fp.Digest[:40]))

	var nilFP *DeviceFingerprint
	assert.False(t, nilFP.Matches(fp.Digest))
}

func TestShort(t *testing.T) {
	fp := &DeviceFingerprint{ID: "abcd-ef01-2345-6789-abcd"}
	assert.Equal(t, "abcd-...", fp.Short())
}

func TestDeviceKey(t *testing.T) {
	key, err := DeviceKey(&fakePlatform{secret: "host-alice"})
	require.NoError(t, err)

	want := sha256.Sum256([]byte("host-alice"))
	assert.Equal(t, want[:], key)
	assert.Len(t, key, DeviceKeySize)

	_, err = DeviceKey(&fakePlatform{})
	assert.Error(t, err)
}

func TestCurrentPlatform(t *testing.T) {
	p := Current()
	require.NotNil(t, p)
	assert.NotEmpty(t, p.Name())

	path, err := p.StoragePath()
	if err == nil {
		assert.NotEmpty(t, path)
	}

	secret, err := p.DeviceSecret()
	require.NoError(t, err)
	assert.NotEmpty(t, secret)

	// must not fail regardless of what the host exposes
	fp := NewFingerprinter(p, WithCacheDuration(0)).Derive(context.Background())
	assert.Regexp(t, displayPattern, fp.ID)
}
