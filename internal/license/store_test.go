package license

import (
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licenseErrors "aigem/internal/errors"
	"aigem/internal/shared/testutil"
)

func testKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

func newTestStore(t *testing.T) *ActivationStore {
	t.Helper()
	store, err := NewActivationStore(filepath.Join(t.TempDir(), "nested", ".lic"), testKey("host-alice"))
	require.NoError(t, err)
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	tokens := []string{
		"x",
		"eyJhbGciOiJIUzI1NiJ9.eyJ0aWVyIjoiUFJPIn0.c2ln",
		strings.Repeat("0123456789abcdef", 40),
		`{"tier":"PREMIUM","hwid":"abcd","issued":"2025-01-01T00:00:00"}`,
	}

	for _, token := range tokens {
		require.NoError(t, store.Save([]byte(token)))
		got, ok := store.Load()
		require.True(t, ok)
		assert.Equal(t, token, string(got))
	}
}

func TestStoreRecordFormat(t *testing.T) {
	store := newTestStore(t)
	key := testKey("host-alice")
	require.NoError(t, store.Save([]byte("activation-key")))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	encoded, tag, found := strings.Cut(string(data), recordDelimiter)
	require.True(t, found)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), tag)

	obfuscated, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	plain := make([]byte, len(obfuscated))
	for i := range obfuscated {
		plain[i] = obfuscated[i] ^ key[i%32]
	}
	assert.Equal(t, "activation-key", string(plain))
	assert.NotContains(t, string(data), "activation-key")
}

func TestStoreMissingRecord(t *testing.T) {
	store := newTestStore(t)

	_, ok := store.Load()
	assert.False(t, ok)

	_, err := store.Read()
	assert.ErrorIs(t, err, licenseErrors.ErrLicenseNotActivated)
}

func TestStoreSingleBitFlips(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save([]byte(`{"tier":"PRO","hwid":"ab12","issued":"2025-01-01"}`)))

	original, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	for i := range original {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), original...)
			mutated[i] ^= 1 << bit
			require.NoError(t, os.WriteFile(store.Path(), mutated, 0600))

			_, ok := store.Load()
			if !assert.False(t, ok, "flip of bit %d in byte %d was accepted", bit, i) {
				return
			}
		}
	}
}

func TestStoreReadReasons(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save([]byte("token")))
	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	encoded, tag, _ := strings.Cut(string(data), recordDelimiter)
	edited := "A" + encoded[1:]
	if encoded[0] == 'A' {
		edited = "B" + encoded[1:]
	}

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"no delimiter", encoded + tag, licenseErrors.ErrRecordCorrupt},
		{"edited payload", edited + recordDelimiter + tag, licenseErrors.ErrRecordTampered},
		{"uppercase tag", encoded + recordDelimiter + strings.ToUpper(tag), licenseErrors.ErrRecordTampered},
		{"empty file", "", licenseErrors.ErrLicenseNotActivated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(store.Path(), []byte(tt.content), 0600))
			_, err := store.Read()
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStoreRejectsForeignKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lic")
	mine, err := NewActivationStore(path, testKey("host-alice"))
	require.NoError(t, err)
	theirs, err := NewActivationStore(path, testKey("other-bob"))
	require.NoError(t, err)

	require.NoError(t, theirs.Save([]byte("copied-token")))

	_, err = mine.Read()
	assert.ErrorIs(t, err, licenseErrors.ErrRecordTampered)
}

func TestStoreBadBase64WithValidTag(t *testing.T) {
	store := newTestStore(t)
	bogus := "not*base64"
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0700))
	require.NoError(t, os.WriteFile(store.Path(), []byte(bogus+recordDelimiter+store.tag(bogus)), 0600))

	_, err := store.Read()
	assert.ErrorIs(t, err, licenseErrors.ErrRecordCorrupt)
}

func TestStoreSaveReplacesAtomically(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save([]byte("first")))
	require.NoError(t, store.Save([]byte("second")))

	got, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")

	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Dir(store.Path()))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
	}
}

func TestStoreSaveEmpty(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.Save(nil))
	_, err := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestStoreClear(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Clear(), "missing record")

	require.NoError(t, store.Save([]byte("token")))
	require.NoError(t, store.Clear())
	_, ok := store.Load()
	assert.False(t, ok)
}

func TestNewActivationStoreValidation(t *testing.T) {
	_, err := NewActivationStore("", testKey("x"))
	assert.Error(t, err)

	_, err = NewActivationStore("/tmp/rec", []byte("short"))
	assert.Error(t, err)
}

func TestNewPlatformStore(t *testing.T) {
	dir := t.TempDir()
	platform := testutil.NewFakePlatform(dir)

	store, err := NewPlatformStore(platform, "")
	require.NoError(t, err)
	assert.Equal(t, platform.Path, store.Path())

	override := filepath.Join(dir, "custom.dat")
	store, err = NewPlatformStore(platform, override)
	require.NoError(t, err)
	assert.Equal(t, override, store.Path())

	require.NoError(t, store.Save([]byte("token")))
	same, err := NewActivationStore(override, testKey(platform.Secret))
	require.NoError(t, err)
	got, ok := same.Load()
	require.True(t, ok)
	assert.Equal(t, "token", string(got))
}
