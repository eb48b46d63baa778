package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	licenseErrors "aigem/internal/errors"
	"aigem/internal/security"
)

// recordDelimiter separates the encoded payload from its tag.
const recordDelimiter = "::"

// ActivationStore persists the activation key on disk, obfuscated with the
// device key and tagged with HMAC-SHA256 so that edits and copies from other
// machines are rejected.
type ActivationStore struct {
	path   string
	key    []byte
	logger *slog.Logger
}

// StoreOption configures an ActivationStore.
type StoreOption func(*ActivationStore)

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *ActivationStore) { s.logger = logger }
}

// NewActivationStore creates a store at path keyed by key.
func NewActivationStore(path string, key []byte, opts ...StoreOption) (*ActivationStore, error) {
	if path == "" {
		return nil, fmt.Errorf("activation record path is empty")
	}
	if len(key) != security.DeviceKeySize {
		return nil, fmt.Errorf("device key must be %d bytes, got %d", security.DeviceKeySize, len(key))
	}
	s := &ActivationStore{
		path:   path,
		key:    append([]byte(nil), key...),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "activation_store"))
	return s, nil
}

// NewPlatformStore resolves path and key from the platform. A non-empty
// override replaces the platform storage path.
func NewPlatformStore(p security.Platform, override string, opts ...StoreOption) (*ActivationStore, error) {
	path := override
	if path == "" {
		var err error
		if path, err = p.StoragePath(); err != nil {
			return nil, fmt.Errorf("failed to resolve activation record path: %w", err)
		}
	}
	key, err := security.DeviceKey(p)
	if err != nil {
		return nil, err
	}
	return NewActivationStore(path, key, opts...)
}

// Path returns the record location.
func (s *ActivationStore) Path() string {
	return s.path
}

// Save replaces the record with token. The write goes through a temporary
// file in the same directory followed by a rename.
func (s *ActivationStore) Save(token []byte) error {
	if len(token) == 0 {
		return fmt.Errorf("refusing to save an empty activation key")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".rec-*")
	if err != nil {
		return fmt.Errorf("failed to create temp record: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.WriteString(s.seal(token)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp record: %w", err)
	}

	// a hidden+system target cannot be replaced on Windows
	_ = security.UnhideFile(s.path)

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace activation record: %w", err)
	}

	if err := security.HideFile(s.path); err != nil {
		s.logger.Debug("Could not hide activation record", slog.String("error", err.Error()))
	}
	return nil
}

// Load returns the stored token, or false for any missing, edited or
// unreadable record.
func (s *ActivationStore) Load() ([]byte, bool) {
	token, err := s.Read()
	if err != nil {
		return nil, false
	}
	return token, true
}

// Read is Load with the reason: ErrLicenseNotActivated, ErrRecordTampered or
// ErrRecordCorrupt.
func (s *ActivationStore) Read() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, licenseErrors.ErrLicenseNotActivated
		}
		return nil, fmt.Errorf("%w: %v", licenseErrors.ErrRecordCorrupt, err)
	}
	if len(data) == 0 {
		return nil, licenseErrors.ErrLicenseNotActivated
	}
	return s.open(string(data))
}

// Clear deletes the record. A missing record is not an error.
func (s *ActivationStore) Clear() error {
	_ = security.UnhideFile(s.path)
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove activation record: %w", err)
	}
	return nil
}

func (s *ActivationStore) seal(token []byte) string {
	encoded := base64.StdEncoding.EncodeToString(s.xor(token))
	return encoded + recordDelimiter + s.tag(encoded)
}

func (s *ActivationStore) open(blob string) ([]byte, error) {
	idx := strings.LastIndex(blob, recordDelimiter)
	if idx < 0 {
		return nil, fmt.Errorf("%w: missing delimiter", licenseErrors.ErrRecordCorrupt)
	}
	encoded, tag := blob[:idx], blob[idx+len(recordDelimiter):]

	if subtle.ConstantTimeCompare([]byte(tag), []byte(s.tag(encoded))) != 1 {
		return nil, licenseErrors.ErrRecordTampered
	}

	obfuscated, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", licenseErrors.ErrRecordCorrupt, err)
	}
	if len(obfuscated) == 0 {
		return nil, fmt.Errorf("%w: empty payload", licenseErrors.ErrRecordCorrupt)
	}
	return s.xor(obfuscated), nil
}

// tag is the lowercase hex HMAC-SHA256 of the encoded payload.
func (s *ActivationStore) tag(encoded string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *ActivationStore) xor(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ s.key[i%len(s.key)]
	}
	return out
}
