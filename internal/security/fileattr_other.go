//go:build !windows

package security

// HideFile is a no-op outside Windows; the leading dot already hides the record.
func HideFile(path string) error { return nil }

// UnhideFile is a no-op outside Windows.
func UnhideFile(path string) error { return nil }
