// Package shared holds code used across packages that belongs to no single
// layer. Its testutil subpackage provides test helpers: a capturing slog
// handler, a fake security.Platform, activation key fixtures and an httptest
// licensing server.
package shared
