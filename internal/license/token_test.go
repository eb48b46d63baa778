package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licenseErrors "aigem/internal/errors"
	"aigem/internal/shared/testutil"
	"aigem/pkg/contracts/domain"
)

func TestParseTokenJWT(t *testing.T) {
	issued := time.Date(2025, 2, 1, 8, 30, 0, 0, time.UTC)
	heartbeat := issued.Add(72 * time.Hour)
	raw := testutil.SignedToken(t, testutil.TokenClaims{
		Tier: "PRO", HWID: "abcd-ef01-2345-6789-abcd", Issued: issued, LastHeartbeat: heartbeat,
	})

	tok, err := ParseToken(raw)
	require.NoError(t, err)

	assert.Equal(t, domain.TierPro, tok.Tier)
	assert.Equal(t, "abcd-ef01-2345-6789-abcd", tok.HWID)
	assert.True(t, issued.Equal(tok.IssuedAt))
	assert.True(t, heartbeat.Equal(tok.LastHeartbeatAt))
	assert.Equal(t, time.UTC, tok.IssuedAt.Location())
	assert.Equal(t, raw, tok.Raw)
}

func TestParseTokenCompactJSON(t *testing.T) {
	issued := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	raw := testutil.CompactToken(t, testutil.TokenClaims{Tier: "STARTER", HWID: "ff", Issued: issued})

	tok, err := ParseToken(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.TierStarter, tok.Tier)
	assert.True(t, tok.LastHeartbeatAt.Equal(issued), "last heartbeat defaults to issued")
}

func TestParseTokenTimestamps(t *testing.T) {
	want := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	tests := []struct {
		name  string
		value string
	}{
		{"naive", `"2025-03-04T05:06:07"`},
		{"naive fractional", `"2025-03-04T05:06:07.000000"`},
		{"utc offset", `"2025-03-04T05:06:07+00:00"`},
		{"zulu", `"2025-03-04T05:06:07Z"`},
		{"other offset", `"2025-03-04T08:06:07+03:00"`},
		{"space separated", `"2025-03-04 05:06:07"`},
		{"unix seconds", `1741064767`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := ParseToken(`{"tier":"PRO","hwid":"x","issued":` + tt.value + `}`)
			require.NoError(t, err)
			assert.True(t, want.Equal(tok.IssuedAt), "got %s", tok.IssuedAt)
			assert.Equal(t, time.UTC, tok.IssuedAt.Location())
		})
	}

	tok, err := ParseToken(`{"tier":"PRO","hwid":"x","issued":"2025-03-04"}`)
	require.NoError(t, err)
	assert.True(t, time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC).Equal(tok.IssuedAt))
}

func TestParseTokenMissingTierIsFree(t *testing.T) {
	tok, err := ParseToken(`{"hwid":"x","issued":"2025-03-04T00:00:00"}`)
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, tok.Tier)
}

func TestParseTokenCorrupt(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", "   "},
		{"garbage", "not a token"},
		{"truncated jwt", "eyJhbGciOiJIUzI1NiJ9.eyJ0aWVy"},
		{"bad json", `{"tier":`},
		{"unknown tier", `{"tier":"GOLD","hwid":"x","issued":"2025-01-01"}`},
		{"lower case tier", `{"tier":"pro","hwid":"x","issued":"2025-01-01"}`},
		{"padded tier", `{"tier":" PRO ","hwid":"x","issued":"2025-01-01"}`},
		{"tier not string", `{"tier":3,"hwid":"x","issued":"2025-01-01"}`},
		{"missing issued", `{"tier":"PRO","hwid":"x"}`},
		{"bad issued", `{"tier":"PRO","hwid":"x","issued":"yesterday"}`},
		{"bad heartbeat", `{"tier":"PRO","hwid":"x","issued":"2025-01-01","last_heartbeat":"soon"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.raw)
			assert.ErrorIs(t, err, licenseErrors.ErrRecordCorrupt)
		})
	}
}

func TestDaysSince(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 0},
		{23 * time.Hour, 0},
		{24 * time.Hour, 1},
		{30*24*time.Hour + 23*time.Hour, 30},
		{31 * 24 * time.Hour, 31},
		{-time.Hour, -1},
		{-48 * time.Hour, -2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DaysSince(base, base.Add(tt.elapsed)), "elapsed %s", tt.elapsed)
	}
}
