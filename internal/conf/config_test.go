package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	return &Settings{
		Main: MainSettings{Name: "Echo"},
		Database: DatabaseSettings{
			SQLite: SQLiteSettings{Enabled: true, Path: "echo.db"},
		},
		Enrichment: EnrichmentSettings{
			AutoSearch: AutoSearchSettings{
				ConfidenceThreshold: DefaultConfidenceThreshold,
				ConflictFloor:       DefaultConflictFloor,
				CreateConflicts:     true,
			},
			Cache: CacheSettings{
				MetadataTTLDays: DefaultMetadataTTLDays,
				SearchTTLDays:   DefaultSearchTTLDays,
			},
			BatchConcurrency: 4,
			MusicBrainz:      AgentSettings{Enabled: true, RateLimit: 1100 * time.Millisecond},
			CoverArtArchive:  AgentSettings{Enabled: true, RateLimit: 500 * time.Millisecond},
		},
	}
}

func TestValidateSettingsAcceptsDefaults(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettingsRejectsDoubleBackend(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Database.MySQL.Enabled = true
	s.Database.MySQL.Host = "localhost"
	s.Database.MySQL.Port = "3306"
	s.Database.MySQL.Database = "echo"
	err := ValidateSettings(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "one database backend")
}

func TestValidateSettingsRejectsNoBackend(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Database.SQLite.Enabled = false
	require.Error(t, ValidateSettings(s))
}

func TestValidateSettingsThresholdBounds(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Enrichment.AutoSearch.ConfidenceThreshold = 101
	require.Error(t, ValidateSettings(s))

	s.Enrichment.AutoSearch.ConfidenceThreshold = -1
	require.Error(t, ValidateSettings(s))

	s.Enrichment.AutoSearch.ConfidenceThreshold = 0
	s.Enrichment.AutoSearch.ConflictFloor = 0
	require.NoError(t, ValidateSettings(s))
}

func TestValidateSettingsConflictFloorBounds(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Enrichment.AutoSearch.ConflictFloor = 101
	require.Error(t, ValidateSettings(s))

	s.Enrichment.AutoSearch.ConflictFloor = -1
	require.Error(t, ValidateSettings(s))

	// The floor may not exceed the threshold, or the review band is empty
	s.Enrichment.AutoSearch.ConflictFloor = 96
	s.Enrichment.AutoSearch.ConfidenceThreshold = 95
	err := ValidateSettings(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds confidence threshold")
}

func TestValidateSettingsRejectsZeroTTL(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Enrichment.Cache.SearchTTLDays = 0
	require.Error(t, ValidateSettings(s))
}

func TestValidateSettingsRejectsEnabledAgentWithoutRateLimit(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Enrichment.LastFM = AgentSettings{Enabled: true}
	require.Error(t, ValidateSettings(s))
}
