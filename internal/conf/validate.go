// conf/validate.go

package conf

import (
	"fmt"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateDatabaseSettings(&settings.Database); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateEnrichmentSettings(&settings.Enrichment); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDatabaseSettings(db *DatabaseSettings) error {
	if db.SQLite.Enabled && db.MySQL.Enabled {
		return fmt.Errorf("only one database backend may be enabled at a time")
	}
	if !db.SQLite.Enabled && !db.MySQL.Enabled {
		return fmt.Errorf("no database backend enabled")
	}
	if db.SQLite.Enabled && db.SQLite.Path == "" {
		return fmt.Errorf("sqlite enabled but path is empty")
	}
	if db.MySQL.Enabled {
		if db.MySQL.Host == "" || db.MySQL.Port == "" {
			return fmt.Errorf("mysql enabled but host/port missing")
		}
		if db.MySQL.Database == "" {
			return fmt.Errorf("mysql enabled but database name missing")
		}
	}
	return nil
}

func validateEnrichmentSettings(en *EnrichmentSettings) error {
	t := en.AutoSearch.ConfidenceThreshold
	if t < 0 || t > 100 {
		return fmt.Errorf("autosearch confidence threshold must be 0-100, got %d", t)
	}
	f := en.AutoSearch.ConflictFloor
	if f < 0 || f > 100 {
		return fmt.Errorf("autosearch conflict floor must be 0-100, got %d", f)
	}
	if f > t && t > 0 {
		return fmt.Errorf("autosearch conflict floor %d exceeds confidence threshold %d", f, t)
	}
	if en.Cache.MetadataTTLDays <= 0 {
		return fmt.Errorf("metadata cache TTL must be positive, got %d", en.Cache.MetadataTTLDays)
	}
	if en.Cache.SearchTTLDays <= 0 {
		return fmt.Errorf("search cache TTL must be positive, got %d", en.Cache.SearchTTLDays)
	}
	if en.BatchConcurrency <= 0 {
		return fmt.Errorf("batch concurrency must be positive, got %d", en.BatchConcurrency)
	}
	for name, agent := range map[string]*AgentSettings{
		"musicbrainz":     &en.MusicBrainz,
		"coverartarchive": &en.CoverArtArchive,
		"fanarttv":        &en.FanartTV,
		"theaudiodb":      &en.TheAudioDB,
		"lastfm":          &en.LastFM,
	} {
		if agent.Enabled && agent.RateLimit <= 0 {
			return fmt.Errorf("agent %s enabled with non-positive rate limit", name)
		}
	}
	return nil
}
