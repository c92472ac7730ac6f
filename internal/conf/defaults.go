// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Policy constants carried as named defaults rather than literals scattered
// through the pipeline.
const (
	DefaultConfidenceThreshold = 95
	// DefaultConflictFloor is the minimum match score worth a review conflict;
	// below it suggestions are discarded outright.
	DefaultConflictFloor   = 75
	DefaultMetadataTTLDays = 30
	DefaultSearchTTLDays   = 7
	DefaultArtworkCacheTTL = 5 * time.Minute
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "Echo")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/echo.log")
	viper.SetDefault("main.log.maxsizemb", 100)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxagedays", 28)

	viper.SetDefault("database.sqlite.enabled", true)
	viper.SetDefault("database.sqlite.path", "echo.db")
	viper.SetDefault("database.mysql.enabled", false)
	viper.SetDefault("database.mysql.username", "echo")
	viper.SetDefault("database.mysql.password", "")
	viper.SetDefault("database.mysql.database", "echo")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", "3306")

	viper.SetDefault("library.musicpath", "music/")
	viper.SetDefault("library.metadatapath", "metadata/")

	viper.SetDefault("enrichment.debug", false)
	viper.SetDefault("enrichment.autosearch.enabled", false)
	viper.SetDefault("enrichment.autosearch.confidencethreshold", DefaultConfidenceThreshold)
	viper.SetDefault("enrichment.autosearch.conflictfloor", DefaultConflictFloor)
	viper.SetDefault("enrichment.autosearch.createconflicts", true)
	viper.SetDefault("enrichment.cache.metadatattldays", DefaultMetadataTTLDays)
	viper.SetDefault("enrichment.cache.searchttldays", DefaultSearchTTLDays)
	viper.SetDefault("enrichment.batchconcurrency", 4)

	// MusicBrainz asks for at most one request per second per client
	viper.SetDefault("enrichment.musicbrainz.enabled", true)
	viper.SetDefault("enrichment.musicbrainz.ratelimit", 1100*time.Millisecond)
	viper.SetDefault("enrichment.musicbrainz.maxretries", 3)
	viper.SetDefault("enrichment.musicbrainz.timeout", 10*time.Second)

	viper.SetDefault("enrichment.coverartarchive.enabled", true)
	viper.SetDefault("enrichment.coverartarchive.ratelimit", 500*time.Millisecond)
	viper.SetDefault("enrichment.coverartarchive.maxretries", 3)
	viper.SetDefault("enrichment.coverartarchive.timeout", 10*time.Second)

	viper.SetDefault("enrichment.fanarttv.enabled", true)
	viper.SetDefault("enrichment.fanarttv.apikey", "")
	viper.SetDefault("enrichment.fanarttv.ratelimit", 500*time.Millisecond)
	viper.SetDefault("enrichment.fanarttv.maxretries", 3)
	viper.SetDefault("enrichment.fanarttv.timeout", 10*time.Second)

	viper.SetDefault("enrichment.theaudiodb.enabled", true)
	viper.SetDefault("enrichment.theaudiodb.apikey", "")
	viper.SetDefault("enrichment.theaudiodb.ratelimit", 500*time.Millisecond)
	viper.SetDefault("enrichment.theaudiodb.maxretries", 3)
	viper.SetDefault("enrichment.theaudiodb.timeout", 10*time.Second)

	viper.SetDefault("enrichment.lastfm.enabled", true)
	viper.SetDefault("enrichment.lastfm.apikey", "")
	viper.SetDefault("enrichment.lastfm.ratelimit", 500*time.Millisecond)
	viper.SetDefault("enrichment.lastfm.maxretries", 3)
	viper.SetDefault("enrichment.lastfm.timeout", 10*time.Second)

	viper.SetDefault("artwork.resultcachettl", DefaultArtworkCacheTTL)
	viper.SetDefault("artwork.defaultcoverpath", "assets/default-cover.jpg")
}
