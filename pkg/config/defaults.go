package config

import (
	"time"

	"github.com/spf13/viper"
)

// Endpoints of the public job-offers API.
const (
	DefaultTokenURL  = "https://entreprise.francetravail.fr/connexion/oauth2/access_token"
	DefaultSearchURL = "https://api.francetravail.io/partenaire/offresdemploi/v2/offres/search"
	DefaultScope     = "api_offresdemploiv2 o2dsoffre"
	DefaultRealm     = "/partenaire"
)

// SetDefaults configures default values for all configuration options.
// Every key has a default so that OFFERS_* environment variables are seen by
// Unmarshal.
func SetDefaults(v *viper.Viper) {
	// API
	v.SetDefault("api.client_id", "")
	v.SetDefault("api.client_secret", "")
	v.SetDefault("api.scope", DefaultScope)
	v.SetDefault("api.realm", DefaultRealm)
	v.SetDefault("api.token_url", DefaultTokenURL)
	v.SetDefault("api.base_url", DefaultSearchURL)
	v.SetDefault("api.user_agent", "offer-pipeline/0.1.0")
	v.SetDefault("api.request_timeout", 30*time.Second)

	// Fetch
	v.SetDefault("fetch.page_size", 150)
	v.SetDefault("fetch.max_offset", 3000)
	v.SetDefault("fetch.workers", 4)
	v.SetDefault("fetch.min_interval", 110*time.Millisecond) // ~9 req/s API quota
	v.SetDefault("fetch.max_retries", 4)
	v.SetDefault("fetch.initial_backoff", time.Second)
	v.SetDefault("fetch.max_backoff", 30*time.Second)
	v.SetDefault("fetch.partitions_file", "")
	v.SetDefault("fetch.filter_by_date", true)

	// Token
	v.SetDefault("token.safety_margin", 60*time.Second)

	// Storage
	v.SetDefault("bronze.dir", "data/bronze")
	v.SetDefault("silver.driver", "sqlite3")
	v.SetDefault("silver.dsn", "data/silver.db")
	v.SetDefault("silver.dir", "data/silver")

	// Audit
	v.SetDefault("audit.file", "data/audit.jsonl")
	v.SetDefault("audit.redis_url", "")
	v.SetDefault("audit.stream", "offers:audit")

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Scheduling
	v.SetDefault("timezone", "Europe/Paris")
	v.SetDefault("schedule.spec", "0 3 * * *")
	v.SetDefault("metrics.addr", ":9090")
}
