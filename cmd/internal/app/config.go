package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the DB is configured and
	// reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, LANYARD_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and all
	// bearer-token hashing must be HMAC-based.
	RequireTokenHMAC bool

	DeviceTokenTTL time.Duration

	// Apple pass identity.
	PassTypeID       string
	PassTeamID       string
	PassOrganization string
	PassDescription  string
	PassWebService   string

	// Google save-to-wallet issuer. The flow stays disabled until the
	// issuer id, class id, and signing key are all present.
	GoogleIssuerID       string
	GoogleClassID        string
	GoogleIssuerEmail    string
	GoogleEventName      string
	GoogleVenueName      string
	GoogleOrigins        []string
	GooglePrivateKeyFile string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("LANYARD_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("LANYARD_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("LANYARD_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("LANYARD_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("LANYARD_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("LANYARD_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("LANYARD_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("LANYARD_DATABASE_URL", ""),
		DBSchema:    EnvString("LANYARD_DB_SCHEMA", "lanyard"),
		DBMaxConns:  EnvInt32("LANYARD_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("LANYARD_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("LANYARD_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("LANYARD_REQUIRE_TOKEN_HMAC", false),

		DeviceTokenTTL: EnvDuration("LANYARD_DEVICE_TOKEN_TTL", 7*24*time.Hour),

		PassTypeID:       EnvString("LANYARD_PASS_TYPE_ID", "pass.com.lanyard.event"),
		PassTeamID:       EnvString("LANYARD_PASS_TEAM_ID", "LANYARDTEAM"),
		PassOrganization: EnvString("LANYARD_PASS_ORGANIZATION", "Lanyard"),
		PassDescription:  EnvString("LANYARD_PASS_DESCRIPTION", "Event credential"),
		PassWebService:   EnvString("LANYARD_PASS_WEB_SERVICE_URL", ""),

		GoogleIssuerID:       EnvString("LANYARD_GOOGLE_ISSUER_ID", ""),
		GoogleClassID:        EnvString("LANYARD_GOOGLE_CLASS_ID", ""),
		GoogleIssuerEmail:    EnvString("LANYARD_GOOGLE_ISSUER_EMAIL", ""),
		GoogleEventName:      EnvString("LANYARD_GOOGLE_EVENT_NAME", "Lanyard Event"),
		GoogleVenueName:      EnvString("LANYARD_GOOGLE_VENUE_NAME", ""),
		GoogleOrigins:        EnvCSV("LANYARD_GOOGLE_ORIGINS", nil),
		GooglePrivateKeyFile: EnvString("LANYARD_GOOGLE_PRIVATE_KEY_FILE", ""),
	}
}
