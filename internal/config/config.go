package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type Config struct {
	Port               string
	DBUrl              string
	JWTSecret          string
	JWTTTL             time.Duration
	SupabaseURL        string
	SupabaseBucket     string
	SupabaseServiceKey string
	AppEnv             string
	EnableDocs         bool
	DocstoreBackend    string
	MirrorURL          string
	ReviewerRoles      []string

	SubscriptionRetry      time.Duration
	CredentialDebounce     time.Duration
	SubscriptionMaxRetries int

	SyncURL      string
	SyncEmail    string
	SyncPassword string
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	jwtSecret, exists := os.LookupEnv("JWT_SECRET")
	if !exists || jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return buildConfig(jwtSecret)
}

// LoadClientConfig is LoadConfig for binaries that never sign tokens.
func LoadClientConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	return buildConfig(getEnv("JWT_SECRET", ""))
}

func buildConfig(jwtSecret string) (*Config, error) {
	dbURL := getEnv("DB_URL", "")
	defaultBackend := BackendMemory
	if dbURL != "" {
		defaultBackend = BackendPostgres
	}
	backend := strings.ToLower(strings.TrimSpace(getEnv("DOCSTORE_BACKEND", defaultBackend)))
	if backend != BackendMemory && backend != BackendPostgres {
		return nil, fmt.Errorf("DOCSTORE_BACKEND must be %q or %q, got %q", BackendMemory, BackendPostgres, backend)
	}

	return &Config{
		Port:               getEnv("PORT", "8080"),
		DBUrl:              dbURL,
		JWTSecret:          jwtSecret,
		JWTTTL:             getEnvDuration("JWT_TTL", time.Hour),
		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseBucket:     getEnv("SUPABASE_BUCKET", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),
		AppEnv:             normalizeEnv(getEnv("APP_ENV", "production")),
		EnableDocs:         getEnvBool("ENABLE_API_DOCS", false),
		DocstoreBackend:    backend,
		MirrorURL:          getEnv("MIRROR_URL", ""),
		ReviewerRoles:      getEnvList("REVIEWER_ROLES", []string{"coach"}),

		SubscriptionRetry:      getEnvDuration("SUBSCRIPTION_RETRY", 1500*time.Millisecond),
		CredentialDebounce:     getEnvDuration("CREDENTIAL_DEBOUNCE", 750*time.Millisecond),
		SubscriptionMaxRetries: getEnvInt("SUBSCRIPTION_MAX_RETRIES", 0),

		SyncURL:      getEnv("SYNC_URL", "http://127.0.0.1:8080"),
		SyncEmail:    getEnv("SYNC_EMAIL", ""),
		SyncPassword: getEnv("SYNC_PASSWORD", ""),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed < 0 {
		log.Printf("Ignoring invalid %s=%q", key, value)
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		log.Printf("Ignoring invalid %s=%q", key, value)
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

func (c *Config) StorageConfigured() bool {
	return c != nil && c.SupabaseURL != "" && c.SupabaseBucket != "" && c.SupabaseServiceKey != ""
}

func (c *Config) DocsEnabled() bool {
	return c != nil && c.EnableDocs && c.AppEnv == "development"
}
