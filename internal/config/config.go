package config

import (
	"os"
	"strings"
)

// DefaultForensicsURL is the scoring endpoint used unless overridden.
const DefaultForensicsURL = "https://api.sightengine.com/1.0/check.json"

// Config captures every environment-driven setting. Optional subsystems are
// represented by empty values; the corresponding capability probes report
// whether they are usable.
type Config struct {
	Port string

	// Forensics scoring API. User and secret have no defaults: the
	// capability stays disabled until both are provided.
	ForensicsURL string
	APIUser      string
	APISecret    string

	// Face matching.
	FaceModelsDir string
	GalleryPath   string

	// Optional subsystems.
	DatabaseDSN string
	RedisAddr   string
	JWTSecret   string
	JWTAudience string
}

// Load reads configuration from the process environment.
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		ForensicsURL:  getEnv("FORENSICS_API_URL", DefaultForensicsURL),
		APIUser:       strings.TrimSpace(os.Getenv("IMAGE_DETECTION_API_USER")),
		APISecret:     strings.TrimSpace(os.Getenv("IMAGE_DETECTION_API_SECRET")),
		FaceModelsDir: os.Getenv("FACE_MODELS_DIR"),
		GalleryPath:   getEnv("FACE_GALLERY_DIR", "database/"),
		DatabaseDSN:   os.Getenv("DATABASE_DSN"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		JWTSecret:     strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTAudience:   strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
	}
}

// ForensicsConfigured reports whether the scoring API credentials are present.
func (c *Config) ForensicsConfigured() bool {
	return c.APIUser != "" && c.APISecret != ""
}

// AuthEnabled reports whether bearer-token authentication is switched on.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

// ListenAddr returns the HTTP bind address.
func (c *Config) ListenAddr() string {
	return ":" + c.Port
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
