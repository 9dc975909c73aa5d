package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "FORENSICS_API_URL", "IMAGE_DETECTION_API_USER", "IMAGE_DETECTION_API_SECRET",
		"FACE_MODELS_DIR", "FACE_GALLERY_DIR", "DATABASE_DSN", "REDIS_ADDR", "JWT_SECRET", "JWT_AUDIENCE",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.ListenAddr() != ":8080" {
		t.Fatalf("unexpected listen addr: %q", cfg.ListenAddr())
	}
	if cfg.ForensicsURL != DefaultForensicsURL {
		t.Fatalf("unexpected forensics URL: %q", cfg.ForensicsURL)
	}
	if cfg.GalleryPath != "database/" {
		t.Fatalf("unexpected gallery path: %q", cfg.GalleryPath)
	}
	if cfg.ForensicsConfigured() {
		t.Fatal("forensics must stay disabled without credentials")
	}
	if cfg.AuthEnabled() {
		t.Fatal("auth must stay disabled without a secret")
	}
}

func TestForensicsRequiresBothCredentials(t *testing.T) {
	t.Setenv("IMAGE_DETECTION_API_USER", "user")
	t.Setenv("IMAGE_DETECTION_API_SECRET", "")
	if Load().ForensicsConfigured() {
		t.Fatal("user alone must not enable forensics")
	}

	t.Setenv("IMAGE_DETECTION_API_SECRET", "secret")
	if !Load().ForensicsConfigured() {
		t.Fatal("expected forensics enabled with both credentials")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("FACE_GALLERY_DIR", "/srv/gallery")
	t.Setenv("JWT_SECRET", "  top-secret  ")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("unexpected port: %q", cfg.Port)
	}
	if cfg.GalleryPath != "/srv/gallery" {
		t.Fatalf("unexpected gallery path: %q", cfg.GalleryPath)
	}
	if cfg.JWTSecret != "top-secret" {
		t.Fatalf("expected trimmed secret, got %q", cfg.JWTSecret)
	}
	if !cfg.AuthEnabled() {
		t.Fatal("expected auth enabled")
	}
}
