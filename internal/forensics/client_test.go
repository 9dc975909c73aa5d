package forensics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestScoreURLIssuesGETWithQueryParams(t *testing.T) {
	var gotMethod string
	var gotQuery map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = map[string]string{
			"models":     r.URL.Query().Get("models"),
			"api_user":   r.URL.Query().Get("api_user"),
			"api_secret": r.URL.Query().Get("api_secret"),
			"url":        r.URL.Query().Get("url"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","type":{"deepfake":0.12}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "user", "secret", zap.NewNop())
	result := client.Score(context.Background(), "https://example.com/photo.jpg", ModelDeepfake)

	if gotMethod != http.MethodGet {
		t.Fatalf("expected GET for URL source, got %s", gotMethod)
	}
	if gotQuery["models"] != "deepfake" {
		t.Fatalf("unexpected models param: %q", gotQuery["models"])
	}
	if gotQuery["api_user"] != "user" || gotQuery["api_secret"] != "secret" {
		t.Fatalf("credentials not forwarded: %+v", gotQuery)
	}
	if gotQuery["url"] != "https://example.com/photo.jpg" {
		t.Fatalf("unexpected url param: %q", gotQuery["url"])
	}
	if result["status"] != "success" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestScoreFileIssuesMultipartPOST(t *testing.T) {
	var gotMethod string
	var gotFields map[string]string
	var gotMedia []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
		}
		gotFields = map[string]string{
			"models":     r.FormValue("models"),
			"api_user":   r.FormValue("api_user"),
			"api_secret": r.FormValue("api_secret"),
		}
		file, _, err := r.FormFile("media")
		if err != nil {
			t.Errorf("missing media part: %v", err)
		} else {
			defer file.Close()
			buf := make([]byte, 16)
			n, _ := file.Read(buf)
			gotMedia = buf[:n]
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","quality":{"score":0.9}}`))
	}))
	defer server.Close()

	imagePath := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(imagePath, []byte("fake-jpeg"), 0o600); err != nil {
		t.Fatalf("failed to write test image: %v", err)
	}

	client := NewClient(server.URL, "user", "secret", zap.NewNop())
	result := client.Score(context.Background(), imagePath, ModelQuality)

	if gotMethod != http.MethodPost {
		t.Fatalf("expected POST for file source, got %s", gotMethod)
	}
	if gotFields["models"] != "quality" {
		t.Fatalf("unexpected models field: %q", gotFields["models"])
	}
	if gotFields["api_user"] != "user" || gotFields["api_secret"] != "secret" {
		t.Fatalf("credentials not forwarded: %+v", gotFields)
	}
	if string(gotMedia) != "fake-jpeg" {
		t.Fatalf("unexpected media content: %q", gotMedia)
	}
	if result["status"] != "success" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestScoreEmbedsUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer server.Close()

	client := NewClient(server.URL, "user", "secret", zap.NewNop())
	result := client.Score(context.Background(), "https://example.com/photo.jpg", ModelScam)

	if result["status"] != "error" {
		t.Fatalf("expected error-tagged result, got %+v", result)
	}
	if result["model"] != "scam" {
		t.Fatalf("expected model tag, got %+v", result)
	}
	if result["error"] == "" || result["error"] == nil {
		t.Fatalf("expected error description, got %+v", result)
	}
}

func TestScoreEmbedsTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client := NewClient(server.URL, "user", "secret", zap.NewNop())
	result := client.Score(context.Background(), "https://example.com/photo.jpg", ModelGenAI)

	if result["status"] != "error" || result["model"] != "genai" {
		t.Fatalf("expected error-tagged result, got %+v", result)
	}
}

func TestScoreMissingFileIsEmbedded(t *testing.T) {
	client := NewClient("http://localhost:1", "user", "secret", zap.NewNop())
	result := client.Score(context.Background(), filepath.Join(t.TempDir(), "absent.jpg"), ModelDeepfake)

	if result["status"] != "error" || result["model"] != "deepfake" {
		t.Fatalf("expected error-tagged result, got %+v", result)
	}
}

func TestAnalyzeAggregatesAndEmbedsPartialFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		model := r.URL.Query().Get("models")
		if model == "quality" || model == "scam" {
			http.Error(w, "model unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"type":   map[string]interface{}{"deepfake": 0.8, "ai_generated": 0.1},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "user", "secret", zap.NewNop())
	analysis := client.Analyze(context.Background(), "https://example.com/photo.jpg")

	if analysis.Status != "success" {
		t.Fatalf("aggregate must stay success, got %q", analysis.Status)
	}
	if analysis.ImageSource != "https://example.com/photo.jpg" {
		t.Fatalf("unexpected image source: %q", analysis.ImageSource)
	}
	if analysis.Deepfake["status"] != "success" {
		t.Fatalf("expected deepfake success, got %+v", analysis.Deepfake)
	}
	if analysis.Quality["status"] != "error" || analysis.Quality["model"] != "quality" {
		t.Fatalf("expected embedded quality failure, got %+v", analysis.Quality)
	}
	if analysis.Scammer["status"] != "error" {
		t.Fatalf("expected embedded scam failure, got %+v", analysis.Scammer)
	}
}
