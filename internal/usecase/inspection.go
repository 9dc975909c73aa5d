package usecase

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for perceptual hashing
	_ "image/png"
	"os"
	"strconv"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/image-detection/internal/facematch"
	"github.com/example/image-detection/internal/forensics"
	"github.com/example/image-detection/internal/logging"
	"github.com/example/image-detection/internal/repository"
)

// Sentinel errors for optional subsystems that are switched off.
var (
	ErrForensicsDisabled    = errors.New("forensics scoring is not configured")
	ErrFaceMatchingDisabled = errors.New("face matching is not available")
	ErrHistoryDisabled      = errors.New("detection history is not configured")
)

// Scorer runs the forensics model sweep against one image source.
type Scorer interface {
	Analyze(ctx context.Context, imageSource string) *forensics.Analysis
}

// FaceSearcher extracts faces and matches them against a gallery.
type FaceSearcher interface {
	DetectFaces(ctx context.Context, imagePath string, backend facematch.Backend) (*facematch.DetectResult, error)
	SearchFaces(ctx context.Context, imagePath, galleryPath string, model facematch.EmbeddingModel, backend facematch.Backend, threshold float64) (*facematch.SearchResult, error)
}

// DetectionStore defines the persistence operations needed by the use case.
type DetectionStore interface {
	SaveRecord(ctx context.Context, record *repository.DetectionRecord) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.DetectionRecord, error)
	ListOthers(ctx context.Context, excludeRequestID string, limit int) ([]*repository.DetectionRecord, error)
}

// Capabilities reports which optional subsystems are live. Surfaced by the
// health endpoint so deployments can see what a given instance supports.
type Capabilities struct {
	Forensics    bool `json:"forensics"`
	FaceMatching bool `json:"face_matching"`
	History      bool `json:"history"`
	Cache        bool `json:"cache"`
	Auth         bool `json:"auth"`
}

// SearchParams carries the caller-tunable knobs of a face search.
type SearchParams struct {
	ImagePath   string
	GalleryPath string
	Model       facematch.EmbeddingModel
	Backend     facematch.Backend
	Threshold   float64
}

// DuplicateReport pairs a detection record with re-uploads of the same or a
// visually near-identical image.
type DuplicateReport struct {
	Request    *repository.DetectionRecord   `json:"request"`
	Duplicates []*repository.DetectionRecord `json:"duplicates"`
}

// Records whose perceptual hashes differ by at most this many bits count as
// duplicates, alongside byte-identical uploads.
const duplicateHammingThreshold = 8

const duplicateScanLimit = 500

const cacheTTL = 5 * time.Minute

// InspectionUseCase orchestrates forensics scoring, face search, caching,
// and detection history. Store, cache, scorer, and searcher may each be nil;
// the corresponding capability is then reported as off and the operations
// relying on it fail with a sentinel error.
type InspectionUseCase struct {
	scorer         Scorer
	faces          FaceSearcher
	store          DetectionStore
	cache          Cache
	galleryPath    string
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewInspectionUseCase constructs a new use case instance.
func NewInspectionUseCase(scorer Scorer, faces FaceSearcher, store DetectionStore, cache Cache, galleryPath string, logger *zap.Logger) *InspectionUseCase {
	return &InspectionUseCase{
		scorer:         scorer,
		faces:          faces,
		store:          store,
		cache:          cache,
		galleryPath:    galleryPath,
		logger:         logger.Named("inspection_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Capabilities derives the live capability flags from the wired subsystems.
// Auth is owned by the HTTP layer and left false here.
func (uc *InspectionUseCase) Capabilities() Capabilities {
	return Capabilities{
		Forensics:    uc.scorer != nil,
		FaceMatching: uc.faces != nil,
		History:      uc.store != nil,
		Cache:        uc.cache != nil,
	}
}

// GalleryPath returns the configured default reference gallery directory.
func (uc *InspectionUseCase) GalleryPath() string {
	return uc.galleryPath
}

// AnalyzeUpload runs the forensics sweep on an uploaded image file. Results
// are cached by content hash, so re-uploads of identical bytes skip the
// upstream calls. When history is enabled the outcome is persisted under a
// fresh request ID.
func (uc *InspectionUseCase) AnalyzeUpload(ctx context.Context, imagePath string) (string, *forensics.Analysis, error) {
	if uc.scorer == nil {
		return "", nil, ErrForensicsDisabled
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.analyze_upload", requestID)

	data, err := os.ReadFile(imagePath)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.read_upload", requestID, err)
		opLogger.Error("failed to read uploaded image", zap.Error(wrapped))
		return "", nil, wrapped
	}

	sum := sha1.Sum(data)
	sha1Hex := hex.EncodeToString(sum[:])
	cacheKey := "forensics:" + sha1Hex

	analysis := uc.cachedAnalysis(ctx, requestID, cacheKey)
	if analysis == nil {
		analysis = uc.scorer.Analyze(ctx, imagePath)
	}

	serialized, err := json.Marshal(analysis)
	if err != nil {
		opLogger.Error("failed to serialize analysis", zap.Error(err))
		return "", nil, err
	}

	if uc.store != nil {
		record := &repository.DetectionRecord{
			RequestID:      requestID,
			ImageSHA1:      sha1Hex,
			PerceptualHash: uc.perceptualHash(data, opLogger),
			Status:         analysis.Status,
			Analysis:       string(serialized),
			CreatedAt:      time.Now().UTC(),
		}
		if err := uc.store.SaveRecord(ctx, record); err != nil {
			opLogger.Error("failed to persist detection record", zap.Error(err))
			return "", nil, err
		}
	}

	if uc.cache != nil {
		if err := uc.withRedisRetry(ctx, requestID, "cache.set.analysis", func() error {
			return uc.cache.Set(ctx, cacheKey, string(serialized), cacheTTL)
		}); err != nil {
			opLogger.Warn("failed to cache analysis", zap.Error(err))
		}
	}

	return requestID, analysis, nil
}

// DetectFaces extracts faces from an uploaded image.
func (uc *InspectionUseCase) DetectFaces(ctx context.Context, imagePath string, backend facematch.Backend) (*facematch.DetectResult, error) {
	if uc.faces == nil {
		return nil, ErrFaceMatchingDisabled
	}

	result, err := uc.faces.DetectFaces(ctx, imagePath, backend)
	if err != nil {
		uc.logger.Error("face detection failed", zap.Error(err), zap.String("detector", string(backend)))
		return nil, err
	}
	uc.logger.Info("faces detected",
		zap.Int("faces_detected", result.FacesDetected),
		zap.String("detector", string(backend)),
	)
	return result, nil
}

// SearchFaces extracts faces and matches each against the reference gallery.
func (uc *InspectionUseCase) SearchFaces(ctx context.Context, params SearchParams) (*facematch.SearchResult, error) {
	if uc.faces == nil {
		return nil, ErrFaceMatchingDisabled
	}

	galleryPath := params.GalleryPath
	if galleryPath == "" {
		galleryPath = uc.galleryPath
	}

	result, err := uc.faces.SearchFaces(ctx, params.ImagePath, galleryPath, params.Model, params.Backend, params.Threshold)
	if err != nil {
		uc.logger.Error("face search failed", zap.Error(err), zap.String("gallery", galleryPath))
		return nil, err
	}

	matched := 0
	for _, m := range result.Matches {
		if m.MatchFound {
			matched++
		}
	}
	uc.logger.Info("face search complete",
		zap.Int("faces_detected", result.FacesDetected),
		zap.Int("matched", matched),
		zap.String("gallery", galleryPath),
	)
	return result, nil
}

// GetResult loads the persisted record for one request.
func (uc *InspectionUseCase) GetResult(ctx context.Context, requestID string) (*repository.DetectionRecord, error) {
	if uc.store == nil {
		return nil, ErrHistoryDisabled
	}
	return uc.store.FindByRequestID(ctx, requestID)
}

// GetReport renders the persisted analysis of one request as a text report.
func (uc *InspectionUseCase) GetReport(ctx context.Context, requestID string) (string, error) {
	record, err := uc.GetResult(ctx, requestID)
	if err != nil {
		return "", err
	}

	var analysis forensics.Analysis
	if err := json.Unmarshal([]byte(record.Analysis), &analysis); err != nil {
		return "", logging.NewOperationError("usecase.decode_analysis", requestID, err)
	}
	return forensics.Report(&analysis), nil
}

// GetDuplicateReport finds earlier uploads of the same image, either
// byte-identical or perceptually near-identical.
func (uc *InspectionUseCase) GetDuplicateReport(ctx context.Context, requestID string) (*DuplicateReport, error) {
	record, err := uc.GetResult(ctx, requestID)
	if err != nil {
		return nil, err
	}

	others, err := uc.store.ListOthers(ctx, record.RequestID, duplicateScanLimit)
	if err != nil {
		return nil, err
	}

	report := &DuplicateReport{Request: record, Duplicates: []*repository.DetectionRecord{}}
	for _, other := range others {
		if other.ImageSHA1 == record.ImageSHA1 {
			report.Duplicates = append(report.Duplicates, other)
			continue
		}
		if distance, ok := hashDistance(record.PerceptualHash, other.PerceptualHash); ok && distance <= duplicateHammingThreshold {
			report.Duplicates = append(report.Duplicates, other)
		}
	}
	return report, nil
}

// cachedAnalysis attempts a cache hit for the given content hash key.
func (uc *InspectionUseCase) cachedAnalysis(ctx context.Context, requestID, cacheKey string) *forensics.Analysis {
	if uc.cache == nil {
		return nil
	}

	opLogger := logging.WithOperation(uc.logger, "cache.get.analysis", requestID)
	cached, err := uc.withRedisGet(ctx, requestID, "cache.get.analysis", cacheKey)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			opLogger.Warn("failed to read cache", zap.Error(err))
		}
		return nil
	}

	var analysis forensics.Analysis
	if err := json.Unmarshal([]byte(cached), &analysis); err != nil {
		opLogger.Warn("failed to decode cached analysis", zap.Error(err))
		return nil
	}
	opLogger.Info("analysis served from cache")
	return &analysis
}

func (uc *InspectionUseCase) perceptualHash(data []byte, opLogger *zap.Logger) string {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		opLogger.Warn("failed to decode image for perceptual hash", zap.Error(err))
		return ""
	}
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		opLogger.Warn("failed to compute perceptual hash", zap.Error(err))
		return ""
	}
	return fmt.Sprintf("%016x", hash.GetHash())
}

func hashDistance(a, b string) (int, bool) {
	if a == "" || b == "" {
		return 0, false
	}
	left, err := strconv.ParseUint(a, 16, 64)
	if err != nil {
		return 0, false
	}
	right, err := strconv.ParseUint(b, 16, 64)
	if err != nil {
		return 0, false
	}
	distance, err := goimagehash.NewImageHash(left, goimagehash.PHash).Distance(goimagehash.NewImageHash(right, goimagehash.PHash))
	if err != nil {
		return 0, false
	}
	return distance, true
}

func (uc *InspectionUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *InspectionUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
