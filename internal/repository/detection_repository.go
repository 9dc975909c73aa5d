package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/image-detection/internal/logging"
)

// DetectionRecord is one persisted forensics analysis request.
type DetectionRecord struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	RequestID      string    `gorm:"column:request_id;uniqueIndex;size:64" json:"request_id"`
	ImageSHA1      string    `gorm:"column:image_sha1;index;size:40" json:"image_sha1"`
	PerceptualHash string    `gorm:"column:perceptual_hash;size:16" json:"perceptual_hash"`
	Status         string    `gorm:"column:status;size:16" json:"status"`
	Analysis       string    `gorm:"column:analysis;type:text" json:"-"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName overrides the default table name.
func (DetectionRecord) TableName() string {
	return "detection_records"
}

// DetectionRepository provides persistence APIs for detection records.
type DetectionRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewDetectionRepository creates a new repository instance.
func NewDetectionRepository(db *gorm.DB, logger *zap.Logger) *DetectionRepository {
	return &DetectionRepository{
		db:             db,
		logger:         logger.Named("detection_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *DetectionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&DetectionRecord{})
}

// SaveRecord persists one detection record.
func (r *DetectionRepository) SaveRecord(ctx context.Context, record *DetectionRecord) error {
	return r.executeWithRetry(ctx, "repository.save_record", record.RequestID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// FindByRequestID retrieves the record for one request.
func (r *DetectionRepository) FindByRequestID(ctx context.Context, requestID string) (*DetectionRecord, error) {
	var record DetectionRecord
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", requestID, func() error {
		return r.db.WithContext(ctx).First(&record, "request_id = ?", requestID).Error
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListOthers returns the most recent records excluding the given request,
// newest first, capped at limit.
func (r *DetectionRepository) ListOthers(ctx context.Context, excludeRequestID string, limit int) ([]*DetectionRecord, error) {
	var records []*DetectionRecord
	err := r.executeWithRetry(ctx, "repository.list_others", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("request_id <> ?", excludeRequestID).
			Order("created_at DESC").
			Limit(limit).
			Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// IsNotFound reports whether the error means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func (r *DetectionRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
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
