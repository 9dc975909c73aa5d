package handlers

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/image-detection/internal/facematch"
	"github.com/example/image-detection/internal/forensics"
	"github.com/example/image-detection/internal/repository"
	"github.com/example/image-detection/internal/usecase"
)

// MaxUploadSize caps multipart uploads.
const MaxUploadSize = 10 << 20

const (
	serviceName    = "image-detection-backend"
	serviceVersion = "1.0.0"
)

type detectResponse struct {
	RequestID string `json:"request_id,omitempty"`
	*forensics.Analysis
}

// RegisterRoutes wires the HTTP handlers to the Gin router. The auth
// middleware is optional; passing nil leaves the API open.
func RegisterRoutes(router *gin.Engine, uc *usecase.InspectionUseCase, authMiddleware gin.HandlerFunc) {
	authEnabled := authMiddleware != nil

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": serviceName,
			"version": serviceVersion,
			"endpoints": gin.H{
				"health":            "/health",
				"detect":            "/detect",
				"face_detect":       "/face/detect",
				"face_search":       "/face/search",
				"detect_and_search": "/face/detect-and-search",
			},
		})
	})

	router.GET("/health", func(c *gin.Context) {
		caps := uc.Capabilities()
		caps.Auth = authEnabled
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"service":      serviceName,
			"version":      serviceVersion,
			"capabilities": caps,
		})
	})

	api := router.Group("/")
	if authEnabled {
		api.Use(authMiddleware)
	}

	api.POST("/detect", func(c *gin.Context) { handleDetect(c, uc) })
	api.POST("/face/detect", func(c *gin.Context) { handleFaceDetect(c, uc) })

	// detect-and-search is a pure alias for search.
	faceSearch := func(c *gin.Context) { handleFaceSearch(c, uc) }
	api.POST("/face/search", faceSearch)
	api.POST("/face/detect-and-search", faceSearch)

	api.GET("/result/:id", func(c *gin.Context) { handleResult(c, uc) })
	api.GET("/result/:id/report", func(c *gin.Context) { handleReport(c, uc) })
	api.GET("/result/:id/duplicates", func(c *gin.Context) { handleDuplicates(c, uc) })
}

func handleDetect(c *gin.Context, uc *usecase.InspectionUseCase) {
	if !uc.Capabilities().Forensics {
		serviceUnavailable(c, usecase.ErrForensicsDisabled)
		return
	}

	imagePath, cleanup, ok := saveUpload(c)
	if !ok {
		return
	}
	defer cleanup()

	requestID, analysis, err := uc.AnalyzeUpload(c.Request.Context(), imagePath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"error":   err.Error(),
			"message": "Failed to analyze image",
		})
		return
	}

	c.JSON(http.StatusOK, detectResponse{RequestID: requestID, Analysis: analysis})
}

func handleFaceDetect(c *gin.Context, uc *usecase.InspectionUseCase) {
	if !uc.Capabilities().FaceMatching {
		serviceUnavailable(c, usecase.ErrFaceMatchingDisabled)
		return
	}

	backend, err := facematch.ParseBackend(c.DefaultPostForm("detector", string(facematch.DefaultBackend)))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	imagePath, cleanup, ok := saveUpload(c)
	if !ok {
		return
	}
	defer cleanup()

	result, err := uc.DetectFaces(c.Request.Context(), imagePath, backend)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":        false,
			"error":          err.Error(),
			"faces_detected": 0,
			"faces":          []facematch.DetectedFace{},
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

func handleFaceSearch(c *gin.Context, uc *usecase.InspectionUseCase) {
	if !uc.Capabilities().FaceMatching {
		serviceUnavailable(c, usecase.ErrFaceMatchingDisabled)
		return
	}

	backend, err := facematch.ParseBackend(c.DefaultPostForm("detector", string(facematch.DefaultBackend)))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	model, err := facematch.ParseEmbeddingModel(c.DefaultPostForm("model", string(facematch.DefaultEmbeddingModel)))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	threshold, err := parseThreshold(c.DefaultPostForm("threshold", "0.5"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	imagePath, cleanup, ok := saveUpload(c)
	if !ok {
		return
	}
	defer cleanup()

	result, err := uc.SearchFaces(c.Request.Context(), usecase.SearchParams{
		ImagePath:   imagePath,
		GalleryPath: c.PostForm("database_path"),
		Model:       model,
		Backend:     backend,
		Threshold:   threshold,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":        false,
			"error":          err.Error(),
			"faces_detected": 0,
			"matches":        []facematch.FaceMatch{},
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

func handleResult(c *gin.Context, uc *usecase.InspectionUseCase) {
	record, ok := lookupRecord(c, uc)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, record)
}

func handleReport(c *gin.Context, uc *usecase.InspectionUseCase) {
	report, err := uc.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		historyError(c, err)
		return
	}
	c.String(http.StatusOK, report)
}

func handleDuplicates(c *gin.Context, uc *usecase.InspectionUseCase) {
	report, err := uc.GetDuplicateReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		historyError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func lookupRecord(c *gin.Context, uc *usecase.InspectionUseCase) (*repository.DetectionRecord, bool) {
	record, err := uc.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		historyError(c, err)
		return nil, false
	}
	return record, true
}

func historyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrHistoryDisabled):
		serviceUnavailable(c, err)
	case repository.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "result not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
	}
}

// saveUpload validates the multipart image field and writes it to a request
// scoped temporary file. The returned cleanup must run on every exit path.
// On validation failure the response has already been written.
func saveUpload(c *gin.Context) (string, func(), bool) {
	file, err := c.FormFile("image")
	if err != nil {
		badRequest(c, "No image file provided")
		return "", nil, false
	}
	if file.Filename == "" {
		badRequest(c, "No file selected")
		return "", nil, false
	}
	contentType := file.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		badRequest(c, "File must be an image")
		return "", nil, false
	}

	tmp, err := os.CreateTemp("", "upload-*.jpg")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to store upload"})
		return "", nil, false
	}
	tmpPath := tmp.Name()
	tmp.Close()

	cleanup := func() { os.Remove(tmpPath) }
	if err := c.SaveUploadedFile(file, tmpPath); err != nil {
		cleanup()
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to store upload"})
		return "", nil, false
	}
	return tmpPath, cleanup, true
}

func parseThreshold(raw string) (float64, error) {
	threshold, err := strconv.ParseFloat(raw, 64)
	if err != nil || threshold < 0 {
		return 0, errors.New("threshold must be a non-negative number")
	}
	return threshold, nil
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": message})
}

func serviceUnavailable(c *gin.Context, err error) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": err.Error()})
}
