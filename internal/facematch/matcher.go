package facematch

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png" // register PNG decoding for gallery and upload files
	"os"
	"path/filepath"

	"github.com/Kagami/go-face"
	"go.uber.org/zap"

	"github.com/example/image-detection/internal/logging"
)

// Model files the recognizer needs inside FACE_MODELS_DIR.
var requiredModelFiles = []string{
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
	"mmod_human_face_detector.dat",
}

// ValidateModelsDir checks that the dlib model files are in place. It backs
// the startup capability probe for face matching.
func ValidateModelsDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("models directory not configured")
	}
	for _, name := range requiredModelFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("model file %s: %w", name, err)
		}
	}
	return nil
}

// recognizer is the slice of the go-face API the matcher uses. It exists so
// tests can substitute a stub and run without model files.
type recognizer interface {
	Recognize(imgData []byte) ([]face.Face, error)
	RecognizeCNN(imgData []byte) ([]face.Face, error)
	RecognizeSingle(imgData []byte) (*face.Face, error)
	RecognizeSingleCNN(imgData []byte) (*face.Face, error)
}

// DetectedFace is one extracted face crop.
type DetectedFace struct {
	FaceNumber  int    `json:"face_number"`
	ImageBase64 string `json:"image_base64"`
	Shape       [3]int `json:"shape"`
}

// DetectResult is the outcome of face extraction. Zero detected faces is a
// valid, successful result.
type DetectResult struct {
	Success       bool           `json:"success"`
	FacesDetected int            `json:"faces_detected"`
	Faces         []DetectedFace `json:"faces"`
}

// MatchInfo describes the accepted nearest gallery candidate for one face.
type MatchInfo struct {
	Identity   string  `json:"identity"`
	Distance   float64 `json:"distance"`
	PersonName string  `json:"person_name"`
}

// FaceMatch is the per-face search outcome. Error carries a face-local
// failure without discarding results for other faces.
type FaceMatch struct {
	FaceNumber      int        `json:"face_number"`
	MatchFound      bool       `json:"match_found"`
	MatchInfo       *MatchInfo `json:"match_info"`
	FaceImageBase64 string     `json:"face_image_base64"`
	Error           string     `json:"error,omitempty"`
}

// SearchResult aggregates the per-face search outcomes.
type SearchResult struct {
	Success       bool        `json:"success"`
	FacesDetected int         `json:"faces_detected"`
	Matches       []FaceMatch `json:"matches"`
}

// Matcher extracts faces from images and searches them against a directory
// gallery of reference images.
type Matcher struct {
	rec    recognizer
	closer func()
	logger *zap.Logger
}

// NewMatcher loads the dlib models from dir and returns a ready matcher.
func NewMatcher(dir string, logger *zap.Logger) (*Matcher, error) {
	if err := ValidateModelsDir(dir); err != nil {
		return nil, err
	}
	rec, err := face.NewRecognizer(dir)
	if err != nil {
		return nil, logging.NewOperationError("facematch.new_recognizer", "", err)
	}
	return &Matcher{rec: rec, closer: rec.Close, logger: logger.Named("facematch")}, nil
}

// Close releases the underlying recognizer.
func (m *Matcher) Close() {
	if m.closer != nil {
		m.closer()
	}
}

// DetectFaces extracts every face in the image at path. Detection is not
// enforced: an image with no faces yields a successful empty result.
func (m *Matcher) DetectFaces(ctx context.Context, imagePath string, backend Backend) (*DetectResult, error) {
	img, jpegData, err := loadJPEG(imagePath)
	if err != nil {
		return nil, logging.NewOperationError("facematch.load_image", "", err)
	}

	faces, err := m.recognize(jpegData, backend)
	if err != nil {
		return nil, logging.NewOperationError("facematch.detect_faces", "", err)
	}

	result := &DetectResult{Success: true, FacesDetected: len(faces), Faces: []DetectedFace{}}
	for idx, f := range faces {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		crop, shape, err := encodeCrop(img, f.Rectangle)
		if err != nil {
			m.logger.Warn("failed to encode face crop", zap.Int("face_number", idx+1), zap.Error(err))
			continue
		}
		result.Faces = append(result.Faces, DetectedFace{
			FaceNumber:  idx + 1,
			ImageBase64: crop,
			Shape:       shape,
		})
	}
	result.FacesDetected = len(result.Faces)
	return result, nil
}

// SearchFaces extracts faces from the probe image and matches each against
// the gallery directory. A candidate is accepted only when its distance is
// at or below the threshold. Failures local to one face are reported in that
// face's record; earlier faces keep their results.
func (m *Matcher) SearchFaces(ctx context.Context, imagePath, galleryPath string, model EmbeddingModel, backend Backend, threshold float64) (*SearchResult, error) {
	img, jpegData, err := loadJPEG(imagePath)
	if err != nil {
		return nil, logging.NewOperationError("facematch.load_image", "", err)
	}

	faces, err := m.recognize(jpegData, backend)
	if err != nil {
		return nil, logging.NewOperationError("facematch.search_faces", "", err)
	}

	result := &SearchResult{Success: true, FacesDetected: len(faces), Matches: []FaceMatch{}}
	if len(faces) == 0 {
		return result, nil
	}

	refs, galleryErr := m.loadGallery(galleryPath, backend)
	if galleryErr == nil {
		m.logger.Debug("gallery loaded",
			zap.String("gallery", galleryPath),
			zap.Int("identities", len(refs.entries)),
			zap.String("model", string(model)),
		)
	}

	for idx, f := range faces {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		match := FaceMatch{FaceNumber: idx + 1}

		crop, _, err := encodeCrop(img, f.Rectangle)
		if err != nil {
			match.Error = err.Error()
			result.Matches = append(result.Matches, match)
			continue
		}
		match.FaceImageBase64 = crop

		if galleryErr != nil {
			match.Error = galleryErr.Error()
			result.Matches = append(result.Matches, match)
			continue
		}

		if best, distance, ok := refs.nearest(f.Descriptor); ok && distance <= threshold {
			match.MatchFound = true
			match.MatchInfo = &MatchInfo{
				Identity:   best.path,
				Distance:   distance,
				PersonName: best.name,
			}
		}
		result.Matches = append(result.Matches, match)
	}
	return result, nil
}

func (m *Matcher) recognize(jpegData []byte, backend Backend) ([]face.Face, error) {
	if backend.usesCNN() {
		return m.rec.RecognizeCNN(jpegData)
	}
	return m.rec.Recognize(jpegData)
}

// loadJPEG reads an image file and returns both the decoded pixels and JPEG
// bytes, re-encoding PNG input since the recognizer only accepts JPEG.
func loadJPEG(path string) (image.Image, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("decode image: %w", err)
	}
	if format == "jpeg" {
		return img, data, nil
	}

	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, img, nil); err != nil {
		return nil, nil, fmt.Errorf("convert to jpeg: %w", err)
	}
	return img, buf.Bytes(), nil
}

// encodeCrop cuts the face rectangle out of the source image, normalizes it
// to 8-bit RGB, and returns it as a base64 JPEG data URI plus its shape.
func encodeCrop(img image.Image, rect image.Rectangle) (string, [3]int, error) {
	var shape [3]int
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return "", shape, fmt.Errorf("face rectangle outside image bounds")
	}

	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(crop, crop.Bounds(), img, rect.Min, draw.Src)

	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, crop, nil); err != nil {
		return "", shape, err
	}

	shape = [3]int{rect.Dy(), rect.Dx(), 3}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	return "data:image/jpeg;base64," + encoded, shape, nil
}
