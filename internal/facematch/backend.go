package facematch

import "fmt"

// Backend selects the face localization algorithm. The underlying library
// ships two detectors, a HOG-based one and a CNN; the recognized backend
// names map onto those. Unknown names are rejected up front so typos fail
// fast instead of silently falling back.
type Backend string

// Recognized detector backends.
const (
	BackendRetinaFace Backend = "retinaface"
	BackendMTCNN      Backend = "mtcnn"
	BackendCNN        Backend = "cnn"
	BackendOpenCV     Backend = "opencv"
	BackendSSD        Backend = "ssd"
	BackendHOG        Backend = "hog"
)

// DefaultBackend is used when the caller does not choose a detector.
const DefaultBackend = BackendRetinaFace

// ParseBackend validates a detector backend name.
func ParseBackend(name string) (Backend, error) {
	switch Backend(name) {
	case BackendRetinaFace, BackendMTCNN, BackendCNN, BackendOpenCV, BackendSSD, BackendHOG:
		return Backend(name), nil
	case "":
		return DefaultBackend, nil
	default:
		return "", fmt.Errorf("unrecognized detector backend %q", name)
	}
}

func (b Backend) usesCNN() bool {
	switch b {
	case BackendRetinaFace, BackendMTCNN, BackendCNN:
		return true
	default:
		return false
	}
}

// EmbeddingModel names the face recognition network requested by the caller.
// Every recognized name resolves to the library's ResNet descriptor; the
// enumeration exists to validate input, not to switch networks.
type EmbeddingModel string

// Recognized embedding models.
const (
	ModelArcFace EmbeddingModel = "ArcFace"
	ModelVGGFace EmbeddingModel = "VGG-Face"
	ModelFacenet EmbeddingModel = "Facenet"
	ModelDlib    EmbeddingModel = "Dlib"
)

// DefaultEmbeddingModel is used when the caller does not choose a model.
const DefaultEmbeddingModel = ModelArcFace

// ParseEmbeddingModel validates an embedding model name.
func ParseEmbeddingModel(name string) (EmbeddingModel, error) {
	switch EmbeddingModel(name) {
	case ModelArcFace, ModelVGGFace, ModelFacenet, ModelDlib:
		return EmbeddingModel(name), nil
	case "":
		return DefaultEmbeddingModel, nil
	default:
		return "", fmt.Errorf("unrecognized embedding model %q", name)
	}
}
