package facematch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Kagami/go-face"
	"go.uber.org/zap"
)

// galleryEntry is one reference identity: a flat image file whose filename
// stem is the person label.
type galleryEntry struct {
	path       string
	name       string
	descriptor face.Descriptor
}

type gallery struct {
	entries []galleryEntry
}

// nearest returns the single closest gallery entry to the probe descriptor
// by squared Euclidean distance.
func (g *gallery) nearest(probe face.Descriptor) (galleryEntry, float64, bool) {
	var (
		best  galleryEntry
		bestD float64
		found bool
	)
	for _, entry := range g.entries {
		d := face.SquaredEuclideanDistance(probe, entry.descriptor)
		if !found || d < bestD {
			best, bestD, found = entry, d, true
		}
	}
	return best, bestD, found
}

// loadGallery reads every image in the gallery directory and computes a
// descriptor per identity. Files without a detectable face are skipped. A
// missing directory is reported as an error for the caller to attach to each
// face record rather than failing the request.
func (m *Matcher) loadGallery(dir string, backend Backend) (*gallery, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("database path %q does not exist", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("database path %q is not readable", dir)
	}

	g := &gallery{}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		descriptor, err := m.referenceDescriptor(path, backend)
		if err != nil {
			m.logger.Warn("skipping gallery image", zap.String("path", path), zap.Error(err))
			continue
		}
		if descriptor == nil {
			m.logger.Debug("no face in gallery image", zap.String("path", path))
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		g.entries = append(g.entries, galleryEntry{path: path, name: stem, descriptor: *descriptor})
	}
	return g, nil
}

func (m *Matcher) referenceDescriptor(path string, backend Backend) (*face.Descriptor, error) {
	_, jpegData, err := loadJPEG(path)
	if err != nil {
		return nil, err
	}

	var ref *face.Face
	if backend.usesCNN() {
		ref, err = m.rec.RecognizeSingleCNN(jpegData)
	} else {
		ref, err = m.rec.RecognizeSingle(jpegData)
	}
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, nil
	}
	return &ref.Descriptor, nil
}
