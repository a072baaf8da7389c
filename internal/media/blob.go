package media

import (
	"os"
	"sync"

	"whatstopic/internal/models"
)

// Blob is a fetched media file on local disk. Transcoded blobs share the temp
// set of the blob they came from, so releasing either removes every file.
type Blob struct {
	Path      string
	MimeType  string
	FileName  string
	Size      int64
	Kind      models.Kind
	VideoNote bool
	Animated  bool

	temps *tempSet
}

type tempSet struct {
	mu    sync.Mutex
	paths []string
}

func (s *tempSet) add(path string) {
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
}

func (s *tempSet) removeAll() {
	s.mu.Lock()
	paths := s.paths
	s.paths = nil
	s.mu.Unlock()

	for _, p := range paths {
		_ = os.Remove(p)
	}
}

func newBlob(path string) *Blob {
	b := &Blob{Path: path, temps: &tempSet{}}
	b.temps.add(path)
	return b
}

// Release removes the blob's temp files. Safe to call more than once and on nil.
func (b *Blob) Release() {
	if b == nil || b.temps == nil {
		return
	}
	b.temps.removeAll()
}

// derive returns a blob for a transcoded file that shares cleanup with b.
func (b *Blob) derive(path, mimeType string, kind models.Kind) *Blob {
	if b.temps == nil {
		b.temps = &tempSet{}
	}
	b.temps.add(path)

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	return &Blob{
		Path:      path,
		MimeType:  mimeType,
		FileName:  b.FileName,
		Size:      size,
		Kind:      kind,
		VideoNote: b.VideoNote,
		Animated:  b.Animated,
		temps:     b.temps,
	}
}
