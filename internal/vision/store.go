package vision

import (
	"fmt"
	"image"
	"os"
	"sync"
	"time"
)

// TemplateStore decodes template files once and hands out the prepared gray
// images. An entry is re-read when the file's size or modification time
// changes, so a catalog reload picks up edited images.
type TemplateStore struct {
	mu      sync.Mutex
	entries map[string]storeEntry
}

type storeEntry struct {
	img     *image.Gray
	size    int64
	modTime time.Time
}

// NewTemplateStore creates an empty store.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{entries: make(map[string]storeEntry)}
}

// Load returns the gray template for path.
func (s *TemplateStore) Load(path string) (*image.Gray, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}

	s.mu.Lock()
	e, ok := s.entries[path]
	s.mu.Unlock()
	if ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		return e.img, nil
	}

	img, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	gray := Gray(img)

	s.mu.Lock()
	s.entries[path] = storeEntry{img: gray, size: info.Size(), modTime: info.ModTime()}
	s.mu.Unlock()

	return gray, nil
}

// Len returns the number of cached templates.
func (s *TemplateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
