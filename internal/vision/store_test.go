package vision

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/image/bmp"
)

func writeImage(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestTemplateStore_CachesUntilFileChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "button.png")
	writeImage(t, path, scene(16, 16))

	store := NewTemplateStore()
	first, err := store.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	second, err := store.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if first != second {
		t.Error("second Load() should return the cached image")
	}

	writeImage(t, path, scene(24, 24))
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	third, err := store.Load(path)
	if err != nil {
		t.Fatalf("Load() after change error = %v", err)
	}
	if third == first {
		t.Error("Load() after file change returned the stale image")
	}
	if third.Bounds().Dx() != 24 {
		t.Errorf("reloaded width = %d, want 24", third.Bounds().Dx())
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestTemplateStore_MissingFile(t *testing.T) {
	if _, err := NewTemplateStore().Load(filepath.Join(t.TempDir(), "nope.png")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestDecode_BMP(t *testing.T) {
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, scene(10, 6)); err != nil {
		t.Fatalf("bmp.Encode() error = %v", err)
	}

	img, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if img.Bounds().Dx() != 10 || img.Bounds().Dy() != 6 {
		t.Errorf("Bounds() = %v, want 10x6", img.Bounds())
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Error("Decode() expected error for garbage input")
	}
}
