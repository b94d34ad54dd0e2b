package usecase

import (
	"archive/zip"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"ex-remover/internal/domain"
	"ex-remover/internal/domain/model"
)

// DefaultArchiveName is the file name offered for bulk downloads.
const DefaultArchiveName = "ex-remover-results.zip"

// WriteArchive zips the result of every done record under its source file
// name and returns how many files were written.
func WriteArchive(w io.Writer, records []model.ImageRecord) (int, error) {
	var done []model.ImageRecord
	for _, r := range records {
		if r.Status == model.ImageStatusDone && r.Result != nil {
			done = append(done, r)
		}
	}
	if len(done) == 0 {
		return 0, domain.ErrNothingToExport
	}

	zw := zip.NewWriter(w)
	used := make(map[string]bool, len(done))
	for _, r := range done {
		name := uniqueName(r.Source.Name, used)
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store, Modified: time.Now()})
		if err != nil {
			return 0, fmt.Errorf("zip %s: %w", name, err)
		}
		if _, err := fw.Write(r.Result.Data); err != nil {
			return 0, fmt.Errorf("zip %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("zip close: %w", err)
	}
	return len(done), nil
}

// uniqueName returns name, or "base (n).ext" when name is already taken.
func uniqueName(name string, used map[string]bool) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		name = "image"
	}
	if !used[name] {
		used[name] = true
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		cand := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if !used[cand] {
			used[cand] = true
			return cand
		}
	}
}
