package usecase

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"ex-remover/internal/domain"
	"ex-remover/internal/domain/model"
)

const (
	warnInvalidType = "Some files were not valid image types and were ignored."
	warnDuplicate   = "Some files were already in the batch and were ignored."
)

// SourceFile is an uploaded or on-disk photo before it becomes a record.
type SourceFile struct {
	Name    string
	ModTime time.Time
	Data    []byte
}

// IntakeResult holds the accepted records and batch-level warnings.
type IntakeResult struct {
	Records  []*model.ImageRecord
	Warnings []string
}

// BuildRecords sniffs each file and keeps the images, in input order.
func BuildRecords(files []SourceFile) (IntakeResult, error) {
	var (
		res                IntakeResult
		invalid, duplicate bool
		seen               = make(map[string]bool, len(files))
	)
	for _, f := range files {
		mt := imageMIME(f.Data)
		if mt == "" {
			invalid = true
			continue
		}
		id := model.RecordID(f.Name, f.ModTime)
		if seen[id] {
			duplicate = true
			continue
		}
		rec, err := model.NewImageRecord(id, model.Image{Name: f.Name, MIMEType: mt, Data: f.Data})
		if err != nil {
			invalid = true
			continue
		}
		seen[id] = true
		res.Records = append(res.Records, rec)
	}
	if invalid {
		res.Warnings = append(res.Warnings, warnInvalidType)
	}
	if duplicate {
		res.Warnings = append(res.Warnings, warnDuplicate)
	}
	if len(res.Records) == 0 {
		return res, domain.ErrEmptyBatch
	}
	return res, nil
}

func imageMIME(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	mt, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	mt = strings.TrimSpace(mt)
	if !strings.HasPrefix(mt, "image/") {
		return ""
	}
	return mt
}

// LoadDir reads the regular files of dir, sorted by name. Files that cannot
// be read are reported as warnings rather than failing the whole intake.
func LoadDir(dir string) ([]SourceFile, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var (
		files    []SourceFile
		warnings []string
	)
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Could not read %s: %v", e.Name(), err))
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Could not read %s: %v", e.Name(), err))
			continue
		}
		files = append(files, SourceFile{Name: e.Name(), ModTime: info.ModTime(), Data: data})
	}
	return files, warnings, nil
}
