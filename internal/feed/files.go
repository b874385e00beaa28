package feed

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/141JosephAlen/ec-bot/internal/domain"
)

// MaxFileSize bounds snapshot files read from disk.
const MaxFileSize = 64 << 20

// File is a stored snapshot and the instant it was observed.
type File struct {
	Path       string
	ObservedAt domain.Millis
}

var fileDate = regexp.MustCompile(`^(\d{4})-?(\d{2})-?(\d{2})`)

// FileDate reads the observation day from a snapshot file name such as
// 20210415.json or 2021-04-15.json.
func FileDate(name string) (domain.Millis, error) {
	m := fileDate.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, fmt.Errorf("%w: file name %q carries no date", ErrInvalidDate, name)
	}
	t, err := time.Parse("2006-01-02", m[1]+"-"+m[2]+"-"+m[3])
	if err != nil {
		return 0, fmt.Errorf("%w: file name %q: %v", ErrInvalidDate, name, err)
	}
	return domain.MillisOf(t), nil
}

// FileName is the export file name for an observation.
func FileName(at domain.Millis) string {
	return at.Time().Format("2006-01-02") + ".json"
}

// ReadDir lists the dated .json files in dir, oldest first.
func ReadDir(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}
	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		at, err := FileDate(entry.Name())
		if err != nil {
			return nil, err
		}
		files = append(files, File{Path: filepath.Join(dir, entry.Name()), ObservedAt: at})
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].ObservedAt < files[j].ObservedAt })
	return files, nil
}

// Decode reads a JSON array of deliverable documents.
func Decode(r io.Reader) ([]Deliverable, error) {
	var docs []Deliverable
	dec := json.NewDecoder(io.LimitReader(r, MaxFileSize+1))
	if err := dec.Decode(&docs); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return docs, nil
}

// DecodeFile reads a snapshot file.
func DecodeFile(path string) ([]Deliverable, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("snapshot %s exceeds %d bytes", path, MaxFileSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// WriteFile writes documents to path as indented JSON.
func WriteFile(path string, docs []Deliverable) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(docs); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
