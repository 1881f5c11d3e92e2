package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shii9/PassiveNio/internal/core"
)

const timestampLayout = "20060102T150405Z"

// Writer persists reports as <target>-<UTC timestamp>.<format>.
type Writer struct {
	OutDir  string
	Formats []string
	// Now defaults to the report's finish time.
	Now func() time.Time
}

// Write stores r in every configured format and returns the written paths.
// Existing files are never overwritten; a "-N" suffix is added instead.
// Any failure is returned as a persistence error.
func (w Writer) Write(r *Report) ([]string, error) {
	formats := w.Formats
	if len(formats) == 0 {
		formats = []string{"json"}
	}

	contents := make(map[string][]byte, len(formats))
	for _, f := range formats {
		data, err := render(r, f)
		if err != nil {
			return nil, core.PersistenceError("render "+f, err)
		}
		contents[f] = data
	}

	dir := w.OutDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, core.PersistenceError("create output dir", err)
	}

	ts := r.FinishedAt()
	if w.Now != nil {
		ts = w.Now()
	}
	base := fmt.Sprintf("%s-%s", safeName(r.Target().Domain), ts.UTC().Format(timestampLayout))

	paths, err := reserve(dir, base, formats)
	if err != nil {
		return nil, core.PersistenceError("reserve report file", err)
	}
	for i, f := range formats {
		if err := writeAtomic(paths[i], contents[f]); err != nil {
			for _, p := range paths[i:] {
				os.Remove(p)
			}
			return paths[:i], core.PersistenceError("write "+paths[i], err)
		}
	}
	return paths, nil
}

func render(r *Report, format string) ([]byte, error) {
	switch format {
	case "json":
		return json.MarshalIndent(r, "", "  ")
	case "txt":
		return []byte(r.Text()), nil
	default:
		return nil, fmt.Errorf("invalid format: %s", format)
	}
}

// reserve creates empty placeholder files for every format with O_EXCL so
// concurrent runs never pick the same name.
func reserve(dir, base string, formats []string) ([]string, error) {
	for n := 0; n < 1000; n++ {
		name := base
		if n > 0 {
			name = fmt.Sprintf("%s-%d", base, n)
		}
		var created []string
		collision := false
		for _, f := range formats {
			p := filepath.Join(dir, name+"."+f)
			fh, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
			if errors.Is(err, fs.ErrExist) {
				collision = true
				break
			}
			if err != nil {
				removeAll(created)
				return nil, err
			}
			fh.Close()
			created = append(created, p)
		}
		if !collision {
			return created, nil
		}
		removeAll(created)
	}
	return nil, fmt.Errorf("no free file name for %s", base)
}

func removeAll(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

// writeAtomic writes through a synced temp file renamed over path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func safeName(domain string) string {
	if domain == "" {
		return "report"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, strings.ToLower(domain))
}
