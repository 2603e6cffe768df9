// Package csvout writes extraction results as CSV files, optionally in an
// Excel-friendly dialect (";" separator, UTF-8 BOM, ="value" cells) that
// keeps leading zeros and accents intact when opened directly.
package csvout

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mc2/mc2/internal/platform/record"
)

// Options control the output dialect.
type Options struct {
	ExcelFriendly bool
	RemoveHTML    bool
}

// File is one CSV file to produce. When Concatenate is set no header row is
// written, so the rows can be appended to an earlier file.
type File struct {
	Prefix      string
	Rows        []*record.Record
	Concatenate bool
}

// Writer renders record rows to timestamped CSV files in a fixed directory.
type Writer struct {
	dir  string
	opts Options
	log  zerolog.Logger
}

func NewWriter(dir string, opts Options, log zerolog.Logger) *Writer {
	return &Writer{dir: dir, opts: opts, log: log}
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Save writes the file and returns its name (not its full path).
func (w *Writer) Save(f File) (string, error) {
	name := fileName(f.Prefix, w.opts.ExcelFriendly, time.Now())
	path := filepath.Join(w.dir, name)

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer out.Close()

	if w.opts.ExcelFriendly {
		if _, err := out.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
			return "", fmt.Errorf("write BOM: %w", err)
		}
	}

	cw := csv.NewWriter(out)
	if w.opts.ExcelFriendly {
		cw.Comma = ';'
	}

	if len(f.Rows) > 0 {
		if !f.Concatenate {
			keys := f.Rows[0].Keys()
			header := make([]string, len(keys))
			for i, k := range keys {
				header[i] = w.cell(strings.ToLower(k))
			}
			if err := cw.Write(header); err != nil {
				return "", fmt.Errorf("write header: %w", err)
			}
		}
		columns := f.Rows[0].Keys()
		for _, row := range f.Rows {
			line := make([]string, len(columns))
			for i, k := range columns {
				line[i] = w.cell(w.clean(row.Value(k)))
			}
			if err := cw.Write(line); err != nil {
				return "", fmt.Errorf("write row: %w", err)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("flush %s: %w", path, err)
	}

	w.log.Debug().Str("file", name).Int("rows", len(f.Rows)).Msg("csv file written")
	return name, nil
}

func (w *Writer) clean(v string) string {
	v = strings.NewReplacer("\r\n", " ", "\r", " ").Replace(v)
	if w.opts.RemoveHTML {
		v = tagPattern.ReplaceAllString(v, "")
	}
	return v
}

func (w *Writer) cell(v string) string {
	if w.opts.ExcelFriendly {
		return `="` + v + `"`
	}
	return v
}

// Encode renders rows as a plain CSV string (comma separator, lowercased
// header), the dialect API uploads expect.
func Encode(rows []*record.Record) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}
	var buf strings.Builder
	cw := csv.NewWriter(&buf)

	columns := rows[0].Keys()
	header := make([]string, len(columns))
	for i, k := range columns {
		header[i] = strings.ToLower(k)
	}
	if err := cw.Write(header); err != nil {
		return "", fmt.Errorf("encode header: %w", err)
	}
	for _, row := range rows {
		line := make([]string, len(columns))
		for i, k := range columns {
			line[i] = row.Value(k)
		}
		if err := cw.Write(line); err != nil {
			return "", fmt.Errorf("encode row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func fileName(prefix string, excelFriendly bool, now time.Time) string {
	suffix := ""
	if excelFriendly {
		suffix = "_e"
	}
	return fmt.Sprintf("%s_v1_%s%s.csv", prefix, now.Format("2006-01-02_150405"), suffix)
}
