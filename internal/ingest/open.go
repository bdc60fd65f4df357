package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sandahltim/RFID3-sub003/internal/config"
	"github.com/sandahltim/RFID3-sub003/internal/parser/csv"
	"github.com/sandahltim/RFID3-sub003/internal/parser/htmltable"
	jsonparser "github.com/sandahltim/RFID3-sub003/internal/parser/json"
	"github.com/sandahltim/RFID3-sub003/internal/parser/xlsx"
	"github.com/sandahltim/RFID3-sub003/internal/transformer"
)

// rowSource is the reader seam every format package satisfies. Open reads
// the header eagerly (needed for the schema check before any row is
// staged); Stream is called at most once.
type rowSource interface {
	Header() []string
	Stream(ctx context.Context, out chan<- *transformer.Row, onErr func(line int, err error)) error
}

// bufferedFile keeps Close reachable after the reader is wrapped for
// sniffing.
type bufferedFile struct {
	*bufio.Reader
	f *os.File
}

func (b *bufferedFile) Close() error { return b.f.Close() }

// openSource selects a format reader for path.
//
// Selection rules:
//   - explicit "format" option wins ("csv" | "xlsx" | "html" | "json")
//   - .xlsx -> workbook reader
//   - .json -> json reader
//   - .xls / .htm / .html -> content sniff; HTML-table exports masquerade
//     as .xls, real binary .xls is rejected with a pointed error
//   - .tsv defaults the delimiter to tab
//   - everything else -> delimited reader
func openSource(path string, opt config.Options) (rowSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}

	src := &bufferedFile{Reader: bufio.NewReaderSize(f, 64<<10), f: f}
	ext := strings.ToLower(filepath.Ext(path))

	format := opt.String("format", "")
	if format == "" {
		switch ext {
		case ".xlsx":
			format = "xlsx"
		case ".json":
			format = "json"
		case ".xls", ".htm", ".html":
			prefix, _ := src.Peek(512)
			if htmltable.Sniff(prefix) {
				format = "html"
			} else if ext == ".xls" {
				_ = src.Close()
				return nil, fmt.Errorf("%s: binary .xls is not supported; re-export as .xlsx or CSV", path)
			} else {
				format = "html"
			}
		case ".tsv":
			format = "csv"
			if _, set := opt["comma"]; !set {
				opt = withOption(opt, "comma", "\t")
			}
		default:
			format = "csv"
		}
	}

	switch format {
	case "xlsx":
		return xlsx.Open(src, opt)
	case "html":
		return htmltable.Open(src, opt)
	case "json":
		return jsonparser.Open(src, opt)
	case "csv":
		return csv.Open(src, opt)
	default:
		_ = src.Close()
		return nil, fmt.Errorf("unknown source format %q", format)
	}
}

// withOption copies the bag before adding a derived setting; the caller's
// config value stays untouched.
func withOption(opt config.Options, key, val string) config.Options {
	out := make(config.Options, len(opt)+1)
	for k, v := range opt {
		out[k] = v
	}
	out[key] = val
	return out
}

var _ io.ReadCloser = (*bufferedFile)(nil)
