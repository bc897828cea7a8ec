// Package keymap generates C++ key code lookup tables from tab-separated
// mapping files.
//
// Each input line holds a key and a value separated by one tab. Keys starting
// with "Shift " go to the shifted table with the prefix removed. Lines that do
// not have exactly two columns are skipped silently.
package keymap

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"naclbuild/internal/logging"
)

const (
	// DefaultKeyType is the key type used when none is given.
	DefaultKeyType = "unsigned short"

	// ResultTypeString hex-escapes each value byte into a string literal.
	ResultTypeString = "const char *"
	// ResultTypeSpecialKey qualifies values with the KeyEvent namespace.
	ResultTypeSpecialKey = "KeyEvent::SpecialKey"

	shiftPrefix      = "Shift "
	shiftSuffix      = "Shift"
	virtualKeyPrefix = "kVK_"
	ansiKeyPrefix    = "kVK_ANSI_"
	specialKeyPrefix = "KeyEvent::"
)

// lineSpace matches the ASCII whitespace trimmed from both ends of a line.
const lineSpace = " \t\n\r\v\f"

// Options parameterize the generated table.
type Options struct {
	MapName    string
	KeyType    string
	ResultType string
}

// Stats summarizes one generation run.
type Stats struct {
	Lines   int // input lines read
	Emitted int // assignments written
	Shifted int // assignments routed to the Shift table
	Skipped int // malformed lines
}

// Generator writes one lookup table.
type Generator struct {
	opts Options
}

// New returns a generator. An empty KeyType becomes DefaultKeyType.
func New(opts Options) *Generator {
	if opts.KeyType == "" {
		opts.KeyType = DefaultKeyType
	}
	return &Generator{opts: opts}
}

// Options returns the effective options.
func (g *Generator) Options() Options {
	return g.opts
}

// Line converts one input line into an assignment statement. ok is false
// for lines that do not split into exactly two tab-separated columns.
func (g *Generator) Line(line []byte) (stmt string, shifted bool, ok bool) {
	columns := bytes.Split(bytes.Trim(line, lineSpace), []byte("\t"))
	if len(columns) != 2 {
		return "", false, false
	}
	key, value := string(columns[0]), columns[1]

	mapName := g.opts.MapName
	if strings.HasPrefix(key, shiftPrefix) {
		mapName += shiftSuffix
		key = strings.TrimPrefix(key, shiftPrefix)
		shifted = true
	}

	if g.opts.KeyType == DefaultKeyType && !strings.HasPrefix(key, virtualKeyPrefix) {
		key = ansiKeyPrefix + key
	}

	return fmt.Sprintf("  (*k%s)[%s] = %s;", mapName, key, g.formatValue(value)), shifted, true
}

func (g *Generator) formatValue(value []byte) string {
	switch g.opts.ResultType {
	case ResultTypeString:
		var b strings.Builder
		b.WriteByte('"')
		for _, c := range value {
			fmt.Fprintf(&b, `\x%x`, c)
		}
		b.WriteByte('"')
		return b.String()
	case ResultTypeSpecialKey:
		return specialKeyPrefix + string(value)
	default:
		return string(value)
	}
}

var headerTemplate = template.Must(template.New("header").Parse(
	`// This file is automatically generated by
// generate_mapping.
// Do not edit directly and do not include this from any file other
// than KeyCodeMap.mm

namespace {
static std::map<{{.KeyType}}, {{.ResultType}}> *k{{.MapName}} = nullptr;
static std::map<{{.KeyType}}, {{.ResultType}}> *k{{.MapName}}Shift = nullptr;
static once_t kOnceFor{{.MapName}} = MOZC_ONCE_INIT;
void Init{{.MapName}}() {
  if (k{{.MapName}} != nullptr || k{{.MapName}}Shift != nullptr) {
    return;
  }
  k{{.MapName}} = new(std::nothrow)std::map<{{.KeyType}}, {{.ResultType}}>;
  if (k{{.MapName}} == nullptr) {
    return;
  }
  k{{.MapName}}Shift = new(std::nothrow)std::map<{{.KeyType}}, {{.ResultType}}>;
  if (k{{.MapName}}Shift == nullptr) {
    delete k{{.MapName}};
    k{{.MapName}} = nullptr;
    return;
  }

`))

// footer ends with a blank line like the header.
const footer = `}
}  // namespace

`

// WriteHeader writes the map declarations and the opening of the Init function.
func (g *Generator) WriteHeader(w io.Writer) error {
	return headerTemplate.Execute(w, g.opts)
}

// WriteFooter closes the Init function and the anonymous namespace.
func (g *Generator) WriteFooter(w io.Writer) error {
	_, err := io.WriteString(w, footer)
	return err
}

// Generate writes the header, one assignment per valid line of r, and the
// footer.
func (g *Generator) Generate(r io.Reader, w io.Writer) (Stats, error) {
	var stats Stats
	bw := bufio.NewWriter(w)

	if err := g.WriteHeader(bw); err != nil {
		return stats, fmt.Errorf("failed to write header: %w", err)
	}

	br := bufio.NewReader(r)
	for {
		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 {
			stats.Lines++
			stmt, shifted, ok := g.Line(line)
			if !ok {
				stats.Skipped++
			} else {
				stats.Emitted++
				if shifted {
					stats.Shifted++
				}
				if _, err := fmt.Fprintln(bw, stmt); err != nil {
					return stats, err
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return stats, fmt.Errorf("failed to read mapping: %w", readErr)
		}
	}

	if err := g.WriteFooter(bw); err != nil {
		return stats, fmt.Errorf("failed to write footer: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return stats, err
	}

	logging.KeymapDebug("Generated k%s: %d lines, %d emitted (%d shifted), %d skipped",
		g.opts.MapName, stats.Lines, stats.Emitted, stats.Shifted, stats.Skipped)
	return stats, nil
}

// GenerateFile generates from the mapping file at path.
func (g *Generator) GenerateFile(path string, w io.Writer) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open mapping: %w", err)
	}
	defer f.Close()
	return g.Generate(f, w)
}

// WriteFile generates from inputPath into outputPath. The output is written
// to a sibling temp file and renamed into place, so readers never observe a
// partial table.
func (g *Generator) WriteFile(inputPath, outputPath string) (Stats, error) {
	dir := filepath.Dir(outputPath)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(outputPath)+".*")
	if err != nil {
		return Stats{}, fmt.Errorf("failed to create output: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	stats, err := g.GenerateFile(inputPath, tmp)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return stats, err
	}

	if err := os.Chmod(tmpName, 0644); err != nil {
		return stats, fmt.Errorf("failed to write output: %w", err)
	}
	if err := os.Rename(tmpName, outputPath); err != nil {
		return stats, fmt.Errorf("failed to write output: %w", err)
	}
	return stats, nil
}
