package existence

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"naclbuild/internal/codegen"
	"naclbuild/internal/logging"
)

// DefaultErrorRate is the false positive rate used when none is given.
const DefaultErrorRate = 0.00001

// VarName is the C++ symbol stem of the embedded filter image.
const VarName = "ExistenceFilter"

// ErrNoNamespace is returned when a header is requested without a namespace.
var ErrNoNamespace = errors.New("namespace is not set")

// Build sizes a filter for entries at errorRate and inserts every entry.
func Build(entries []string, errorRate float64) (*Filter, error) {
	if errorRate <= 0 || errorRate >= 1 {
		return nil, fmt.Errorf("error rate must be in (0, 1), got %v", errorRate)
	}
	size := MinFilterSizeInBytesForErrorRate(errorRate, len(entries))
	f, err := CreateOptimal(size, len(entries))
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		f.Insert(Fingerprint(e))
	}
	logging.ExistenceDebug("Built filter: entries=%d bytes=%d hashes=%d", len(entries), size, f.Hashes())
	return f, nil
}

// ReadEntries returns the non-empty lines of r with line endings removed.
func ReadEntries(r io.Reader) ([]string, error) {
	var entries []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}
	return entries, nil
}

// OutputExistenceHeader writes a C++ header embedding the filter built
// from entries inside namespace ns.
func OutputExistenceHeader(entries []string, ns string, w io.Writer, errorRate float64) error {
	if ns == "" {
		return ErrNoNamespace
	}
	f, err := Build(entries, errorRate)
	if err != nil {
		return err
	}
	image, err := f.MarshalBinary()
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "// This header file is generated by gen_existence_data.\nnamespace %s{\n", ns); err != nil {
		return err
	}
	stream := codegen.NewByteArrayWriter(w)
	if err := stream.OpenVarDef(VarName); err != nil {
		return err
	}
	if _, err := stream.Write(image); err != nil {
		return err
	}
	if err := stream.CloseVarDef(); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "}  // namespace %s\n", ns); err != nil {
		return err
	}
	logging.Existence("Wrote header: namespace=%s entries=%d image=%d bytes", ns, len(entries), len(image))
	return nil
}

// OutputExistenceBinary writes the raw filter image built from entries.
func OutputExistenceBinary(entries []string, w io.Writer, errorRate float64) error {
	f, err := Build(entries, errorRate)
	if err != nil {
		return err
	}
	image, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(image); err != nil {
		return err
	}
	logging.Existence("Wrote binary image: entries=%d image=%d bytes", len(entries), len(image))
	return nil
}

// Options selects what GenerateFile produces.
type Options struct {
	Input     string
	Output    string
	Namespace string
	ErrorRate float64
	Binary    bool
}

// GenerateFile reads entries from opts.Input and writes the header or
// binary image to opts.Output. Options are validated before anything is
// written, and the output is renamed into place only when complete.
func GenerateFile(opts Options) error {
	if opts.ErrorRate == 0 {
		opts.ErrorRate = DefaultErrorRate
	}
	if err := opts.validate(); err != nil {
		return err
	}

	in, err := os.Open(opts.Input)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	entries, err := ReadEntries(in)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if opts.Binary {
		err = OutputExistenceBinary(entries, &buf, opts.ErrorRate)
	} else {
		err = OutputExistenceHeader(entries, opts.Namespace, &buf, opts.ErrorRate)
	}
	if err != nil {
		return err
	}
	return writeFileAtomic(opts.Output, buf.Bytes())
}

func (o Options) validate() error {
	switch {
	case o.Input == "":
		return errors.New("input is not set")
	case o.Output == "":
		return errors.New("output is not set")
	case !o.Binary && o.Namespace == "":
		return ErrNoNamespace
	case o.ErrorRate <= 0 || o.ErrorRate >= 1:
		return fmt.Errorf("error rate must be in (0, 1), got %v", o.ErrorRate)
	}
	return nil
}

// writeFileAtomic writes data to a sibling temp file and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
