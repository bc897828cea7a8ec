// Package codegen writes binary blobs as C++ source that defines them as
// byte arrays.
package codegen

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// bytesPerLine is the number of escaped bytes per string literal line.
const bytesPerLine = 20

var errNotOpen = errors.New("no variable definition is open")

// ByteArrayWriter emits
//
//	alignas(8) const char k<Name>_data[] =
//	"\x.."
//	;
//	const size_t k<Name>_size = <N>;
//
// for the bytes written between OpenVarDef and CloseVarDef.
type ByteArrayWriter struct {
	w       *bufio.Writer
	name    string
	open    bool
	size    int
	lineLen int
}

// NewByteArrayWriter wraps w.
func NewByteArrayWriter(w io.Writer) *ByteArrayWriter {
	return &ByteArrayWriter{w: bufio.NewWriter(w)}
}

// OpenVarDef starts a definition named k<name>_data.
func (b *ByteArrayWriter) OpenVarDef(name string) error {
	if b.open {
		return fmt.Errorf("variable %s is still open", b.name)
	}
	b.name, b.open, b.size, b.lineLen = name, true, 0, 0
	_, err := fmt.Fprintf(b.w, "alignas(8) const char k%s_data[] =\n", name)
	return err
}

// Write appends bytes to the open definition.
func (b *ByteArrayWriter) Write(p []byte) (int, error) {
	if !b.open {
		return 0, errNotOpen
	}
	for i, c := range p {
		if b.lineLen == 0 {
			if err := b.w.WriteByte('"'); err != nil {
				return i, err
			}
		}
		if _, err := fmt.Fprintf(b.w, `\x%02x`, c); err != nil {
			return i, err
		}
		b.size++
		b.lineLen++
		if b.lineLen == bytesPerLine {
			if _, err := b.w.WriteString("\"\n"); err != nil {
				return i + 1, err
			}
			b.lineLen = 0
		}
	}
	return len(p), nil
}

// CloseVarDef terminates the definition and writes its size constant.
func (b *ByteArrayWriter) CloseVarDef() error {
	if !b.open {
		return errNotOpen
	}
	if b.lineLen > 0 {
		if _, err := b.w.WriteString("\"\n"); err != nil {
			return err
		}
	} else if b.size == 0 {
		if _, err := b.w.WriteString("\"\"\n"); err != nil {
			return err
		}
	}
	b.open = false
	if _, err := fmt.Fprintf(b.w, ";\nconst size_t k%s_size = %d;\n", b.name, b.size); err != nil {
		return err
	}
	return b.w.Flush()
}
