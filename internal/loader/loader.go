// Package loader turns a program's text form into the little-endian
// byte-encoded memory image internal/interp executes: one opcode byte
// followed by that opcode's operands, each a 4-byte LE word holding
// either a register index or a signed immediate.
//
// Grounded on biscuit's userland loader in mem/dmap.go for the
// "load the whole file, then walk it" shape, and on KTStephano-GVM's
// assembler front-end for keeping opcode parsing separate from
// operand-token parsing. Opcodes are written as numbers; the loader
// does not use interp.Lookup.
package loader

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/virtos/virtos/internal/interp"
)

// Loader loads a named program source and returns its assembled memory
// image. cmd/virtos depends on this interface, not FileLoader,
// letting tests substitute loadermock.MockLoader.
type Loader interface {
	Load(name string) ([]byte, error)
}

// FileLoader reads program text from the filesystem.
type FileLoader struct{}

// NewFileLoader returns the default, filesystem-backed Loader.
func NewFileLoader() *FileLoader { return &FileLoader{} }

// Load reads path and assembles it.
func (l *FileLoader) Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	return Assemble(string(data))
}

// Assemble compiles program source text into a byte-encoded image.
// Blank lines and anything from a ';' to end of line are ignored.
// Every remaining line is one instruction: an opcode integer followed
// by exactly as many operands as that opcode takes, each either rN (a
// register index) or $k (a signed decimal immediate). Operands may be
// separated by commas as well as whitespace ("2 r6, $16").
func Assemble(source string) ([]byte, error) {
	var image []byte
	for i, raw := range strings.Split(source, "\n") {
		line := raw
		if idx := strings.IndexByte(line, ';'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
		opNum, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("loader: line %d: bad opcode %q", i+1, fields[0])
		}
		op := interp.Op(opNum)
		if int(op) != opNum || !op.Valid() {
			return nil, fmt.Errorf("loader: line %d: unknown opcode %d", i+1, opNum)
		}
		want := op.NumOperands()
		if got := len(fields) - 1; got != want {
			return nil, fmt.Errorf("loader: line %d: opcode %d takes %d operand(s), got %d", i+1, opNum, want, got)
		}

		image = append(image, byte(op))
		for _, tok := range fields[1:] {
			v, err := parseOperand(tok)
			if err != nil {
				return nil, fmt.Errorf("loader: line %d: %w", i+1, err)
			}
			image = binary.LittleEndian.AppendUint32(image, uint32(v))
		}
	}
	return image, nil
}

// parseOperand decodes one rN or $k token into its raw 32-bit encoding.
func parseOperand(tok string) (int32, error) {
	switch {
	case strings.HasPrefix(tok, "r"):
		n, err := strconv.Atoi(tok[1:])
		if err != nil {
			return 0, fmt.Errorf("bad register operand %q", tok)
		}
		return int32(n), nil
	case strings.HasPrefix(tok, "$"):
		n, err := strconv.ParseInt(tok[1:], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("bad immediate operand %q", tok)
		}
		return int32(n), nil
	default:
		return 0, fmt.Errorf("operand %q must start with 'r' or '$'", tok)
	}
}
