package apt

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/BadgerOps/liveinstall/internal/safety"
)

// maxIndexSize bounds a decompressed Packages or status file.
const maxIndexSize int64 = 512 * 1024 * 1024

// Stanza is one paragraph of a Debian control file. Keys keep their
// original case; continuation lines are joined with newlines.
type Stanza map[string]string

// ParseControl splits a control file into stanzas.
func ParseControl(r io.Reader) ([]Stanza, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var (
		out     []Stanza
		cur     Stanza
		lastKey string
		lineNo  int
	)
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			if cur != nil {
				out = append(out, cur)
				cur = nil
			}
			lastKey = ""
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if lastKey == "" {
				return nil, fmt.Errorf("line %d: continuation without a field", lineNo)
			}
			cur[lastKey] += "\n" + strings.TrimSpace(line)
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: malformed field %q", lineNo, line)
		}
		if cur == nil {
			cur = make(Stanza)
		}
		lastKey = strings.TrimSpace(key)
		cur[lastKey] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading control data: %w", err)
	}
	if cur != nil {
		out = append(out, cur)
	}
	return out, nil
}

// ParseRelations turns a Depends-style field into alternatives groups,
// dropping version constraints, architecture qualifiers and restrictions.
func ParseRelations(field string) [][]string {
	var groups [][]string
	for _, part := range strings.Split(field, ",") {
		var group []string
		for _, alt := range strings.Split(part, "|") {
			if name := relationName(alt); name != "" {
				group = append(group, name)
			}
		}
		if len(group) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}

// ParseNames flattens a relation field, for Conflicts and Provides.
func ParseNames(field string) []string {
	var out []string
	for _, g := range ParseRelations(field) {
		out = append(out, g...)
	}
	return out
}

func relationName(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " (<[\t"); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return s
}

// Decompress detects gzip, xz and zstd data by magic number. Anything else
// is returned unchanged.
func Decompress(data []byte) ([]byte, error) {
	var (
		r    io.Reader
		kind string
	)
	switch {
	case bytes.HasPrefix(data, []byte{0x28, 0xb5, 0x2f, 0xfd}):
		kind = "zstd"
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	case bytes.HasPrefix(data, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		kind = "xz"
		xr, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		r = xr
	case bytes.HasPrefix(data, []byte{0x1f, 0x8b}):
		kind = "gzip"
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gr.Close()
		r = gr
	default:
		return data, nil
	}

	out, err := safety.ReadAllWithLimit(r, maxIndexSize)
	if err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			return nil, fmt.Errorf("%s index larger than %d bytes: %w", kind, maxIndexSize, err)
		}
		return nil, fmt.Errorf("decompressing %s: %w", kind, err)
	}
	return out, nil
}
