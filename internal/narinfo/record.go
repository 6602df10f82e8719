package narinfo

import (
	"fmt"
	"strconv"
	"strings"
)

// Record materializes the well-known narinfo fields (spec.md §3) after
// parsing. Extra retains any keys this server doesn't recognize, preserving
// insertion order per key, for forward compatibility (spec.md §4.3).
type Record struct {
	StorePath   string
	URL         string
	Compression string
	NarHash     string
	NarSize     int64
	References  []string
	Deriver     string
	Sig         []string
	Extra       map[string][]string
}

// DefaultCompression is substituted when a narinfo omits the Compression
// key (spec.md §3).
const DefaultCompression = "none"

// CompressionOrDefault returns r.Compression, defaulting to "none" when
// empty, per spec.md §4.5 step 4.
func (r *Record) CompressionOrDefault() string {
	if r.Compression == "" {
		return DefaultCompression
	}
	return r.Compression
}

var knownKeys = map[string]bool{
	"StorePath":   true,
	"URL":         true,
	"Compression": true,
	"NarHash":     true,
	"NarSize":     true,
	"References":  true,
	"Deriver":     true,
	"Sig":         true,
}

// Parse decodes a narinfo byte string per spec.md §4.3: each non-blank line
// must match `^(\w+):\s*(.*)$`; lines that don't are silently ignored, and a
// key repeated across lines collapses into an order-preserving list (this
// matters for Sig).
func Parse(data []byte) (*Record, error) {
	rec := &Record{Extra: make(map[string][]string)}

	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := splitLine(line)
		if !ok {
			continue
		}

		switch key {
		case "StorePath":
			rec.StorePath = value
		case "URL":
			rec.URL = value
		case "Compression":
			rec.Compression = value
		case "NarHash":
			rec.NarHash = value
		case "NarSize":
			size, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("narinfo: invalid NarSize %q: %w", value, err)
			}
			rec.NarSize = size
		case "References":
			if value != "" {
				rec.References = strings.Fields(value)
			} else {
				rec.References = nil
			}
		case "Deriver":
			rec.Deriver = value
		case "Sig":
			rec.Sig = append(rec.Sig, value)
		default:
			rec.Extra[key] = append(rec.Extra[key], value)
		}
	}

	return rec, nil
}

// splitLine matches `^(\w+):\s*(.*)$` against a single line without
// compiling a regexp per call.
func splitLine(line string) (key, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	key = line[:idx]
	if key == "" || !isWordString(key) {
		return "", "", false
	}
	value = strings.TrimLeft(line[idx+1:], " \t")
	return key, value, true
}

func isWordString(s string) bool {
	for _, r := range s {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// Emit produces the line-oriented narinfo text, in the field order spec.md
// §4.3 mandates: StorePath, URL, Compression, NarHash, NarSize, References
// (omitted when empty), Deriver (omitted when absent), then zero or more
// Sig lines. Every line ends with a newline; there is no trailing blank
// line.
func (r *Record) Emit() []byte {
	var b strings.Builder

	writeLine(&b, "StorePath", r.StorePath)
	writeLine(&b, "URL", r.URL)
	writeLine(&b, "Compression", r.CompressionOrDefault())
	writeLine(&b, "NarHash", r.NarHash)
	writeLine(&b, "NarSize", strconv.FormatInt(r.NarSize, 10))
	if len(r.References) > 0 {
		writeLine(&b, "References", strings.Join(r.References, " "))
	}
	if r.Deriver != "" {
		writeLine(&b, "Deriver", r.Deriver)
	}
	for _, sig := range r.Sig {
		writeLine(&b, "Sig", sig)
	}

	return []byte(b.String())
}

func writeLine(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteByte('\n')
}
