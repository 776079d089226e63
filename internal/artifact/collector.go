// Package artifact reads the toolchain's produced files out of a workspace.
//
// Collection policy, applied in this order to every entry under an output root:
//
//   - a root that does not exist is skipped silently
//   - non-regular files (symlinks, devices, sockets) are skipped
//   - files larger than MaxFileBytes are skipped
//   - files that would push the set past MaxTotalBytes are skipped
//   - valid UTF-8 is included verbatim
//   - well-formed UTF-16 with a byte order mark is decoded to UTF-8 and included
//   - anything else is treated as binary and skipped
//
// Every skip is logged and recorded in Set.Skipped.
package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"templerunner/internal/logger"

	"golang.org/x/text/encoding/unicode"
)

const (
	DefaultMaxFileBytes  = 8 << 20
	DefaultMaxTotalBytes = 32 << 20
)

// Skip reasons.
const (
	ReasonNotRegular = "not a regular file"
	ReasonTooLarge   = "exceeds per-file size limit"
	ReasonBudget     = "exceeds total artifact budget"
	ReasonBinary     = "not valid text"
	ReasonNotDir     = "output root is not a directory"
	ReasonUnreadable = "unreadable"
)

// Skipped describes a file left out of the set.
type Skipped struct {
	Path   string
	Reason string
}

// Set maps "<root>/<relative path>" to file content.
type Set struct {
	Files   map[string]string
	Skipped []Skipped
}

// Len returns the number of collected files.
func (s Set) Len() int {
	return len(s.Files)
}

// Config holds collector limits. Zero values use the defaults.
type Config struct {
	MaxFileBytes  int64
	MaxTotalBytes int64
}

// Collector walks output roots inside a workspace.
type Collector struct {
	config Config
	logger *slog.Logger
}

// NewCollector creates a Collector.
func NewCollector(cfg Config, log *slog.Logger) *Collector {
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	if cfg.MaxTotalBytes <= 0 {
		cfg.MaxTotalBytes = DefaultMaxTotalBytes
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Collector{config: cfg, logger: log}
}

// Collect reads every file under each root (relative to dir) recursively.
// filepath.WalkDir visits entries in lexical order, so the set and its skip
// list are deterministic for a given tree.
func (c *Collector) Collect(dir string, roots []string) (Set, error) {
	set := Set{Files: make(map[string]string)}
	var total int64

	for _, root := range roots {
		rootPath := filepath.Join(dir, filepath.FromSlash(root))
		info, err := os.Lstat(rootPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return set, fmt.Errorf("stat output root %q: %w", root, err)
		}
		if !info.IsDir() {
			c.skip(&set, root, ReasonNotDir)
			continue
		}

		err = filepath.WalkDir(rootPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}

			rel, err := filepath.Rel(rootPath, p)
			if err != nil {
				return err
			}
			key := path.Join(filepath.ToSlash(root), filepath.ToSlash(rel))

			if !d.Type().IsRegular() {
				c.skip(&set, key, ReasonNotRegular)
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				c.skip(&set, key, ReasonUnreadable)
				return nil
			}
			if fi.Size() > c.config.MaxFileBytes {
				c.skip(&set, key, ReasonTooLarge)
				return nil
			}
			if total+fi.Size() > c.config.MaxTotalBytes {
				c.skip(&set, key, ReasonBudget)
				return nil
			}

			raw, err := os.ReadFile(p)
			if err != nil {
				c.skip(&set, key, ReasonUnreadable)
				return nil
			}
			text, ok := decodeText(raw)
			if !ok {
				c.skip(&set, key, ReasonBinary)
				return nil
			}

			set.Files[key] = text
			total += fi.Size()
			return nil
		})
		if err != nil {
			return set, fmt.Errorf("walk output root %q: %w", root, err)
		}
	}

	return set, nil
}

func (c *Collector) skip(set *Set, key, reason string) {
	set.Skipped = append(set.Skipped, Skipped{Path: key, Reason: reason})
	c.logger.Warn("artifact skipped", "path", key, "reason", reason)
}

var (
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// decodeText returns the content as UTF-8 text, or false if it is not text.
func decodeText(raw []byte) (string, bool) {
	if utf8.Valid(raw) {
		return string(raw), true
	}
	if !bytes.HasPrefix(raw, bomUTF16LE) && !bytes.HasPrefix(raw, bomUTF16BE) {
		return "", false
	}
	if len(raw)%2 != 0 {
		return "", false
	}
	dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
	out, err := dec.Bytes(raw)
	if err != nil || !utf8.Valid(out) {
		return "", false
	}
	// The decoder substitutes U+FFFD for unpaired surrogates instead of failing.
	if strings.Count(string(out), string(utf8.RuneError)) != countReplacementUnits(raw) {
		return "", false
	}
	return string(out), true
}

// countReplacementUnits counts literal U+FFFD code units after the byte order mark.
func countReplacementUnits(raw []byte) int {
	bigEndian := bytes.HasPrefix(raw, bomUTF16BE)
	n := 0
	for i := 2; i+1 < len(raw); i += 2 {
		unit := uint16(raw[i]) | uint16(raw[i+1])<<8
		if bigEndian {
			unit = uint16(raw[i])<<8 | uint16(raw[i+1])
		}
		if unit == utf8.RuneError {
			n++
		}
	}
	return n
}
