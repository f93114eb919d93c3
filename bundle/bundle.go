package bundle

import (
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/klauspost/compress/zip"
)

// Entry is one file of the archive.
type Entry struct {
	Folder string
	Name   string
	Data   []byte
}

func (e Entry) Path() string {
	if e.Folder == "" {
		return e.Name
	}
	return path.Join(e.Folder, e.Name)
}

// ArchiveName is the date stamped bundle file name.
func ArchiveName(now time.Time) string {
	return fmt.Sprintf("characters_%s.zip", now.Format(time.DateOnly))
}

// FolderFor returns the first category tag the character carries, spelled the
// way the category list spells it. Empty when nothing matches.
func FolderFor(tags, categories []string) string {
	for _, cat := range categories {
		for _, t := range tags {
			if strings.EqualFold(strings.TrimSpace(t), strings.TrimSpace(cat)) {
				return SafeName(cat)
			}
		}
	}
	return ""
}

// SafeName strips characters that are not portable in archive paths.
func SafeName(s string) string {
	var sb strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r), unicode.IsControl(r):
			sb.WriteRune('_')
		default:
			sb.WriteRune(r)
		}
	}
	name := strings.Trim(sb.String(), ". ")
	if name == "" {
		return "unnamed"
	}
	return name
}

// Names hands out unique file names per folder.
type Names struct {
	seen map[string]int
}

func NewNames() *Names {
	return &Names{seen: map[string]int{}}
}

// Unique returns base+ext, or base_N+ext when that path was already taken.
func (n *Names) Unique(folder, base, ext string) string {
	base = SafeName(base)
	name := base + ext
	for {
		key := strings.ToLower(path.Join(folder, name))
		count := n.seen[key]
		n.seen[key] = count + 1
		if count == 0 {
			return name
		}
		name = fmt.Sprintf("%s_%d%s", base, count+1, ext)
	}
}

// Write streams entries into a zip archive in the given order.
func Write(w io.Writer, entries []Entry, modified time.Time) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.Path(),
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return fmt.Errorf("bundle %s: %w", e.Path(), err)
		}
		if _, err := fw.Write(e.Data); err != nil {
			return fmt.Errorf("bundle %s: %w", e.Path(), err)
		}
	}
	return zw.Close()
}
