// =============================================================================
// BI Recon Engine - Duplicate Artifact Removal
// =============================================================================
//
// Re-running a pipeline over the same upload produces byte-different but
// content-identical artifacts (collision-suffixed names, nondeterministic
// row order). Deduplication hashes a canonical form of each artifact's
// content: columns sorted by name, rows sorted by value, sheets in name
// order. The first file seen with a given content hash stays; later ones
// are deleted. Only exact content matches are removed, near-duplicates are
// never touched.
//
// =============================================================================

package merge

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mkfinops/bi-recon-engine/internal/report"
	"github.com/mkfinops/bi-recon-engine/internal/sheet"
	"github.com/mkfinops/bi-recon-engine/pkg/utils"
)

// RemoveDuplicates deletes artifacts whose canonical content matches an
// earlier file in the list, returning the survivors in input order.
func (m *Merger) RemoveDuplicates(outputDir string, files []string) []string {
	seen := make(map[string]string)
	var keep []string

	for _, name := range files {
		path := filepath.Join(outputDir, name)
		if !utils.FileExists(path) {
			continue
		}
		hash := contentHash(path)
		if original, dup := seen[hash]; dup {
			m.Log.WithFields(map[string]interface{}{
				"duplicate": name,
				"original":  original,
			}).Info("Removing content-identical artifact")
			if err := os.Remove(path); err != nil {
				m.Log.WithError(err).WithField("file", name).Warn("Could not remove duplicate artifact")
			}
			continue
		}
		seen[hash] = name
		keep = append(keep, name)
	}
	return keep
}

// contentHash returns the md5 of an artifact's canonical content. Files
// that cannot be read, or are neither CSV nor XLSX, hash to their own path
// so they are never treated as duplicates of anything.
func contentHash(path string) string {
	var canonical string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		t, err := report.ReadCSV(path)
		if err != nil {
			return path
		}
		canonical = canonicalTable(t)
	case ".xlsx":
		s, err := canonicalWorkbook(path)
		if err != nil {
			return path
		}
		canonical = s
	default:
		return path
	}
	sum := md5.Sum([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// canonicalTable renders a table with columns sorted by header name and
// rows sorted by value, so column order and row order never distinguish
// equal content.
func canonicalTable(t *sheet.Table) string {
	order := make([]int, len(t.Headers))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return t.Headers[order[i]] < t.Headers[order[j]]
	})

	lines := make([]string, 0, t.Len()+1)
	var header []string
	for _, c := range order {
		header = append(header, t.Headers[c])
	}
	lines = append(lines, strings.Join(header, "\x1f"))

	rows := make([]string, 0, t.Len())
	for _, row := range t.Rows {
		cells := make([]string, 0, len(order))
		for _, c := range order {
			cell := ""
			if c < len(row) {
				cell = row[c]
			}
			cells = append(cells, cell)
		}
		rows = append(rows, strings.Join(cells, "\x1f"))
	}
	sort.Strings(rows)
	return strings.Join(append(lines, rows...), "\n")
}

// canonicalWorkbook concatenates the canonical form of every sheet in
// sheet-name order.
func canonicalWorkbook(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	names := append([]string(nil), f.GetSheetList()...)
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		rows, err := sheet.SheetRows(f, name)
		if err != nil {
			return "", err
		}
		t := sheet.FromRows(rows)
		if t.Len() > 0 {
			if err := t.PromoteHeaderRow(); err != nil {
				return "", err
			}
		}
		fmt.Fprintf(&b, "---%s---\n%s\n", name, canonicalTable(t))
	}
	return b.String(), nil
}
