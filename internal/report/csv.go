// =============================================================================
// BI Recon Engine - CSV Artifacts
// =============================================================================
//
// Cleaned sales and order-entry artifacts are CSV encoded as UTF-8 with a
// BOM, because the finance team opens them directly in Excel and a BOM-less
// file mangles non-ASCII entity names there. Reads tolerate both BOM and
// BOM-less files so merged outputs can be re-read.
//
// =============================================================================

package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/mkfinops/bi-recon-engine/internal/sheet"
	"github.com/mkfinops/bi-recon-engine/pkg/utils"
)

// utf8BOM is prepended to every CSV artifact.
const utf8BOM = "\xEF\xBB\xBF"

// WriteCSV writes a table to path, diverting to a " (n)" suffixed variant
// when the path is taken. Returns the path actually written.
func WriteCSV(path string, t *sheet.Table) (string, error) {
	path = utils.UniquePath(path)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(utf8BOM); err != nil {
		return "", fmt.Errorf("write BOM: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(t.Headers); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}
	for _, row := range t.Rows {
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush %s: %w", path, err)
	}
	return path, nil
}

// ReadCSV loads a CSV artifact back into a Table, stripping a leading BOM.
// Rows with uneven field counts are padded rather than rejected.
func ReadCSV(path string) (*sheet.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	content := strings.TrimPrefix(string(data), utf8BOM)

	r := csv.NewReader(strings.NewReader(content))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return &sheet.Table{}, nil
	}
	return sheet.NewTable(records[0], records[1:]), nil
}
