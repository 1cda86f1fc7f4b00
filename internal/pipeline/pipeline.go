// =============================================================================
// BI Recon Engine - Pipeline Orchestration
// =============================================================================
//
// Each department pipeline (sales, order entry, period expense, headcount,
// vendor analysis, working capital) walks its input directory, parses the
// pipeline's filename pattern, and processes files independently: one bad
// file is logged and skipped, the batch always continues. Directory and
// rate-table loads are the only fatal failures.
//
// PROCESSING MODEL:
//   - Files are processed concurrently by a bounded worker pool.
//   - Every file yields exactly one Result; the CLI and the HTTP layer
//     summarize the Results without re-inspecting the filesystem.
//   - Validation sheets accumulate per run and are written as one
//     discrepancy workbook at the end.
//
// =============================================================================

package pipeline

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/mkfinops/bi-recon-engine/internal/config"
	"github.com/mkfinops/bi-recon-engine/internal/directory"
	"github.com/mkfinops/bi-recon-engine/internal/rates"
	"github.com/mkfinops/bi-recon-engine/internal/report"
	"github.com/mkfinops/bi-recon-engine/internal/sheet"
	"github.com/mkfinops/bi-recon-engine/internal/types"
)

// Deps bundles the shared collaborators of every pipeline. One Deps value
// is built per run (or per HTTP session); the rate cache inside is never
// shared across sessions.
type Deps struct {
	Cfg   *config.Config
	Dir   *directory.Directory
	Rates *rates.Cache
	Log   *logrus.Logger
}

// NewDeps loads the directory and prepares a per-run rate cache. Load
// failures here are fatal to the run by design.
func NewDeps(cfg *config.Config, log *logrus.Logger) (*Deps, error) {
	dir, err := directory.Load(cfg.DirectoryFile, log)
	if err != nil {
		return nil, err
	}
	return &Deps{
		Cfg:   cfg,
		Dir:   dir,
		Rates: rates.NewCache(cfg.RatesFile, log),
		Log:   log,
	}, nil
}

// =============================================================================
// WORKER POOL
// =============================================================================

// runAll processes files concurrently with at most workers goroutines and
// returns one Result per file, in input order.
func runAll(files []string, workers int, fn func(path string) types.Result) []types.Result {
	if workers < 1 {
		workers = 1
	}
	results := make([]types.Result, len(files))

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, path := range files {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, path string) {
			defer wg.Done()
			defer func() { <-sem }()
			start := time.Now()
			r := fn(path)
			r.Duration = time.Since(start)
			results[i] = r
		}(i, path)
	}
	wg.Wait()
	return results
}

// syncSheets collects validation sheets from concurrent workers.
type syncSheets struct {
	mu     sync.Mutex
	sheets []report.NamedTable
}

func (s *syncSheets) add(sheets []report.NamedTable) {
	if len(sheets) == 0 {
		return
	}
	s.mu.Lock()
	s.sheets = append(s.sheets, sheets...)
	s.mu.Unlock()
}

// skipped builds the Result for a deliberately unprocessed file.
func skipped(path, pipeline, reason string) types.Result {
	return types.Result{InputFile: path, Pipeline: pipeline, Skipped: true, SkipReason: reason}
}

// failed builds the Result for a file that errored.
func failed(path, pipeline string, err error) types.Result {
	return types.Result{InputFile: path, Pipeline: pipeline, Error: err}
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// monthNumber resolves a 3-letter month abbreviation case-insensitively.
func monthNumber(abbr string) (int, bool) {
	for m := time.January; m <= time.December; m++ {
		if strings.EqualFold(m.String()[:3], abbr) {
			return int(m), true
		}
	}
	return 0, false
}

// truthRows reads the truth workbook sheet for a period, falling back to
// "Sheet1" and then to the first sheet, mirroring the older single-sheet
// truth files still in circulation.
func truthRows(path, monthAbbr string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name := monthAbbr
	if !sheet.HasSheet(f, name) {
		if sheet.HasSheet(f, "Sheet1") {
			name = "Sheet1"
		} else {
			name = f.GetSheetName(0)
		}
	}
	return sheet.SheetRows(f, name)
}

// crossRatesOrIdentity resolves the cross rates for an entity's currency
// pair. A ConversionError is flagged and degrades to identity factors, it
// never skips a file. A rate-workbook LoadError is returned unchanged: a
// missing or malformed rate file aborts the whole run.
func (d *Deps) crossRatesOrIdentity(period types.Period, pair types.CurrencyPair, ok bool, context string) (types.RatePair, error) {
	if !ok {
		d.Log.WithField("file", context).Info("No currency mapping for entity, leaving values unconverted")
		return types.Identity(), nil
	}
	if strings.EqualFold(pair.Original, pair.Conversion) {
		return types.Identity(), nil
	}
	rp, err := d.Rates.Cross(period, pair)
	if err != nil {
		if types.IsFatal(err) {
			return types.Identity(), err
		}
		d.Log.WithFields(logrus.Fields{
			"file":   context,
			"source": pair.Original,
			"target": pair.Conversion,
			"error":  err,
		}).Warn("Currency conversion failed, proceeding with 1.0 factors")
		return types.Identity(), nil
	}
	return rp, nil
}
