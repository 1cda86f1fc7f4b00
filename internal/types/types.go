// =============================================================================
// BI Recon Engine - Shared Types
// =============================================================================
//
// This package contains shared types used across multiple modules to avoid
// import cycles. Types defined here are used by:
//   - directory
//   - rates
//   - pipeline
//   - reconcile
//
// It also defines the error taxonomy for the batch loop:
//   - LoadError:          reference/rate/truth file missing or malformed.
//     Fatal to the whole run, nothing partial is produced.
//   - FormatError:        one subject file does not match its expected shape.
//     That file is skipped, the batch continues.
//   - ConversionError:    currency resolution failed for one file. The file
//     proceeds with 1.0 factors and is flagged in the logs.
//   - ReconWarning:       an entity could not be validated against the truth
//     workbook. Its comparison is omitted from the report.
//
// =============================================================================

package types

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// CURRENCY TYPES
// =============================================================================

// CurrencyPair is an entity's original and conversion currency as declared
// in the company directory workbook.
type CurrencyPair struct {
	Original   string
	Conversion string
}

// RatePair holds a factor for the current period and the matching factor for
// the prior-year period. Cross rates are computed as target/source for each
// period independently.
type RatePair struct {
	Current float64
	Prior   float64
}

// Identity returns the no-op conversion used when rate resolution fails and
// the file proceeds unconverted.
func Identity() RatePair {
	return RatePair{Current: 1.0, Prior: 1.0}
}

// =============================================================================
// ACCOUNTING PERIOD
// =============================================================================

// Period identifies one accounting month.
type Period struct {
	Month int // 1-12
	Year  int // four digits
}

// Abbrev returns the 3-letter month abbreviation ("Sep") used as a sheet
// name in rate and truth workbooks.
func (p Period) Abbrev() string {
	return time.Month(p.Month).String()[:3]
}

// MonthName returns the full month name ("September").
func (p Period) MonthName() string {
	return time.Month(p.Month).String()
}

// Key returns the cache key for this period, e.g. "9-2025".
func (p Period) Key() string {
	return fmt.Sprintf("%d-%d", p.Month, p.Year)
}

// MMYY returns the compact period suffix used in output filenames,
// e.g. "0925" for September 2025.
func (p Period) MMYY() string {
	return fmt.Sprintf("%02d%02d", p.Month, p.Year%100)
}

// =============================================================================
// PROCESSING RESULTS
// =============================================================================

// Result captures the outcome of processing a single input file. The batch
// loop collects one Result per file and the CLI prints a summary from them.
type Result struct {
	// InputFile is the path of the file that was processed.
	InputFile string

	// Pipeline names the pipeline that handled the file
	// ("sales", "orderentry", "pex", "headcount", "vendor", "workingcapital").
	Pipeline string

	// OutputFiles lists every artifact written for this input.
	OutputFiles []string

	// RowCount is the number of data rows in the primary output.
	RowCount int

	// Success is true when the file produced its outputs.
	Success bool

	// Skipped is true when the file was deliberately not processed
	// (unrecognized filename, sentinel sheet, wrong extension).
	Skipped bool

	// SkipReason explains a skip for the run summary.
	SkipReason string

	// Error holds the failure when Success is false and Skipped is false.
	Error error

	// Duration is wall-clock processing time for this file.
	Duration time.Duration
}

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// LoadError reports a missing or malformed reference input (directory
// workbook, rate workbook, cost-element workbook). It aborts the run.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NewLoadError wraps err as fatal to the run.
func NewLoadError(source string, err error) *LoadError {
	return &LoadError{Source: source, Err: err}
}

// NewLoadErrorf is NewLoadError with a formatted message.
func NewLoadErrorf(source, format string, args ...interface{}) *LoadError {
	return &LoadError{Source: source, Err: fmt.Errorf(format, args...)}
}

// FormatError reports a subject file whose shape does not match the layout
// contract. The file is skipped and the batch continues.
type FormatError struct {
	File   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error in %s: %s", e.File, e.Reason)
}

// NewFormatErrorf builds a FormatError with a formatted reason.
func NewFormatErrorf(file, format string, args ...interface{}) *FormatError {
	return &FormatError{File: file, Reason: fmt.Sprintf(format, args...)}
}

// ConversionError reports a failed currency/rate resolution. The caller
// proceeds with Identity() factors and flags the file.
type ConversionError struct {
	Code   string
	Reason string
}

func (e *ConversionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("currency conversion for %q: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("currency conversion: %s", e.Reason)
}

// NewConversionErrorf builds a ConversionError naming the offending code.
func NewConversionErrorf(code, format string, args ...interface{}) *ConversionError {
	return &ConversionError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// ReconWarning reports that validation could not be produced for one entity
// (entity column absent from the truth sheet, or no data extracted). The
// entity's comparison is omitted from the report; the run continues.
type ReconWarning struct {
	Entity string
	Reason string
}

func (e *ReconWarning) Error() string {
	return fmt.Sprintf("reconciliation for entity %q: %s", e.Entity, e.Reason)
}

// NewReconWarningf builds a ReconWarning.
func NewReconWarningf(entity, format string, args ...interface{}) *ReconWarning {
	return &ReconWarning{Entity: entity, Reason: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err should abort the whole run rather than just
// the current file.
func IsFatal(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}
