// =============================================================================
// BI Recon Engine - HTTP Session Service
// =============================================================================
//
// A thin HTTP front over the same pipelines the CLI runs. Analysts without a
// shell upload their department workbooks into an isolated session, trigger
// a pipeline, and download the artifacts (individually or zipped).
//
// SESSION MODEL:
//   - POST /sessions creates a UUID-keyed upload/output directory pair under
//     the work root. Nothing outside that pair is ever read or written.
//   - Each session lazily builds its own pipeline dependencies, so rate
//     lookups memoized in one session never leak into another.
//   - Sessions live for the process lifetime; the work root is disposable.
//
// Every handler answers JSON. Pipeline runs return one summary entry per
// input file, mirroring the CLI's console summary.
//
// =============================================================================

package server

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mkfinops/bi-recon-engine/internal/config"
	"github.com/mkfinops/bi-recon-engine/internal/merge"
	"github.com/mkfinops/bi-recon-engine/internal/pipeline"
	"github.com/mkfinops/bi-recon-engine/internal/types"
	"github.com/mkfinops/bi-recon-engine/pkg/utils"
)

// Server routes session requests onto the pipelines.
type Server struct {
	cfg *config.Config
	log *logrus.Logger
	fm  *utils.FileManager

	mu   sync.Mutex
	deps map[string]*pipeline.Deps
}

// New builds the session service over the configured work root.
func New(cfg *config.Config, log *logrus.Logger) *Server {
	return &Server{
		cfg:  cfg,
		log:  log,
		fm:   utils.NewFileManager(cfg.InputDir, cfg.OutputDir, cfg.WorkDir),
		deps: make(map[string]*pipeline.Deps),
	}
}

// Router wires the endpoints onto a gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.POST("/sessions", s.createSession)
	r.POST("/sessions/:id/files", s.uploadFiles)
	r.GET("/sessions/:id/files", s.listFiles)
	r.GET("/sessions/:id/files/:name", s.downloadFile)
	r.GET("/sessions/:id/archive", s.downloadArchive)
	r.POST("/sessions/:id/clean/:pipeline", s.runClean)
	r.POST("/sessions/:id/merge", s.runMerge)
	r.POST("/sessions/:id/dedupe", s.runDedupe)
	return r
}

// Run blocks serving on the configured address.
func (s *Server) Run() error {
	if err := s.fm.EnsureDirectories(); err != nil {
		return err
	}
	s.log.WithField("addr", s.cfg.ServerAddr).Info("Session service listening")
	return s.Router().Run(s.cfg.ServerAddr)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Round(time.Millisecond).String(),
		}).Debug("Request handled")
	}
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

func (s *Server) createSession(c *gin.Context) {
	sess, err := s.fm.NewSession()
	if err != nil {
		abortJSON(c, http.StatusInternalServerError, err)
		return
	}
	s.log.WithField("session", sess.ID).Info("Session created")
	c.JSON(http.StatusCreated, gin.H{"session_id": sess.ID})
}

// session resolves the :id parameter, answering 404 itself on failure.
func (s *Server) session(c *gin.Context) (*utils.Session, bool) {
	sess, err := s.fm.OpenSession(c.Param("id"))
	if err != nil {
		abortJSON(c, http.StatusNotFound, err)
		return nil, false
	}
	return sess, true
}

// sessionDeps returns the pipeline dependencies of a session, building them
// on first use so every session carries its own rate cache.
func (s *Server) sessionDeps(id string) (*pipeline.Deps, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.deps[id]; ok {
		return d, nil
	}
	d, err := pipeline.NewDeps(s.cfg, s.log)
	if err != nil {
		return nil, err
	}
	s.deps[id] = d
	return d, nil
}

// =============================================================================
// FILE ENDPOINTS
// =============================================================================

func (s *Server) uploadFiles(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		abortJSON(c, http.StatusBadRequest, err)
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		abortJSON(c, http.StatusBadRequest, fmt.Errorf("no files in multipart field %q", "files"))
		return
	}

	var saved []string
	for _, fh := range files {
		name := filepath.Base(fh.Filename)
		if err := c.SaveUploadedFile(fh, filepath.Join(sess.UploadDir, name)); err != nil {
			abortJSON(c, http.StatusInternalServerError, fmt.Errorf("save %s: %w", name, err))
			return
		}
		saved = append(saved, name)
	}
	s.log.WithFields(logrus.Fields{"session": sess.ID, "files": len(saved)}).Info("Files uploaded")
	c.JSON(http.StatusOK, gin.H{"uploaded": saved})
}

func (s *Server) listFiles(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	uploads, err := utils.ListFiles(sess.UploadDir)
	if err != nil {
		abortJSON(c, http.StatusInternalServerError, err)
		return
	}
	outputs, err := utils.ListFiles(sess.OutputDir)
	if err != nil {
		abortJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uploads": uploads, "outputs": outputs})
}

func (s *Server) downloadFile(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	name := filepath.Base(c.Param("name"))
	path := filepath.Join(sess.OutputDir, name)
	if !utils.FileExists(path) {
		abortJSON(c, http.StatusNotFound, fmt.Errorf("no output file %q in session", name))
		return
	}
	c.FileAttachment(path, name)
}

func (s *Server) downloadArchive(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	zipPath := filepath.Join(s.fm.WorkDir, sess.ID, "outputs.zip")
	if err := utils.ZipDirectory(sess.OutputDir, zipPath); err != nil {
		abortJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.FileAttachment(zipPath, "processed_files.zip")
}

// =============================================================================
// PIPELINE ENDPOINTS
// =============================================================================

// runClean dispatches POST /sessions/:id/clean/:pipeline. Vendor and
// working-capital runs take month/year query parameters; order entry takes
// grouped=true, vendor takes analysis=mom|qtd and working capital takes
// metric=overhead|dso.
func (s *Server) runClean(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	name := c.Param("pipeline")
	var period types.Period
	switch name {
	case "sales", "orderentry", "pex":
	case "vendor", "workingcapital":
		p, perr := queryPeriod(c)
		if perr != nil {
			abortJSON(c, http.StatusBadRequest, perr)
			return
		}
		period = p
	default:
		abortJSON(c, http.StatusNotFound, fmt.Errorf("unknown pipeline %q", name))
		return
	}

	deps, err := s.sessionDeps(sess.ID)
	if err != nil {
		abortJSON(c, http.StatusInternalServerError, err)
		return
	}

	var results []types.Result
	switch name {
	case "sales":
		results, err = pipeline.NewSales(deps).Run(sess.UploadDir, sess.OutputDir)
	case "orderentry":
		grouped := c.Query("grouped") == "true"
		results, err = pipeline.NewOrderEntry(deps, grouped).Run(sess.UploadDir, sess.OutputDir)
	case "pex":
		results, err = pipeline.NewPeriodExpense(deps).Run(sess.UploadDir, sess.OutputDir)
	case "vendor":
		results, err = pipeline.NewVendor(deps, c.Query("analysis")).Run(sess.UploadDir, sess.OutputDir, period)
	case "workingcapital":
		var r types.Result
		r, err = pipeline.NewWorkingCapital(deps).Run(sess.UploadDir, sess.OutputDir, c.Query("metric"), period)
		results = []types.Result{r}
	}

	if err != nil {
		abortJSON(c, http.StatusUnprocessableEntity, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": summarize(results)})
}

func (s *Server) runMerge(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	deps, err := s.sessionDeps(sess.ID)
	if err != nil {
		abortJSON(c, http.StatusInternalServerError, err)
		return
	}
	files, err := utils.ListFiles(sess.OutputDir)
	if err != nil {
		abortJSON(c, http.StatusInternalServerError, err)
		return
	}

	m := merge.New(deps.Dir, s.cfg.Truth.OrderEntryDir, s.log)
	var mergedNames []string
	mergedNames = append(mergedNames, m.MergeSales(sess.OutputDir, files)...)
	mergedNames = append(mergedNames, m.MergeOrderEntry(sess.OutputDir, files)...)
	mergedNames = append(mergedNames, m.MergePEXAndHeadcount(sess.OutputDir, files)...)
	mergedNames = append(mergedNames, m.MergeVendor(sess.OutputDir, files)...)
	c.JSON(http.StatusOK, gin.H{"merged": mergedNames})
}

func (s *Server) runDedupe(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	deps, err := s.sessionDeps(sess.ID)
	if err != nil {
		abortJSON(c, http.StatusInternalServerError, err)
		return
	}
	files, err := utils.ListFiles(sess.OutputDir)
	if err != nil {
		abortJSON(c, http.StatusInternalServerError, err)
		return
	}

	m := merge.New(deps.Dir, s.cfg.Truth.OrderEntryDir, s.log)
	kept := m.RemoveDuplicates(sess.OutputDir, files)
	c.JSON(http.StatusOK, gin.H{
		"kept":    kept,
		"removed": len(files) - len(kept),
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// fileSummary is the per-input entry of a pipeline run response.
type fileSummary struct {
	Input    string   `json:"input"`
	Pipeline string   `json:"pipeline"`
	Status   string   `json:"status"`
	Outputs  []string `json:"outputs,omitempty"`
	Rows     int      `json:"rows,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Duration string   `json:"duration,omitempty"`
}

func summarize(results []types.Result) []fileSummary {
	out := make([]fileSummary, 0, len(results))
	for _, r := range results {
		f := fileSummary{
			Input:    filepath.Base(r.InputFile),
			Pipeline: r.Pipeline,
			Rows:     r.RowCount,
			Duration: r.Duration.Round(time.Millisecond).String(),
		}
		for _, o := range r.OutputFiles {
			f.Outputs = append(f.Outputs, filepath.Base(o))
		}
		switch {
		case r.Success:
			f.Status = "processed"
		case r.Skipped:
			f.Status = "skipped"
			f.Reason = r.SkipReason
		default:
			f.Status = "failed"
			if r.Error != nil {
				f.Reason = r.Error.Error()
			}
		}
		out = append(out, f)
	}
	return out
}

func queryPeriod(c *gin.Context) (types.Period, error) {
	month, err := strconv.Atoi(c.Query("month"))
	if err != nil || month < 1 || month > 12 {
		return types.Period{}, fmt.Errorf("month query parameter must be 1-12")
	}
	year, err := strconv.Atoi(c.Query("year"))
	if err != nil || year < 2000 || year > 2100 {
		return types.Period{}, fmt.Errorf("year query parameter must be a four-digit year")
	}
	return types.Period{Month: month, Year: year}, nil
}

func abortJSON(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
