// Package api exposes the submission workflow, history list and assembled
// reports over HTTP for the intake UI.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/retina-screening-gateway/internal/config"
	"github.com/retina-screening-gateway/internal/domain"
	"github.com/retina-screening-gateway/internal/history"
	"github.com/retina-screening-gateway/internal/middleware"
	"github.com/retina-screening-gateway/internal/report"
	"github.com/retina-screening-gateway/internal/workflow"
)

const reportCacheSize = 32

// Server represents the HTTP gateway.
type Server struct {
	cfg       *config.Config
	logger    *logrus.Logger
	router    *gin.Engine
	server    *http.Server
	wf        *workflow.Workflow
	hist      *history.Store
	assembler *report.Assembler
	documents domain.DocumentFetcher

	// reportCache memoizes assembled views per report id; entries are
	// replaced when the pending document reference arrives.
	reportCache *lru.Cache[domain.ReportID, *report.ReportView]
}

// NewServer creates a new HTTP gateway instance.
func NewServer(
	cfg *config.Config,
	logger *logrus.Logger,
	wf *workflow.Workflow,
	hist *history.Store,
	assembler *report.Assembler,
	documents domain.DocumentFetcher,
) (*Server, error) {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	cache, err := lru.New[domain.ReportID, *report.ReportView](reportCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating report cache: %w", err)
	}

	router := gin.New()
	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		router:      router,
		wf:          wf,
		hist:        hist,
		assembler:   assembler,
		documents:   documents,
		reportCache: cache,
	}
	s.setupRoutes()
	return s, nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/session", s.handleSessionState)
		v1.POST("/session/image", s.handleSelectImage)
		v1.POST("/session/submit", s.handleSubmit)
		v1.POST("/session/reset", s.handleReset)
		v1.GET("/session/report", s.handleReport)
		v1.GET("/history", s.handleHistory)
	}
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"state":     s.wf.State(),
	})
}

// handleSessionState returns a snapshot of the workflow.
func (s *Server) handleSessionState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":          s.wf.State(),
		"preview":        s.wf.PreviewRef(),
		"failure_reason": s.wf.FailureReason(),
	})
}

// handleSelectImage installs a new retinal image from a multipart upload.
func (s *Server) handleSelectImage(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.Server.MaxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload"})
		return
	}
	if int64(len(data)) > s.cfg.Server.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return
	}

	if err := s.wf.SelectImage(header.Filename, data); err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"state":   s.wf.State(),
		"preview": s.wf.PreviewRef(),
	})
}

// handleSubmit validates the patient record and runs one classification
// attempt against the diagnostic service.
func (s *Server) handleSubmit(c *gin.Context) {
	var record domain.PatientRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid patient record payload"})
		return
	}
	if record.PatientID == "" {
		record.PatientID = domain.GeneratePatientID()
	}

	result, err := s.wf.Submit(c.Request.Context(), record)
	if err != nil {
		s.renderError(c, err)
		return
	}

	s.hist.AppendOptimistic(domain.EntryFromResult(record, *result))

	c.JSON(http.StatusOK, gin.H{
		"state":  s.wf.State(),
		"result": result,
	})
}

// handleReset returns the workflow to Ready, keeping image and form fields.
func (s *Server) handleReset(c *gin.Context) {
	if err := s.wf.Reset(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.wf.State()})
}

// handleReport returns the assembled report view for the current result. The
// document reference is re-polled while generation is still in progress.
func (s *Server) handleReport(c *gin.Context) {
	result := s.wf.Result()
	if result == nil || s.wf.State() != workflow.StateResultReady {
		c.JSON(http.StatusConflict, gin.H{"error": domain.ErrIncompleteReport.Error()})
		return
	}

	if !result.HasDocument() && s.documents != nil {
		if ref, err := s.documents.FetchDocument(c.Request.Context(), result.ReportID); err == nil && ref != "" {
			if s.wf.AttachDocument(result.ReportID, ref) {
				result.DocumentRef = ref
				s.reportCache.Remove(result.ReportID)
			}
		}
	}

	if view, ok := s.reportCache.Get(result.ReportID); ok && view.DocumentPending == !result.HasDocument() {
		c.JSON(http.StatusOK, view)
		return
	}

	view, err := s.assembler.Assemble(s.wf.Record(), result)
	if err != nil {
		s.renderError(c, err)
		return
	}
	s.reportCache.Add(result.ReportID, view)
	c.JSON(http.StatusOK, view)
}

// handleHistory returns the records list, optionally refreshing it from the
// archive first. When the archive is unreachable the last mirrored snapshot
// is served instead.
func (s *Server) handleHistory(c *gin.Context) {
	stale := false
	if c.Query("refresh") == "1" {
		if err := s.hist.Refresh(c.Request.Context()); err != nil {
			s.logger.WithError(err).Warn("History refresh failed, serving local data")
			if lerr := s.hist.LoadCached(c.Request.Context()); lerr != nil {
				s.logger.WithError(lerr).Warn("Local history mirror unavailable")
			}
			stale = true
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"records": s.hist.Entries(),
		"stale":   stale,
	})
}

// renderError maps workflow errors onto HTTP responses.
func (s *Server) renderError(c *gin.Context, err error) {
	var ve *domain.ValidationError
	var te *domain.TransportError
	var ce *domain.CorrelationError

	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Message, "field": ve.Field})
	case errors.Is(err, domain.ErrAlreadyInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrSuperseded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrIncompleteReport):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &te), errors.As(err, &ce),
		errors.Is(err, domain.ErrMalformedResponse),
		errors.Is(err, domain.ErrInconsistentResult):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":          s.wf.FailureReason(),
			"failure_reason": s.wf.FailureReason(),
			"state":          s.wf.State(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// corsMiddleware adds CORS headers so the intake UI can call the gateway
// from its own origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-Correlation-ID")
		c.Header("Access-Control-Expose-Headers", "Content-Length")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
