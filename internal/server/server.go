// Package server exposes the ingestion pipeline over HTTP.
package server

import (
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ingest/internal/metrics"
	"ingest/internal/parser"
	"ingest/internal/pipeline"
	"ingest/internal/storage"
)

// Server handles upload requests against one pipeline runner.
type Server struct {
	Runner *pipeline.Runner
}

func New(runner *pipeline.Runner) *Server {
	return &Server{Runner: runner}
}

// SetupRouter builds the gin engine with the service routes.
func (s *Server) SetupRouter() *gin.Engine {
	r := gin.Default()

	r.POST("/upload", s.Upload)
	r.GET("/healthz", s.Health)

	return r
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// uploadResponse is the JSON body for a processed upload.
type uploadResponse struct {
	Message       string         `json:"message"`
	Stats         pipeline.Stats `json:"stats"`
	Schema        any            `json:"schema"`
	SchemaVersion int64          `json:"schema_version"`
	Changes       any            `json:"changes"`
	Sample        any            `json:"sample"`
}

// Upload accepts a multipart form with the payload in field "datafile".
// Optional form fields "format" ("json"/"csv") and "encoding" override
// sniffing and the UTF-8 default.
func (s *Server) Upload(c *gin.Context) {
	runID := uuid.NewString()
	start := time.Now()
	status := "failed"
	defer func() {
		metrics.ObserveHistogram("ingest_upload_duration_seconds",
			time.Since(start).Seconds(), metrics.Labels{"status": status})
	}()

	fileHeader, err := c.FormFile("datafile")
	if err != nil {
		status = "rejected"
		metrics.IncCounter("ingest_uploads_total", 1, metrics.Labels{"status": status})
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing form file \"datafile\""})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		metrics.IncCounter("ingest_uploads_total", 1, metrics.Labels{"status": status})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "open uploaded file"})
		return
	}
	defer f.Close()

	format := c.PostForm("format")
	if format == "" {
		format = formatFromName(fileHeader.Filename)
	}
	recs, err := parser.Parse(f, parser.Options{
		Format:   format,
		Encoding: c.PostForm("encoding"),
	})
	if err != nil {
		status = "rejected"
		metrics.IncCounter("ingest_uploads_total", 1, metrics.Labels{"status": status})
		log.Printf("server: upload %s rejected: %v", runID, err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid file format. Please upload JSON or CSV with records.",
		})
		return
	}

	log.Printf("server: upload %s: %s (%d records)", runID, fileHeader.Filename, len(recs))

	res, err := s.Runner.Run(c.Request.Context(), recs)
	if err != nil {
		s.renderRunError(c, runID, err)
		return
	}
	status = "ok"

	c.JSON(http.StatusOK, uploadResponse{
		Message:       res.Message,
		Stats:         res.Stats,
		Schema:        res.Schema,
		SchemaVersion: res.Version,
		Changes:       res.Changes,
		Sample:        pipeline.Sanitize(res.Sample),
	})
}

// formatFromName maps a filename extension to a parser format hint. Unknown
// extensions leave the decision to content sniffing.
func formatFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".jsonl":
		return "json"
	case ".csv":
		return "csv"
	}
	return ""
}

func (s *Server) renderRunError(c *gin.Context, runID string, err error) {
	var abort *pipeline.AbortError

	switch {
	case errors.Is(err, pipeline.ErrInputRejected):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid file format. Please upload JSON or CSV with records.",
		})

	case errors.As(err, &abort):
		log.Printf("server: upload %s aborted in batch %d: %v", runID, abort.Batch, abort.Err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "processing aborted",
			"batch": abort.Batch,
			"stats": abort.Stats,
		})

	case errors.Is(err, storage.ErrVersionAllocation):
		log.Printf("server: upload %s: version allocation failed: %v", runID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "records stored but schema version could not be allocated",
		})

	default:
		log.Printf("server: upload %s failed: %v", runID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
