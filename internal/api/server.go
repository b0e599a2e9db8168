// Package api is the submission surface: it accepts workout videos
// (uploads or URLs), enqueues processing jobs, and exposes job
// progress by identifier.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fitclip/workout-worker/internal/models"
	"github.com/fitclip/workout-worker/internal/processor"
	"github.com/fitclip/workout-worker/internal/queue"
)

// Server handles submission and progress requests.
type Server struct {
	enqueuer      *queue.Enqueuer
	redis         *redis.Client
	uploadDir     string
	maxUploadSize int64
	logger        *slog.Logger
}

// NewServer creates the API server.
func NewServer(enqueuer *queue.Enqueuer, redisClient *redis.Client, uploadDir string, maxUploadSize int64, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		enqueuer:      enqueuer,
		redis:         redisClient,
		uploadDir:     uploadDir,
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

// Router constructs the gin engine with registered routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = 32 << 20

	r.POST("/api/workouts/:workoutId/videos", s.handleUploadSubmit)
	r.POST("/api/workouts/:workoutId/videos/url", s.handleURLSubmit)
	r.GET("/api/jobs/:jobId/progress", s.handleJobProgress)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

// handleUploadSubmit accepts one or more uploaded video files plus
// job metadata and enqueues a file-backed job. Saved files are owned
// by the job until the worker consumes and deletes them.
func (s *Server) handleUploadSubmit(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form: " + err.Error()})
		return
	}

	files := form.File["videos"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no videos provided"})
		return
	}

	jobID := uuid.New().String()
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare upload directory"})
		return
	}

	var videos []models.VideoRef
	for _, file := range files {
		if file.Size > s.maxUploadSize {
			s.removeFiles(videos)
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("%s exceeds upload size limit", file.Filename),
			})
			return
		}

		dst := filepath.Join(s.uploadDir, fmt.Sprintf("%s-%s%s", jobID, uuid.New().String()[:8], filepath.Ext(file.Filename)))
		if err := c.SaveUploadedFile(file, dst); err != nil {
			s.removeFiles(videos)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save upload"})
			return
		}
		videos = append(videos, models.VideoRef{FilePath: dst})
	}

	job := s.buildJob(c, jobID, videos)
	if err := s.enqueuer.Enqueue(c.Request.Context(), job); err != nil {
		s.removeFiles(videos)
		s.logger.Error("failed to enqueue job", "job", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}

	s.logger.Info("job enqueued", "job", jobID, "videos", len(videos))
	c.JSON(http.StatusAccepted, submitResponse{JobID: jobID})
}

type urlSubmitRequest struct {
	UserID     string   `json:"userId" binding:"required"`
	Caption    string   `json:"caption"`
	Source     string   `json:"source"`
	DisplayURL string   `json:"displayUrl"`
	URLs       []string `json:"urls" binding:"required,min=1"`
	APIKey     string   `json:"apiKey" binding:"required"`
}

// handleURLSubmit accepts a JSON list of remote video URLs and
// enqueues a URL-backed job.
func (s *Server) handleURLSubmit(c *gin.Context) {
	var req urlSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	videos := make([]models.VideoRef, 0, len(req.URLs))
	for _, u := range req.URLs {
		videos = append(videos, models.VideoRef{URL: u})
	}

	now := time.Now()
	job := &models.JobPayload{
		JobID:      uuid.New().String(),
		UserID:     req.UserID,
		WorkoutID:  c.Param("workoutId"),
		Caption:    req.Caption,
		Source:     sourceOrDefault(req.Source),
		DisplayURL: req.DisplayURL,
		Videos:     videos,
		APIKey:     req.APIKey,
		EnqueuedAt: &now,
	}

	if err := s.enqueuer.Enqueue(c.Request.Context(), job); err != nil {
		s.logger.Error("failed to enqueue job", "job", job.JobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}

	s.logger.Info("job enqueued", "job", job.JobID, "videos", len(videos))
	c.JSON(http.StatusAccepted, submitResponse{JobID: job.JobID})
}

// handleJobProgress returns the integer progress percentage for a
// job, as reported by the worker.
func (s *Server) handleJobProgress(c *gin.Context) {
	jobID := c.Param("jobId")

	val, err := s.redis.Get(c.Request.Context(), processor.ProgressKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read progress"})
		return
	}

	progress, err := strconv.Atoi(val)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "malformed progress value"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobId": jobID, "progress": progress})
}

// buildJob assembles a file-backed job from multipart form fields.
func (s *Server) buildJob(c *gin.Context, jobID string, videos []models.VideoRef) *models.JobPayload {
	now := time.Now()
	return &models.JobPayload{
		JobID:      jobID,
		UserID:     c.PostForm("userId"),
		WorkoutID:  c.Param("workoutId"),
		Caption:    c.PostForm("caption"),
		Source:     sourceOrDefault(c.PostForm("source")),
		DisplayURL: c.PostForm("displayUrl"),
		Videos:     videos,
		APIKey:     c.PostForm("apiKey"),
		EnqueuedAt: &now,
	}
}

func (s *Server) removeFiles(videos []models.VideoRef) {
	for _, v := range videos {
		if v.FilePath != "" {
			os.Remove(v.FilePath)
		}
	}
}

func sourceOrDefault(source string) string {
	if source == "" {
		return models.SourceGeneric
	}
	return source
}
