package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/landhub-tz/backend/internal/cache"
	"github.com/landhub-tz/backend/internal/config"
	"github.com/landhub-tz/backend/internal/jobs"
	"github.com/landhub-tz/backend/internal/logger"
	"github.com/landhub-tz/backend/internal/shapefile"
)

// ErrAccessDenied is returned when a user asks about a job another user
// submitted.
var ErrAccessDenied = errors.New("access denied")

// UploadReceipt is returned after a shapefile is accepted for
// processing. Processing itself is asynchronous; poll JobStatus with
// the task id.
type UploadReceipt struct {
	TaskID      string                 `json:"taskId"`
	Dataset     *shapefile.DatasetInfo `json:"dataset"`
	Message     string                 `json:"message"`
	SubmittedAt time.Time              `json:"submittedAt"`
}

// taskMeta is the cached ownership record for a submitted job. Once it
// expires the job outcome is no longer queryable, matching the result
// retention window.
type taskMeta struct {
	TaskID      string    `json:"taskId"`
	UserID      uuid.UUID `json:"userId"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// IngestService accepts shapefile uploads and exposes job progress to
// the submitting user.
type IngestService interface {
	// SubmitShapefile validates the staged file set synchronously, then
	// queues the conversion job. Validation failures surface
	// immediately; conversion failures surface through JobStatus.
	SubmitShapefile(ctx context.Context, files shapefile.FileSet, userID uuid.UUID, locationID *uuid.UUID) (*UploadReceipt, error)

	// JobStatus returns the state of a submitted job. Only the
	// submitting user may read it.
	JobStatus(ctx context.Context, taskID string, userID uuid.UUID) (*jobs.Status, error)
}

type ingestService struct {
	queue jobs.Queue
	cache *cache.Client
	jcfg  config.JobsConfig
	log   *logger.Logger
}

// NewIngestService creates an IngestService.
func NewIngestService(queue jobs.Queue, cacheClient *cache.Client, jcfg config.JobsConfig, log *logger.Logger) IngestService {
	return &ingestService{
		queue: queue,
		cache: cacheClient,
		jcfg:  jcfg,
		log:   log,
	}
}

func (s *ingestService) SubmitShapefile(ctx context.Context, files shapefile.FileSet, userID uuid.UUID, locationID *uuid.UUID) (*UploadReceipt, error) {
	info, err := shapefile.ValidateSet(files)
	if err != nil {
		// The staged files are useless once rejected.
		files.Cleanup()
		return nil, err
	}

	taskID, err := s.queue.Submit(ctx, shapefile.TaskProcess, shapefile.Args{
		Files:      files,
		UserID:     userID,
		LocationID: locationID,
	})
	if err != nil {
		files.Cleanup()
		return nil, fmt.Errorf("failed to queue shapefile job: %w", err)
	}

	now := time.Now().UTC()
	s.cache.Set(ctx, cache.TaskKey(taskID), taskMeta{
		TaskID:      taskID,
		UserID:      userID,
		SubmittedAt: now,
	}, s.jcfg.Retention)

	s.log.Info("Shapefile accepted for processing", map[string]interface{}{
		"task_id":  taskID,
		"user_id":  userID.String(),
		"features": info.FeatureCount,
	})

	return &UploadReceipt{
		TaskID:      taskID,
		Dataset:     info,
		Message:     fmt.Sprintf("Shapefile with %d features queued for processing", info.FeatureCount),
		SubmittedAt: now,
	}, nil
}

func (s *ingestService) JobStatus(ctx context.Context, taskID string, userID uuid.UUID) (*jobs.Status, error) {
	var meta taskMeta
	if !s.cache.Get(ctx, cache.TaskKey(taskID), &meta) {
		return nil, jobs.ErrJobNotFound
	}
	if meta.UserID != userID {
		return nil, ErrAccessDenied
	}
	return s.queue.Status(ctx, taskID)
}
