// Package admission gates new job submissions on current queue depth. It is
// the system's ingress: nothing reaches the broker without passing here.
package admission

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dispatch-cli/internal/config"
	"github.com/sells-group/dispatch-cli/internal/model"
	"github.com/sells-group/dispatch-cli/internal/queue"
	"github.com/sells-group/dispatch-cli/internal/store"
)

// ErrAdmissionRejected signals backpressure: the queue is full, or its depth
// could not be established in time. Callers surface it as a retryable
// rate-limit condition. No job is created.
var ErrAdmissionRejected = eris.New("admission: rejected, queue at capacity")

// ErrPayloadTooLarge is returned when the audio exceeds the configured cap.
var ErrPayloadTooLarge = eris.New("admission: audio payload too large")

// ErrUnsupportedAudio is returned when the payload is not a recognized
// audio container.
var ErrUnsupportedAudio = eris.New("admission: unsupported audio format")

// Submission is a decoded client request.
type Submission struct {
	Audio         []byte
	LanguageHint  string
	CorrelationID string // reused from caller context when set
}

// Controller admits or rejects submissions.
type Controller struct {
	store         store.Store
	broker        queue.Broker
	queue         config.QueueConfig
	maxAudioBytes int64
	uploadDir     string
}

// New creates an admission controller.
func New(st store.Store, broker queue.Broker, queueCfg config.QueueConfig, storageCfg config.StorageConfig) *Controller {
	return &Controller{
		store:         st,
		broker:        broker,
		queue:         queueCfg,
		maxAudioBytes: int64(storageCfg.MaxAudioSizeMB) * 1024 * 1024,
		uploadDir:     storageCfg.UploadDir,
	}
}

// Submit admits a new job or returns the existing handle for a duplicate
// submission. Exactly one enqueue and one job-store write happen per accepted
// submission; rejection has no side effects.
func (c *Controller) Submit(ctx context.Context, sub Submission) (*model.JobHandle, error) {
	if int64(len(sub.Audio)) > c.maxAudioBytes {
		return nil, ErrPayloadTooLarge
	}
	if !SupportedAudio(sub.Audio) {
		return nil, ErrUnsupportedAudio
	}

	key := IdempotencyKey(sub.Audio)

	// Idempotent resubmission: same payload returns the original handle
	// unless that job was dead-lettered (then a fresh run is allowed). The
	// dead-lettered job keeps its audit history but gives up the key so the
	// insert below does not collide.
	if existing, err := c.store.GetJobByIdempotencyKey(ctx, key); err == nil {
		if existing.Status != model.JobStatusDeadLettered {
			h := existing.Handle()
			return &h, nil
		}
		if err := c.store.RetireIdempotencyKey(ctx, existing.ID); err != nil {
			return nil, eris.Wrap(err, "admission: retire dead-lettered key")
		}
	} else if !eris.Is(err, store.ErrNotFound) {
		return nil, eris.Wrap(err, "admission: idempotency lookup")
	}

	// Backpressure gate. The probe runs under a hard timeout; if the broker
	// cannot answer in time, depth is unknown-high and we fail closed. Gate
	// unavailability never silently bypasses backpressure.
	probeCtx, cancel := context.WithTimeout(ctx, c.queue.OpTimeout())
	defer cancel()

	depth, err := c.broker.Depth(probeCtx)
	if err != nil {
		zap.L().Warn("admission: depth probe failed, failing closed", zap.Error(err))
		return nil, ErrAdmissionRejected
	}
	if depth >= c.queue.MaxSize {
		zap.L().Info("admission: queue full",
			zap.Int("depth", depth),
			zap.Int("max", c.queue.MaxSize),
		)
		return nil, ErrAdmissionRejected
	}

	job := &model.Job{
		ID:             uuid.New().String(),
		CorrelationID:  sub.CorrelationID,
		IdempotencyKey: key,
		Status:         model.JobStatusQueued,
		LanguageHint:   sub.LanguageHint,
	}
	if job.CorrelationID == "" {
		job.CorrelationID = uuid.New().String()
	}

	audioPath, err := c.persistAudio(job.ID, sub.Audio)
	if err != nil {
		return nil, err
	}
	job.AudioPath = audioPath

	if err := c.store.CreateJob(ctx, job); err != nil {
		if eris.Is(err, store.ErrDuplicateIdempotencyKey) {
			// Lost a race with a concurrent identical submission; return
			// the winner's handle.
			if existing, lookupErr := c.store.GetJobByIdempotencyKey(ctx, key); lookupErr == nil {
				h := existing.Handle()
				return &h, nil
			}
		}
		return nil, eris.Wrap(err, "admission: create job")
	}

	enqCtx, cancelEnq := context.WithTimeout(ctx, c.queue.OpTimeout())
	defer cancelEnq()
	if err := c.broker.Enqueue(enqCtx, job.ID); err != nil {
		// The job row exists but never reached the queue; mark it failed so
		// it is not silently stranded in QUEUED.
		_ = c.store.SetStatus(ctx, job.ID, model.JobStatusFailed, "enqueue failed: "+err.Error())
		return nil, eris.Wrap(err, "admission: enqueue")
	}

	_ = c.store.AppendAudit(ctx, &model.AuditRecord{
		CorrelationID: job.CorrelationID,
		JobID:         job.ID,
		Stage:         model.StageAdmit,
		Outcome:       model.OutcomeOK,
	})

	zap.L().Info("admission: job accepted",
		zap.String("job_id", job.ID),
		zap.String("correlation_id", job.CorrelationID),
		zap.Int("queue_depth", depth),
	)

	h := job.Handle()
	return &h, nil
}

func (c *Controller) persistAudio(jobID string, audio []byte) (string, error) {
	if err := os.MkdirAll(c.uploadDir, 0o755); err != nil {
		return "", eris.Wrap(err, "admission: create upload dir")
	}
	path := filepath.Join(c.uploadDir, jobID+".audio")
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", eris.Wrap(err, "admission: write audio")
	}
	return path, nil
}

// IdempotencyKey fingerprints the input payload. Identical audio bytes map
// to the same key regardless of submission metadata.
func IdempotencyKey(audio []byte) string {
	sum := sha256.Sum256(audio)
	return hex.EncodeToString(sum[:])
}

// SupportedAudio does a small header check for WAV and MP3 containers.
func SupportedAudio(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if bytes.HasPrefix(data, []byte("RIFF")) && bytes.Contains(data[:min(16, len(data))], []byte("WAVE")) {
		return true
	}
	if bytes.HasPrefix(data, []byte("ID3")) {
		return true
	}
	if data[0] == 0xff && (data[1] == 0xfb || data[1] == 0xf3) {
		return true
	}
	return false
}
