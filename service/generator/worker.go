package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wlu03/story-to-scene-magic-08/models"
	"github.com/wlu03/story-to-scene-magic-08/service/retry"
)

// Task types understood by the GPU worker.
const (
	TaskTypeShotImage = "generate_shot"
	TaskTypeAudio     = "generate_audio"
	TaskTypeVideo     = "generate_video"
)

// WorkerGenerator submits jobs to the GPU worker (POST /v1/generate) and
// checks them through GET /v1/jobs/{id}.
type WorkerGenerator struct {
	kind     models.ArtifactKind
	endpoint string
	client   *http.Client
	width    int
	height   int
	log      logrus.FieldLogger
}

type WorkerOption func(*WorkerGenerator)

func WithWorkerHTTPClient(client *http.Client) WorkerOption {
	return func(w *WorkerGenerator) {
		if client != nil {
			w.client = client
		}
	}
}

func WithImageSize(width, height int) WorkerOption {
	return func(w *WorkerGenerator) {
		w.width, w.height = width, height
	}
}

func WithWorkerLogger(log logrus.FieldLogger) WorkerOption {
	return func(w *WorkerGenerator) {
		if log != nil {
			w.log = log
		}
	}
}

func NewWorkerGenerator(kind models.ArtifactKind, endpoint string, opts ...WorkerOption) *WorkerGenerator {
	w := &WorkerGenerator{
		kind:     kind,
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 30 * time.Second},
		width:    1024,
		height:   1024,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.WithFields(logrus.Fields{"module": "worker_generator", "kind": string(kind)})
	return w
}

func (w *WorkerGenerator) Kind() models.ArtifactKind {
	return w.kind
}

func (w *WorkerGenerator) taskType() string {
	switch w.kind {
	case models.KindAudio:
		return TaskTypeAudio
	case models.KindVideo:
		return TaskTypeVideo
	default:
		return TaskTypeShotImage
	}
}

func (w *WorkerGenerator) parameters(req Request) map[string]interface{} {
	shotID := strconv.Itoa(req.SegmentID)
	switch w.kind {
	case models.KindAudio:
		return map[string]interface{}{
			"tts": map[string]interface{}{
				"shot_id":  shotID,
				"text":     req.Prompt,
				"duration": req.DurationSeconds,
				"format":   "mp3",
			},
		}
	case models.KindVideo:
		video := map[string]interface{}{
			"shot_id":    shotID,
			"prompt":     req.Prompt,
			"duration":   req.DurationSeconds,
			"fps":        24,
			"resolution": "1280x720",
			"format":     "mp4",
		}
		if req.Reference.Usable() && req.Reference.URL != "" {
			video["reference_image_url"] = req.Reference.URL
		}
		return map[string]interface{}{"video": video}
	default:
		shot := map[string]interface{}{
			"shot_id":      shotID,
			"prompt":       req.Prompt,
			"style":        req.Style,
			"image_width":  strconv.Itoa(w.width),
			"image_height": strconv.Itoa(w.height),
		}
		if req.Reference.Usable() && req.Reference.URL != "" {
			shot["reference_image_url"] = req.Reference.URL
		}
		return map[string]interface{}{"shot": shot}
	}
}

func (w *WorkerGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	if req.Reference != nil && req.Reference.URL == "" {
		w.log.WithField("story_id", req.StoryID).Info("reference asset has no shareable url, generating without it")
		req.Reference = nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"id":         uuid.NewString(),
		"project_id": req.StoryID,
		"type":       w.taskType(),
		"status":     "pending",
		"parameters": w.parameters(req),
	})
	if err != nil {
		return Result{}, retry.Permanent(fmt.Errorf("marshal worker request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return Result{}, retry.Permanent(fmt.Errorf("build worker request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return Result{}, retry.Transient(fmt.Errorf("worker request: %w", err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	default:
		return Result{}, fmt.Errorf("worker generate: %w", retry.FromResponse(resp))
	}

	var respData map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return Result{}, retry.Transient(fmt.Errorf("decode worker response: %w", err))
	}
	jobID := stringField(respData, "id")
	if jobID == "" {
		jobID = stringField(respData, "job_id")
	}
	if jobID == "" {
		return Result{}, retry.Transient(fmt.Errorf("worker response missing job id"))
	}

	w.log.WithFields(logrus.Fields{"story_id": req.StoryID, "segment_id": req.SegmentID, "job_id": jobID}).Info("worker job submitted")
	return Pending(Operation{ID: jobID, Kind: w.kind}), nil
}

type workerJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
	Result struct {
		ResourceType string `json:"resource_type"`
		ResourceURL  string `json:"resource_url"`
	} `json:"result"`
}

func (w *WorkerGenerator) Check(ctx context.Context, op Operation) (Check, error) {
	jobURL := fmt.Sprintf("%s/v1/jobs/%s", w.endpoint, url.PathEscape(op.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jobURL, nil)
	if err != nil {
		return Check{}, retry.Permanent(fmt.Errorf("build job request: %w", err))
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return Check{}, retry.Transient(fmt.Errorf("job %s: %w", op.ID, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Check{}, fmt.Errorf("job %s: %w", op.ID, retry.FromResponse(resp))
	}

	var job workerJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return Check{}, retry.Transient(fmt.Errorf("decode job %s: %w", op.ID, err))
	}

	switch strings.ToLower(job.Status) {
	case "finished", "success", "completed", "succeeded":
		if job.Result.ResourceURL == "" {
			return Check{}, retry.Permanent(fmt.Errorf("job %s finished without resource_url", op.ID))
		}
		return Check{Done: true, Artifact: &Artifact{Kind: op.Kind, URL: job.Result.ResourceURL}}, nil
	case "failed", "error":
		msg := job.Error
		if msg == "" {
			msg = "no detail"
		}
		return Check{}, retry.Permanent(fmt.Errorf("worker job %s failed: %s", op.ID, msg))
	default:
		return Check{}, nil
	}
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
