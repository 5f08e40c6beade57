package routers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlu03/story-to-scene-magic-08/config"
	"github.com/wlu03/story-to-scene-magic-08/logger"
	"github.com/wlu03/story-to-scene-magic-08/models"
	"github.com/wlu03/story-to-scene-magic-08/routers/api"
	"github.com/wlu03/story-to-scene-magic-08/service"
	"github.com/wlu03/story-to-scene-magic-08/service/media"
)

type fakeStories struct {
	mu       sync.Mutex
	stories  map[string]*models.Story
	statuses []models.StatusView
	regenErr error
	prompts  []string
	media    media.Store
}

func (f *fakeStories) Create(ctx context.Context, title, text string) (*models.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := models.NewStory(fmt.Sprintf("story-%d", len(f.stories)+1), title, text)
	f.stories[s.ID] = s
	return s, nil
}

func (f *fakeStories) Get(ctx context.Context, id string) (*models.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrStoryNotFound, id)
	}
	return s, nil
}

func (f *fakeStories) List(ctx context.Context) ([]models.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Story
	for _, s := range f.stories {
		out = append(out, *s)
	}
	return out, nil
}

// Status replays the queued views, then repeats the last one.
func (f *fakeStories) Status(ctx context.Context, id string) (models.StatusView, error) {
	f.mu.Lock()
	if len(f.statuses) > 0 {
		v := f.statuses[0]
		if len(f.statuses) > 1 {
			f.statuses = f.statuses[1:]
		}
		f.mu.Unlock()
		return v, nil
	}
	f.mu.Unlock()
	s, err := f.Get(ctx, id)
	if err != nil {
		return models.StatusView{}, err
	}
	return s.Status(), nil
}

func (f *fakeStories) Resume(ctx context.Context, id string) error {
	s, err := f.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.Stage != models.StageFailed {
		return service.ErrStoryNotFailed
	}
	return nil
}

func (f *fakeStories) Delete(ctx context.Context, id string) error {
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.stories, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeStories) Regenerate(ctx context.Context, id string, segmentID int, prompt string) error {
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.regenErr
}

func (f *fakeStories) OpenArtifact(ctx context.Context, id string, segmentID int, kind models.ArtifactKind) (media.Object, error) {
	s, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	seg := s.Segment(segmentID)
	if seg == nil {
		return nil, service.ErrSegmentNotFound
	}
	loc := seg.Artifact(kind)
	if loc == "" {
		return nil, service.ErrArtifactNotFound
	}
	return f.media.Open(ctx, loc)
}

func newTestRouter(t *testing.T) (*gin.Engine, *fakeStories) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := media.NewFileStore(t.TempDir())
	require.NoError(t, err)
	fake := &fakeStories{stories: make(map[string]*models.Story), media: store}
	h := api.NewHandler(fake, config.UploadConfig{MinChars: 10, MaxChars: 1000}, logger.Discard())
	h.ProgressInterval = 5 * time.Millisecond
	return InitRouter(h, logger.Discard()), fake
}

func do(r http.Handler, method, target, body string, header ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateStory(t *testing.T) {
	r, fake := newTestRouter(t)

	w := do(r, http.MethodPost, "/v1/api/stories", `{"title":" Harbour ","text":"The tide came in over the wall."}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		StoryID string            `json:"story_id"`
		Status  models.StatusView `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.StageUploaded, resp.Status.Stage)
	assert.Equal(t, "Harbour", fake.stories[resp.StoryID].Title)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/v1/api/stories", `{"text":"short"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/v1/api/stories", `{"title":"x"}`).Code)
	long := `{"text":"` + strings.Repeat("a", 1001) + `"}`
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/v1/api/stories", long).Code)
}

func TestStoryReadsAndErrors(t *testing.T) {
	r, fake := newTestRouter(t)
	s := models.NewStory("s1", "One", "some story text here")
	s.Fail(fmt.Errorf("style extraction exhausted retries"))
	fake.stories["s1"] = s

	w := do(r, http.MethodGet, "/v1/api/stories/s1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status models.StatusView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.StageFailed, status.Stage)
	assert.Contains(t, status.TerminalError, "exhausted")

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/api/stories/nope/status", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/v1/api/stories", "").Code)
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/v1/api/stories/s1/resume", "").Code)

	fake.stories["s2"] = models.NewStory("s2", "Two", "another story text")
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/v1/api/stories/s2/resume", "").Code)

	assert.Equal(t, http.StatusOK, do(r, http.MethodDelete, "/v1/api/stories/s2", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/v1/api/stories/s2", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", "").Code)
}

func TestRegenerateSegment(t *testing.T) {
	r, fake := newTestRouter(t)
	fake.stories["s1"] = models.NewStory("s1", "One", "some story text here")

	w := do(r, http.MethodPost, "/v1/api/stories/s1/segments/2/regenerate", `{"prompt":"a red boat"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/v1/api/stories/s1/segments/2/regenerate", "").Code)
	assert.Equal(t, []string{"a red boat", ""}, fake.prompts)

	fake.regenErr = service.ErrSegmentBusy
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/v1/api/stories/s1/segments/2/regenerate", "").Code)
	fake.regenErr = service.ErrSegmentNotReady
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/v1/api/stories/s1/segments/2/regenerate", "").Code)
	fake.regenErr = service.ErrSegmentNotFound
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/v1/api/stories/s1/segments/2/regenerate", "").Code)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/v1/api/stories/s1/segments/zero/regenerate", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/v1/api/stories/nope/segments/1/regenerate", "").Code)
}

func TestSegmentMediaRanges(t *testing.T) {
	r, fake := newTestRouter(t)
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 256)
	}
	loc, err := fake.media.Write(context.Background(), "s1", 1, models.KindVideo, "video/mp4", data)
	require.NoError(t, err)
	s := models.NewStory("s1", "One", "some story text here")
	s.Segments = []models.Segment{{StoryID: "s1", ID: 1, Status: models.SegmentCompleted, Artifacts: models.Artifacts{Video: loc}}}
	fake.stories["s1"] = s

	target := "/v1/api/stories/s1/segments/1/media/video"
	w := do(r, http.MethodGet, target, "", "Range", "bytes=100-199")
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, 100, w.Body.Len())
	assert.True(t, bytes.Equal(data[100:200], w.Body.Bytes()))
	assert.Equal(t, "bytes 100-199/1000", w.Header().Get("Content-Range"))
	assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))

	w = do(r, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1000, w.Body.Len())
	assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/api/stories/s1/segments/1/media/image", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/api/stories/s1/segments/1/media/poster", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/api/stories/s1/segments/7/media/video", "").Code)
}

func TestProgressWebSocket(t *testing.T) {
	r, fake := newTestRouter(t)
	fake.stories["s1"] = models.NewStory("s1", "One", "some story text here")
	fake.statuses = []models.StatusView{
		{StoryID: "s1", Stage: models.StageGeneratingMedia, ProgressPercent: 25},
		{StoryID: "s1", Stage: models.StageGeneratingMedia, ProgressPercent: 25},
		{StoryID: "s1", Stage: models.StageGeneratingMedia, ProgressPercent: 60},
		{StoryID: "s1", Stage: models.StageCompleted, ProgressPercent: 100},
	}

	srv := httptest.NewServer(r)
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/stories/s1/wss", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var got []int
	for {
		var v models.StatusView
		if err := conn.ReadJSON(&v); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
			break
		}
		got = append(got, v.ProgressPercent)
	}
	assert.Equal(t, []int{25, 60, 100}, got)
}
