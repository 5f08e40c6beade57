package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/wlu03/story-to-scene-magic-08/models"
	"github.com/wlu03/story-to-scene-magic-08/service/llm"
	"github.com/wlu03/story-to-scene-magic-08/service/retry"
)

type SegmenterConfig struct {
	MinSegments        int
	MaxSegments        int
	WordsPerSegment    int
	DurationSeconds    int
	MaxDurationSeconds int
}

// Segmenter splits a story into ordered scenes through the text model.
type Segmenter struct {
	llm TextCompleter
	cfg SegmenterConfig
	log logrus.FieldLogger
}

func NewSegmenter(llm TextCompleter, cfg SegmenterConfig, log logrus.FieldLogger) *Segmenter {
	if cfg.MinSegments < 1 {
		cfg.MinSegments = 1
	}
	if cfg.MaxSegments < cfg.MinSegments {
		cfg.MaxSegments = cfg.MinSegments
	}
	if cfg.WordsPerSegment < 1 {
		cfg.WordsPerSegment = 120
	}
	if cfg.DurationSeconds < 1 {
		cfg.DurationSeconds = 8
	}
	return &Segmenter{llm: llm, cfg: cfg, log: log.WithField("module", "segmenter")}
}

// TargetCount is the number of scenes asked for: one per WordsPerSegment
// words, clamped to [MinSegments, MaxSegments].
func (s *Segmenter) TargetCount(text string) int {
	n := len(strings.Fields(text)) / s.cfg.WordsPerSegment
	return min(max(n, s.cfg.MinSegments), s.cfg.MaxSegments)
}

type segmentDraft struct {
	SceneDescription string `json:"sceneDescription"`
	Narration        string `json:"narration"`
	Caption          string `json:"caption"`
	Prompt           string `json:"prompt"`
	DurationSeconds  int    `json:"durationSeconds"`
}

// Segment returns pending segments numbered from 1 in story order. Extra
// scenes beyond MaxSegments are folded into the last one.
func (s *Segmenter) Segment(ctx context.Context, storyID, text string, style *models.StyleDescriptor) ([]models.Segment, error) {
	count := s.TargetCount(text)
	content, err := s.llm.CompleteJSON(ctx, segmentSystemPrompt, segmentUserPrompt(text, style, count, s.cfg.DurationSeconds))
	if err != nil {
		return nil, fmt.Errorf("segmentation: %w", err)
	}

	var out struct {
		Segments []segmentDraft `json:"segments"`
	}
	if err := llm.DecodeJSON(content, &out); err != nil {
		return nil, retry.Transient(fmt.Errorf("segmentation: decode: %w", err))
	}

	drafts := make([]segmentDraft, 0, len(out.Segments))
	for _, d := range out.Segments {
		if strings.TrimSpace(d.Narration) == "" && strings.TrimSpace(d.SceneDescription) == "" {
			continue
		}
		drafts = append(drafts, d)
	}
	if len(drafts) == 0 {
		return nil, retry.Transient(errors.New("segmentation: model returned no scenes"))
	}
	if len(drafts) > s.cfg.MaxSegments {
		drafts = fold(drafts, s.cfg.MaxSegments)
	}
	if len(drafts) < s.cfg.MinSegments {
		s.log.WithFields(logrus.Fields{"story_id": storyID, "got": len(drafts), "min": s.cfg.MinSegments}).
			Warn("fewer scenes than requested")
	}

	segments := make([]models.Segment, len(drafts))
	for i, d := range drafts {
		// a scene always needs something to draw
		prompt := firstNonEmpty(d.Prompt, d.SceneDescription, d.Caption, d.Narration)
		segments[i] = models.Segment{
			StoryID:               storyID,
			ID:                    i + 1,
			SceneDescription:      strings.TrimSpace(d.SceneDescription),
			NarrationText:         strings.TrimSpace(d.Narration),
			Caption:               strings.TrimSpace(d.Caption),
			GenerationPrompt:      prompt,
			TargetDurationSeconds: s.duration(d.DurationSeconds),
			Status:                models.SegmentPending,
		}
	}
	return segments, nil
}

func (s *Segmenter) duration(requested int) int {
	if requested < 1 || (s.cfg.MaxDurationSeconds > 0 && requested > s.cfg.MaxDurationSeconds) {
		return s.cfg.DurationSeconds
	}
	return requested
}

// fold keeps limit drafts and merges the overflow into the last kept one.
func fold(drafts []segmentDraft, limit int) []segmentDraft {
	kept := append([]segmentDraft(nil), drafts[:limit]...)
	last := &kept[limit-1]
	for _, d := range drafts[limit:] {
		last.Narration = joinText(last.Narration, d.Narration)
		last.SceneDescription = joinText(last.SceneDescription, d.SceneDescription)
		last.DurationSeconds += d.DurationSeconds
	}
	return kept
}

func joinText(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}
