package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressWeights(t *testing.T) {
	segs := func(statuses ...SegmentStatus) []Segment {
		out := make([]Segment, len(statuses))
		for i, st := range statuses {
			out[i] = Segment{ID: i + 1, Status: st}
		}
		return out
	}

	cases := []struct {
		name   string
		stage  Stage
		failed Stage
		segs   []Segment
		want   int
	}{
		{"uploaded", StageUploaded, "", nil, 0},
		{"extracting", StageExtractingStyle, "", nil, 10},
		{"reference", StageGeneratingReferenceAsset, "", nil, 15},
		{"segmenting", StageGeneratingSegments, "", nil, 20},
		{"media none done", StageGeneratingMedia, "", segs(SegmentPending, SegmentPending), 25},
		{"media half", StageGeneratingMedia, "", segs(SegmentCompleted, SegmentGenerating), 60},
		{"media failed counts as done", StageGeneratingMedia, "", segs(SegmentCompleted, SegmentFailed), 95},
		{"completed", StageCompleted, "", segs(SegmentCompleted, SegmentFailed), 100},
		{"failed during segmentation", StageFailed, StageGeneratingSegments, nil, 20},
		{"failed with unknown origin", StageFailed, "", nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Progress(tc.stage, tc.failed, tc.segs))
		})
	}
}

func TestProgressMonotonicThroughRun(t *testing.T) {
	s := NewStory("id", "t", "text")
	last := s.ProgressPercent

	step := func() {
		s.RefreshProgress()
		assert.GreaterOrEqual(t, s.ProgressPercent, last)
		last = s.ProgressPercent
	}

	for _, stage := range []Stage{StageExtractingStyle, StageGeneratingReferenceAsset, StageGeneratingSegments} {
		s.Advance(stage, string(stage))
		step()
	}
	s.Segments = []Segment{{ID: 1, Status: SegmentPending}, {ID: 2, Status: SegmentPending}, {ID: 3, Status: SegmentPending}}
	s.Advance(StageGeneratingMedia, "media")
	step()
	for i := range s.Segments {
		s.Segments[i].Begin("a")
		step()
		if i == 1 {
			s.Segments[i].Fail(errors.New("boom"))
		} else {
			s.Segments[i].Complete()
		}
		step()
	}
	s.Advance(StageCompleted, "done")
	step()
	assert.Equal(t, 100, s.ProgressPercent)
}

func TestStoryFailRemembersStage(t *testing.T) {
	s := NewStory("id", "t", "text")
	s.Advance(StageGeneratingSegments, "segmenting")
	s.Fail(errors.New("llm down"))

	assert.Equal(t, StageFailed, s.Stage)
	assert.Equal(t, StageGeneratingSegments, s.FailedStage)
	assert.Equal(t, "llm down", s.TerminalError)
	assert.Equal(t, WeightGeneratingSegments, s.ProgressPercent)

	view := s.Status()
	assert.Equal(t, "llm down", view.TerminalError)
}

func TestSegmentTransitions(t *testing.T) {
	seg := Segment{ID: 1, Status: SegmentPending}
	seg.Begin("a-1")
	assert.Equal(t, SegmentGenerating, seg.Status)
	seg.SetArtifact(KindImage, "img")
	seg.Fail(errors.New("audio rejected"))
	assert.Equal(t, SegmentFailed, seg.Status)
	assert.Equal(t, "img", seg.Artifact(KindImage))

	seg.Begin("a-2")
	assert.Empty(t, seg.LastError)
	assert.Equal(t, "a-2", seg.AttemptID)
	seg.Complete()
	assert.Equal(t, SegmentCompleted, seg.Status)
}

func TestNormalizeText(t *testing.T) {
	in := "  First line.   \r\nSecond line.\r\n\r\n\r\n\r\nNew paragraph.\n\n\n"
	assert.Equal(t, "First line.\nSecond line.\n\nNew paragraph.", NormalizeText(in))
}

func TestStatusViewChanged(t *testing.T) {
	s := NewStory("id", "t", "text")
	s.Segments = []Segment{{ID: 1, Status: SegmentPending}}
	s.Advance(StageGeneratingMedia, "media")
	before := s.Status()
	assert.False(t, s.Status().Changed(before))

	s.Segments[0].Begin("a")
	assert.True(t, s.Status().Changed(before))
}

func TestStyleSummary(t *testing.T) {
	var nilStyle *StyleDescriptor
	assert.Empty(t, nilStyle.Summary())

	d := &StyleDescriptor{
		Characters:  []Character{{Name: "Mara", VisualTraits: []string{"red coat", "grey hair"}}},
		Setting:     Setting{Location: "coast", Mood: "stormy"},
		VisualStyle: VisualStyle{ArtStyle: "watercolor", Palette: "muted blues"},
	}
	assert.Equal(t, "watercolor, muted blues; setting: coast, stormy; Mara (red coat, grey hair)", d.Summary())
}
