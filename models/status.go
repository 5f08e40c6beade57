package models

// SegmentStatusView is one row of the status endpoint.
type SegmentStatusView struct {
	ID        int           `json:"id"`
	Status    SegmentStatus `json:"status"`
	LastError string        `json:"lastError,omitempty"`
}

// StatusView is what polling clients see; it is built from persisted state only.
type StatusView struct {
	StoryID         string              `json:"storyId"`
	Stage           Stage               `json:"stage"`
	ProgressPercent int                 `json:"progressPercent"`
	CurrentStep     string              `json:"currentStepDescription"`
	Segments        []SegmentStatusView `json:"segments"`
	TerminalError   string              `json:"terminalError,omitempty"`
}

func (s *Story) Status() StatusView {
	view := StatusView{
		StoryID:         s.ID,
		Stage:           s.Stage,
		ProgressPercent: Progress(s.Stage, s.FailedStage, s.Segments),
		CurrentStep:     s.CurrentStep,
		Segments:        make([]SegmentStatusView, 0, len(s.Segments)),
	}
	if s.Stage == StageFailed {
		view.TerminalError = s.TerminalError
	}
	for _, seg := range s.Segments {
		view.Segments = append(view.Segments, SegmentStatusView{
			ID:        seg.ID,
			Status:    seg.Status,
			LastError: seg.LastError,
		})
	}
	return view
}

// Changed reports whether a push-worthy field differs between two views.
func (v StatusView) Changed(prev StatusView) bool {
	if v.Stage != prev.Stage || v.ProgressPercent != prev.ProgressPercent ||
		v.CurrentStep != prev.CurrentStep || len(v.Segments) != len(prev.Segments) {
		return true
	}
	for i := range v.Segments {
		if v.Segments[i] != prev.Segments[i] {
			return true
		}
	}
	return false
}
