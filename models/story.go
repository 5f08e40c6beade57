package models

import (
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Stage is the story-level pipeline phase.
type Stage string

const (
	StageUploaded                 Stage = "uploaded"
	StageExtractingStyle          Stage = "extracting_style"
	StageGeneratingReferenceAsset Stage = "generating_reference_asset"
	StageGeneratingSegments       Stage = "generating_segments"
	StageGeneratingMedia          Stage = "generating_media"
	StageCompleted                Stage = "completed"
	StageFailed                   Stage = "failed"
)

// Terminal reports whether the pipeline has nothing more to do for the stage.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

func (s Stage) Valid() bool {
	switch s {
	case StageUploaded, StageExtractingStyle, StageGeneratingReferenceAsset,
		StageGeneratingSegments, StageGeneratingMedia, StageCompleted, StageFailed:
		return true
	}
	return false
}

type Story struct {
	ID               string           `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title            string           `gorm:"type:varchar(255)" json:"title"`
	SourceText       string           `gorm:"type:longtext" json:"sourceText"`
	Style            *StyleDescriptor `gorm:"type:json" json:"styleDescriptor,omitempty"`
	Segments         []Segment        `gorm:"foreignKey:StoryID;references:ID;constraint:OnDelete:CASCADE" json:"segments"`
	Stage            Stage            `gorm:"type:varchar(32);index" json:"stage"`
	FailedStage      Stage            `gorm:"type:varchar(32)" json:"failedStage,omitempty"`
	ProgressPercent  int              `json:"progressPercent"`
	CurrentStep      string           `gorm:"type:varchar(255)" json:"currentStepDescription"`
	TerminalError    string           `gorm:"type:text" json:"terminalError,omitempty"`
	ReferenceLocator string           `gorm:"type:varchar(512)" json:"referenceLocator,omitempty"`
	CreatedAt        time.Time        `gorm:"index" json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

func (Story) TableName() string {
	return "story"
}

// BeforeSave keeps the stored percentage a function of the stage and the
// segment statuses; callers never set it directly.
func (s *Story) BeforeSave(tx *gorm.DB) error {
	s.RefreshProgress()
	return nil
}

func (s *Story) RefreshProgress() {
	s.ProgressPercent = Progress(s.Stage, s.FailedStage, s.Segments)
}

// NewStory builds a freshly uploaded story.
func NewStory(id, title, text string) *Story {
	s := &Story{
		ID:          id,
		Title:       strings.TrimSpace(title),
		SourceText:  NormalizeText(text),
		Stage:       StageUploaded,
		CurrentStep: "Queued for processing",
	}
	s.RefreshProgress()
	return s
}

// Advance moves the story to the next stage and records the step text.
func (s *Story) Advance(stage Stage, step string) {
	s.Stage = stage
	s.CurrentStep = step
	s.RefreshProgress()
}

// Fail marks the story terminally failed, remembering where it stopped.
func (s *Story) Fail(err error) {
	if s.Stage != StageFailed {
		s.FailedStage = s.Stage
	}
	s.Stage = StageFailed
	s.TerminalError = err.Error()
	s.CurrentStep = "Failed during " + string(s.FailedStage)
	s.RefreshProgress()
}

// Segment returns the segment with the given id, or nil.
func (s *Story) Segment(id int) *Segment {
	for i := range s.Segments {
		if s.Segments[i].ID == id {
			return &s.Segments[i]
		}
	}
	return nil
}

// SegmentCounts returns how many segments are done (completed or failed) and the total.
func (s *Story) SegmentCounts() (done, total int) {
	return doneCount(s.Segments), len(s.Segments)
}

var (
	blankRuns     = regexp.MustCompile(`\n{3,}`)
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
)

// NormalizeText trims the text, converts CRLF to LF and collapses runs of
// blank lines to one.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
