package models

import (
	"time"
)

type SegmentStatus string

const (
	SegmentPending    SegmentStatus = "pending"
	SegmentGenerating SegmentStatus = "generating"
	SegmentCompleted  SegmentStatus = "completed"
	SegmentFailed     SegmentStatus = "failed"
)

// Done reports whether the segment counts toward media progress.
func (s SegmentStatus) Done() bool {
	return s == SegmentCompleted || s == SegmentFailed
}

type ArtifactKind string

const (
	KindImage     ArtifactKind = "image"
	KindAudio     ArtifactKind = "audio"
	KindVideo     ArtifactKind = "video"
	KindReference ArtifactKind = "reference"
)

func (k ArtifactKind) Valid() bool {
	switch k {
	case KindImage, KindAudio, KindVideo, KindReference:
		return true
	}
	return false
}

// ReferenceSegmentID is the pseudo segment the reference asset is stored under.
const ReferenceSegmentID = 0

// Artifacts holds media store locators; an empty string means not generated.
type Artifacts struct {
	Image string `gorm:"type:varchar(512)" json:"image,omitempty"`
	Audio string `gorm:"type:varchar(512)" json:"audio,omitempty"`
	Video string `gorm:"type:varchar(512)" json:"video,omitempty"`
}

type Segment struct {
	StoryID               string        `gorm:"primaryKey;type:varchar(64)" json:"-"`
	ID                    int           `gorm:"primaryKey;autoIncrement:false" json:"id"`
	SceneDescription      string        `gorm:"type:text" json:"sceneDescription"`
	NarrationText         string        `gorm:"type:text" json:"narrationText"`
	Caption               string        `gorm:"type:varchar(255)" json:"caption"`
	GenerationPrompt      string        `gorm:"type:text" json:"generationPrompt"`
	TargetDurationSeconds int           `json:"targetDurationSeconds"`
	Status                SegmentStatus `gorm:"type:varchar(16)" json:"status"`
	Artifacts             Artifacts     `gorm:"embedded;embeddedPrefix:artifact_" json:"artifacts"`
	LastError             string        `gorm:"type:text" json:"lastError,omitempty"`
	AttemptID             string        `gorm:"type:varchar(64)" json:"attemptId,omitempty"`
	OperationID           string        `gorm:"type:varchar(128)" json:"operationId,omitempty"`
	CreatedAt             time.Time     `json:"createdAt"`
	UpdatedAt             time.Time     `json:"updatedAt"`
}

func (Segment) TableName() string {
	return "segment"
}

// Begin starts a new generation attempt.
func (s *Segment) Begin(attemptID string) {
	s.Status = SegmentGenerating
	s.AttemptID = attemptID
	s.LastError = ""
	s.OperationID = ""
}

func (s *Segment) Complete() {
	s.Status = SegmentCompleted
	s.LastError = ""
	s.OperationID = ""
}

// Fail records the error; artifacts produced earlier in the attempt stay attached.
func (s *Segment) Fail(err error) {
	s.Status = SegmentFailed
	s.LastError = err.Error()
	s.OperationID = ""
}

func (s *Segment) Artifact(kind ArtifactKind) string {
	switch kind {
	case KindImage:
		return s.Artifacts.Image
	case KindAudio:
		return s.Artifacts.Audio
	case KindVideo:
		return s.Artifacts.Video
	}
	return ""
}

func (s *Segment) SetArtifact(kind ArtifactKind, locator string) {
	switch kind {
	case KindImage:
		s.Artifacts.Image = locator
	case KindAudio:
		s.Artifacts.Audio = locator
	case KindVideo:
		s.Artifacts.Video = locator
	}
}
