package models

// Stage weights. The media stage spreads MediaWeightPool across its segments,
// so generating_media runs from 25 to 95 before completion jumps to 100.
const (
	WeightUploaded                 = 0
	WeightExtractingStyle          = 10
	WeightGeneratingReferenceAsset = 15
	WeightGeneratingSegments       = 20
	WeightGeneratingMedia          = 25
	MediaWeightPool                = 70
	WeightCompleted                = 100
)

var stageWeights = map[Stage]int{
	StageUploaded:                 WeightUploaded,
	StageExtractingStyle:          WeightExtractingStyle,
	StageGeneratingReferenceAsset: WeightGeneratingReferenceAsset,
	StageGeneratingSegments:       WeightGeneratingSegments,
	StageGeneratingMedia:          WeightGeneratingMedia,
	StageCompleted:                WeightCompleted,
}

// Progress derives the story percentage. A failed story reports the
// percentage of the stage it failed in.
func Progress(stage, failedStage Stage, segments []Segment) int {
	if stage == StageFailed {
		stage = failedStage
	}
	base, ok := stageWeights[stage]
	if !ok {
		return 0
	}
	if stage == StageGeneratingMedia && len(segments) > 0 {
		base += MediaWeightPool * doneCount(segments) / len(segments)
	}
	return base
}

func doneCount(segments []Segment) int {
	n := 0
	for _, seg := range segments {
		if seg.Status.Done() {
			n++
		}
	}
	return n
}
