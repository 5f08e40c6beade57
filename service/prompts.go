package service

import (
	"fmt"
	"strings"

	"github.com/wlu03/story-to-scene-magic-08/models"
)

const styleSystemPrompt = `You analyse short fiction for an illustrator.
Reply with one JSON object and nothing else:
{"characters":[{"name":"","description":"","visualTraits":[""]}],
 "setting":{"location":"","era":"","mood":""},
 "visualStyle":{"artStyle":"","palette":"","cinematography":""}}
Only describe what the text supports. Use short phrases.`

const segmentSystemPrompt = `You split a story into scenes for an illustrated, narrated video.
Reply with one JSON object and nothing else:
{"segments":[{"sceneDescription":"","narration":"","caption":"","prompt":"","durationSeconds":0}]}
Keep the story order. Narration is the text read aloud for the scene, taken from the story.
The prompt describes a single frame for an image model and repeats the visual style and
the look of every character that appears.`

func segmentUserPrompt(text string, style *models.StyleDescriptor, count, duration int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Split the story into exactly %d scenes of about %d seconds each.\n", count, duration)
	if style != nil {
		if summary := style.Summary(); summary != "" {
			fmt.Fprintf(&b, "Visual style: %s\n", summary)
		}
	}
	b.WriteString("\nStory:\n")
	b.WriteString(text)
	return b.String()
}

// referencePrompt asks for a character sheet that later frames imitate.
func referencePrompt(style *models.StyleDescriptor) string {
	if style == nil {
		return ""
	}
	var parts []string
	for _, c := range style.Characters {
		desc := c.Name
		if traits := strings.Join(c.VisualTraits, ", "); traits != "" {
			desc += " (" + traits + ")"
		}
		parts = append(parts, desc)
	}
	subject := "establishing shot of the setting"
	if len(parts) > 0 {
		subject = "character reference sheet of " + strings.Join(parts, " and ")
	}
	if loc := style.Setting.Location; loc != "" {
		subject += ", " + loc
	}
	return subject + ", full body, neutral pose, consistent lighting"
}
