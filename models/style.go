package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

type Character struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	VisualTraits []string `json:"visualTraits"`
}

type Setting struct {
	Location string `json:"location"`
	Era      string `json:"era"`
	Mood     string `json:"mood"`
}

type VisualStyle struct {
	ArtStyle       string `json:"artStyle"`
	Palette        string `json:"palette"`
	Cinematography string `json:"cinematography"`
}

// StyleDescriptor is set once by style extraction and read by every later stage.
type StyleDescriptor struct {
	Characters  []Character `json:"characters"`
	Setting     Setting     `json:"setting"`
	VisualStyle VisualStyle `json:"visualStyle"`
}

// Value stores the descriptor as a JSON column.
func (d StyleDescriptor) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *StyleDescriptor) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("style descriptor: unsupported column type %T", value)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}

// Summary renders the descriptor as a compact prompt fragment.
func (d *StyleDescriptor) Summary() string {
	if d == nil {
		return ""
	}
	var parts []string
	if v := d.VisualStyle; v.ArtStyle != "" || v.Palette != "" || v.Cinematography != "" {
		parts = append(parts, joinNonEmpty(", ", v.ArtStyle, v.Palette, v.Cinematography))
	}
	if s := d.Setting; s.Location != "" || s.Era != "" || s.Mood != "" {
		parts = append(parts, "setting: "+joinNonEmpty(", ", s.Location, s.Era, s.Mood))
	}
	for _, c := range d.Characters {
		desc := c.Name
		if len(c.VisualTraits) > 0 {
			desc += " (" + strings.Join(c.VisualTraits, ", ") + ")"
		}
		parts = append(parts, desc)
	}
	return strings.Join(parts, "; ")
}

func joinNonEmpty(sep string, values ...string) string {
	out := values[:0:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, sep)
}
