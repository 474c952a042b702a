package flow

import "strings"

// PropertyForm is the structured sell or rent-out submission the widget
// collects in place of free text.
type PropertyForm struct {
	Location  string `json:"location"`
	Type      string `json:"type"`
	Price     string `json:"price"`
	Amenities string `json:"amenities"`
	Notes     string `json:"notes"`
}

// Summary renders the form as the [PROPERTY] key-value message recorded
// on the visitor's behalf. Blank amenities and notes are omitted.
func (f PropertyForm) Summary() string {
	lines := []string{
		"Location: " + strings.TrimSpace(f.Location),
		"Type: " + strings.TrimSpace(f.Type),
		"Price: " + strings.TrimSpace(f.Price),
	}
	if a := strings.TrimSpace(f.Amenities); a != "" {
		lines = append(lines, "Amenities: "+a)
	}
	if n := strings.TrimSpace(f.Notes); n != "" {
		lines = append(lines, "Notes: "+n)
	}
	return "[PROPERTY]\n" + strings.Join(lines, "\n") + "\n[/PROPERTY]"
}
