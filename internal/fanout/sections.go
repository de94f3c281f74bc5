// Package fanout generates the long-form description through bounded
// concurrent subsection calls, a deterministic fixed-order merge, and a
// length-driven expansion loop.
package fanout

// Section describes one description subsection. The declared order is
// the merge order, independent of call completion order.
type Section struct {
	ID       string
	Heading  string
	MinRunes int // minimum compressed length for this subsection

	// MaxTokens is the generation budget passed through to the
	// backend.
	MaxTokens int

	// Embodiment subsections share the single 具体实施方式 heading in
	// the merged document.
	Embodiment bool
}

// Sections returns the fixed ordered subsection set.
func Sections() []Section {
	return []Section{
		{ID: "technical-field", Heading: "技术领域", MinRunes: 220, MaxTokens: 1200},
		{ID: "background", Heading: "背景技术", MinRunes: 1600, MaxTokens: 2600},
		{ID: "invention-content", Heading: "发明内容", MinRunes: 2000, MaxTokens: 3000},
		{ID: "drawing-description", Heading: "附图说明", MinRunes: 380, MaxTokens: 1400},
		{ID: "embodiment-1", Heading: "具体实施方式（实施例一）", MinRunes: 3800, MaxTokens: 3600, Embodiment: true},
		{ID: "embodiment-2", Heading: "具体实施方式（实施例二及变体）", MinRunes: 3800, MaxTokens: 3600, Embodiment: true},
	}
}

// EmbodimentHeading is the shared merged heading of the embodiment
// subsections.
const EmbodimentHeading = "具体实施方式"
