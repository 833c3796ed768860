package textgen

import "maps"

// Generation holds one unit (or the running total) of generated text
// plus auxiliary response fields the core treats as opaque.
type Generation struct {
	Text string
	Meta map[string]any
}

// NewGeneration builds a generation result owning its own meta map.
func NewGeneration(text string, meta map[string]any) *Generation {
	return &Generation{Text: text, Meta: maps.Clone(meta)}
}

// Merge folds another chunk into g: text is appended, meta keys are
// overwritten last-write-wins. Chunks must be merged in arrival order.
func (g *Generation) Merge(other *Generation) {
	if other == nil {
		return
	}
	g.Text += other.Text
	if len(other.Meta) == 0 {
		return
	}
	if g.Meta == nil {
		g.Meta = make(map[string]any, len(other.Meta))
	}
	maps.Copy(g.Meta, other.Meta)
}

// PlainText returns the accumulated text.
func (g *Generation) PlainText() string {
	return g.Text
}

// GenerationSnapshot is the persisted form of a generation result.
type GenerationSnapshot struct {
	Text string         `json:"text"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Snapshot captures the current fields for state transfer.
func (g *Generation) Snapshot() GenerationSnapshot {
	return GenerationSnapshot{Text: g.Text, Meta: maps.Clone(g.Meta)}
}

// RestoreSnapshot replaces the fields wholesale from a snapshot.
func (g *Generation) RestoreSnapshot(snap GenerationSnapshot) {
	g.Text = snap.Text
	g.Meta = maps.Clone(snap.Meta)
}
