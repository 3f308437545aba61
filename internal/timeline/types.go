package timeline

import "time"

// FeedItem is a single timeline event or activity tied to a project phase.
// Supplied by upstream providers and never mutated by the layout pipeline.
type FeedItem struct {
	ID        string            `json:"id"`
	Phase     string            `json:"phase"`
	Type      string            `json:"type"`
	Priority  string            `json:"priority"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// StagePosition is the anchor geometry of one phase. Branch connectors are
// rooted at (X, Y); Spacing is the vertical distance between stacked items.
type StagePosition struct {
	Phase   string  `json:"phase"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Height  float64 `json:"height"`
	Spacing float64 `json:"spacing"`
}

// Point is a 2D coordinate in timeline space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PositionedFeed is a FeedItem with the absolute position computed by the
// layout engine. A new generation replaces the previous one wholesale.
type PositionedFeed struct {
	FeedItem
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Column int     `json:"column"`
	Row    int     `json:"row"`
	Anchor Point   `json:"anchor"`
}

// AnimationState tags how the render layer should animate a connector.
type AnimationState string

const (
	AnimationIdle    AnimationState = "idle"
	AnimationDrawing AnimationState = "drawing"
	AnimationPulsing AnimationState = "pulsing"
	AnimationFading  AnimationState = "fading"
)

// Connector is the path between a stage anchor and a positioned feed item.
type Connector struct {
	ID        string         `json:"id"`
	FeedID    string         `json:"feed_id"`
	Phase     string         `json:"phase"`
	Start     Point          `json:"start"`
	End       Point          `json:"end"`
	Path      string         `json:"path"`
	Color     string         `json:"color"`
	Style     string         `json:"style"`
	Animation AnimationState `json:"animation"`
}

// Viewport describes the visible scroll region of the timeline.
type Viewport struct {
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	ScrollTop  float64 `json:"scroll_top"`
	ScrollLeft float64 `json:"scroll_left"`
}

// Phase is a named segment of a project's lifecycle.
type Phase struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// Project is the source data stage anchors are derived from.
type Project struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Phases []Phase `json:"phases"`
}

// FeedIDs returns the ids of feeds in input order.
func FeedIDs(feeds []FeedItem) []string {
	ids := make([]string, len(feeds))
	for i, f := range feeds {
		ids[i] = f.ID
	}
	return ids
}

// PositionedIDs returns the ids of positioned feeds in input order.
func PositionedIDs(feeds []PositionedFeed) []string {
	ids := make([]string, len(feeds))
	for i, f := range feeds {
		ids[i] = f.ID
	}
	return ids
}
