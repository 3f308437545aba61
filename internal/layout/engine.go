package layout

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/branchline/internal/timeline"
)

// connectorNamespace seeds the name-based connector ids so identical inputs
// produce identical ids.
var connectorNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("branchline:connector"))

// Metrics describes a single layout calculation.
type Metrics struct {
	CalculationTime time.Duration `json:"calculation_time"`
	TotalNodes      int           `json:"total_nodes"`
	AdjustedNodes   int           `json:"adjusted_nodes"`
	StackedNodes    int           `json:"stacked_nodes"`
}

// Result is the output of one layout run. PositionedFeeds and Connectors
// share an order: ascending Y, then X, then feed id.
type Result struct {
	PositionedFeeds []timeline.PositionedFeed `json:"positioned_feeds"`
	Connectors      []timeline.Connector      `json:"connectors"`
	Metrics         Metrics                   `json:"metrics"`
}

// Engine computes node positions and branch connectors. It holds no state
// between calls and is safe for concurrent use.
type Engine struct {
	style  Style
	logger *slog.Logger
}

// NewEngine creates an Engine with the given style (normalized).
func NewEngine(style Style) *Engine {
	return &Engine{
		style:  style.Normalize(),
		logger: slog.Default(),
	}
}

// Style returns the engine's effective style.
func (e *Engine) Style() Style {
	return e.style
}

type lane struct {
	stage timeline.StagePosition
	items []timeline.FeedItem
}

type laneResult struct {
	placed  []timeline.PositionedFeed
	stacked int
}

// Calculate positions feeds against their stage anchors.
//
// Feeds referencing an unknown phase, and repeated feed ids, are skipped and
// counted in Metrics.AdjustedNodes. Of several feeds sharing an id, the one
// ordered first by (CreatedAt, Phase, content) is kept, whatever the input
// order. Within a phase, items are ordered by
// (CreatedAt, ID) and stacked downward from the anchor; with WrapLanes set
// and a positive viewportHeight, a lane wraps into extra columns instead of
// growing past the viewport.
func (e *Engine) Calculate(ctx context.Context, feeds []timeline.FeedItem, stages map[string]timeline.StagePosition, viewportHeight float64) (Result, error) {
	start := time.Now()

	kept := make(map[string]timeline.FeedItem, len(feeds))
	adjusted := 0
	for _, f := range feeds {
		if _, ok := stages[f.Phase]; !ok {
			adjusted++
			continue
		}
		if cur, dup := kept[f.ID]; dup {
			adjusted++
			if precedes(f, cur) {
				kept[f.ID] = f
			}
			continue
		}
		kept[f.ID] = f
	}
	byPhase := make(map[string][]timeline.FeedItem)
	for _, f := range kept {
		byPhase[f.Phase] = append(byPhase[f.Phase], f)
	}
	if adjusted > 0 {
		e.logger.Debug("layout skipped feeds", "adjusted", adjusted, "total", len(feeds))
	}

	phases := make([]string, 0, len(byPhase))
	for p := range byPhase {
		phases = append(phases, p)
	}
	sort.Strings(phases)

	lanes := make([]lane, len(phases))
	for i, p := range phases {
		lanes[i] = lane{stage: stages[p], items: byPhase[p]}
	}

	results := make([]laneResult, len(lanes))
	if len(feeds) > e.style.ParallelThreshold && len(lanes) > 1 {
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(e.style.MaxParallelLanes)
		for i := range lanes {
			i := i
			g.Go(func() error {
				if err := gCtx.Err(); err != nil {
					return err
				}
				results[i] = e.placeLane(lanes[i], viewportHeight)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Result{}, fmt.Errorf("placing lanes: %w", err)
		}
	} else {
		for i := range lanes {
			if err := ctx.Err(); err != nil {
				return Result{}, fmt.Errorf("placing lanes: %w", err)
			}
			results[i] = e.placeLane(lanes[i], viewportHeight)
		}
	}

	positioned := make([]timeline.PositionedFeed, 0, len(kept))
	stacked := 0
	for _, r := range results {
		positioned = append(positioned, r.placed...)
		stacked += r.stacked
	}
	sort.SliceStable(positioned, func(i, j int) bool {
		a, b := positioned[i], positioned[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.ID < b.ID
	})

	connectors := make([]timeline.Connector, len(positioned))
	for i, pf := range positioned {
		connectors[i] = e.connector(pf)
	}

	elapsed := time.Since(start)
	if elapsed > e.style.FrameBudget {
		e.logger.Warn("layout exceeded frame budget",
			"duration", elapsed,
			"budget", e.style.FrameBudget,
			"feeds", len(feeds),
		)
	}

	return Result{
		PositionedFeeds: positioned,
		Connectors:      connectors,
		Metrics: Metrics{
			CalculationTime: elapsed,
			TotalNodes:      len(feeds),
			AdjustedNodes:   adjusted,
			StackedNodes:    stacked,
		},
	}, nil
}

func (e *Engine) placeLane(l lane, viewportHeight float64) laneResult {
	items := make([]timeline.FeedItem, len(l.items))
	copy(items, l.items)
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})

	spacing := e.style.spacing(l.stage.Spacing)
	perColumn := len(items)
	if e.style.WrapLanes && viewportHeight > 0 {
		perColumn = int((viewportHeight - e.style.NodeGap) / spacing)
		if perColumn < 1 {
			perColumn = 1
		}
	}

	anchor := timeline.Point{X: l.stage.X, Y: l.stage.Y}
	out := laneResult{placed: make([]timeline.PositionedFeed, len(items))}
	for k, it := range items {
		col, row := 0, k
		if perColumn > 0 {
			col, row = k/perColumn, k%perColumn
		}
		out.placed[k] = timeline.PositionedFeed{
			FeedItem: it,
			X:        l.stage.X + e.style.BranchOffset + float64(col)*e.style.ColumnWidth,
			Y:        l.stage.Y + e.style.NodeGap + float64(row)*spacing,
			Column:   col,
			Row:      row,
			Anchor:   anchor,
		}
		if k > 0 {
			out.stacked++
		}
	}
	return out
}

// precedes orders feeds sharing an id.
func precedes(a, b timeline.FeedItem) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if a.Phase != b.Phase {
		return a.Phase < b.Phase
	}
	return contentKey(a) < contentKey(b)
}

func contentKey(f timeline.FeedItem) string {
	keys := make([]string, 0, len(f.Metadata))
	for k := range f.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(f.Type + "\x00" + f.Priority + "\x00" + f.Status)
	for _, k := range keys {
		b.WriteString("\x00" + k + "=" + f.Metadata[k])
	}
	return b.String()
}

func (e *Engine) connector(pf timeline.PositionedFeed) timeline.Connector {
	start := pf.Anchor
	end := timeline.Point{X: pf.X, Y: pf.Y}
	return timeline.Connector{
		ID:        uuid.NewSHA1(connectorNamespace, []byte(pf.Phase+"/"+pf.ID)).String(),
		FeedID:    pf.ID,
		Phase:     pf.Phase,
		Start:     start,
		End:       end,
		Path:      BranchPath(start, end),
		Color:     e.style.colorFor(pf.Phase, strings.ToLower(pf.Priority)),
		Style:     strokeStyle(pf.Status),
		Animation: animationFor(pf.FeedItem),
	}
}

// BranchPath returns the SVG path data of a horizontal cubic branch from
// start to end.
func BranchPath(start, end timeline.Point) string {
	mx := start.X + (end.X-start.X)/2
	return fmt.Sprintf("M%.2f,%.2f C%.2f,%.2f %.2f,%.2f %.2f,%.2f",
		start.X, start.Y, mx, start.Y, mx, end.Y, end.X, end.Y)
}

func strokeStyle(status string) string {
	switch strings.ToLower(status) {
	case "done", "completed":
		return "solid"
	default:
		return "dashed"
	}
}

func animationFor(f timeline.FeedItem) timeline.AnimationState {
	switch strings.ToLower(f.Status) {
	case "archived", "cancelled":
		return timeline.AnimationFading
	case "new":
		return timeline.AnimationDrawing
	}
	switch strings.ToLower(f.Priority) {
	case "high", "critical":
		return timeline.AnimationPulsing
	}
	return timeline.AnimationIdle
}
