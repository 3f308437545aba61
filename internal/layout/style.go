package layout

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Style holds the geometry and palette used by the engine. Zero fields are
// replaced with defaults by Normalize.
type Style struct {
	BranchOffset      float64           `yaml:"branch_offset"`
	NodeGap           float64           `yaml:"node_gap"`
	DefaultSpacing    float64           `yaml:"default_spacing"`
	MinSeparation     float64           `yaml:"min_separation"`
	ColumnWidth       float64           `yaml:"column_width"`
	WrapLanes         bool              `yaml:"wrap_lanes"`
	StageX            float64           `yaml:"stage_x"`
	StagePadding      float64           `yaml:"stage_padding"`
	MinStageHeight    float64           `yaml:"min_stage_height"`
	ParallelThreshold int               `yaml:"parallel_threshold"`
	MaxParallelLanes  int               `yaml:"max_parallel_lanes"`
	FrameBudget       time.Duration     `yaml:"frame_budget"`
	DefaultColor      string            `yaml:"default_color"`
	PhaseColors       map[string]string `yaml:"phase_colors"`
	PriorityColors    map[string]string `yaml:"priority_colors"`
}

// DefaultStyle returns the built-in style.
func DefaultStyle() Style {
	return Style{
		BranchOffset:      120,
		NodeGap:           40,
		DefaultSpacing:    80,
		MinSeparation:     48,
		ColumnWidth:       220,
		StageX:            40,
		StagePadding:      40,
		MinStageHeight:    160,
		ParallelThreshold: 500,
		MaxParallelLanes:  4,
		FrameBudget:       16 * time.Millisecond,
		DefaultColor:      "#64748b",
		PriorityColors: map[string]string{
			"critical": "#dc2626",
			"high":     "#ea580c",
			"medium":   "#2563eb",
			"low":      "#16a34a",
		},
	}
}

// Normalize fills zero-valued fields from DefaultStyle.
func (s Style) Normalize() Style {
	d := DefaultStyle()
	if s.BranchOffset == 0 {
		s.BranchOffset = d.BranchOffset
	}
	if s.NodeGap == 0 {
		s.NodeGap = d.NodeGap
	}
	if s.DefaultSpacing <= 0 {
		s.DefaultSpacing = d.DefaultSpacing
	}
	if s.MinSeparation <= 0 {
		s.MinSeparation = d.MinSeparation
	}
	if s.ColumnWidth <= 0 {
		s.ColumnWidth = d.ColumnWidth
	}
	if s.StageX == 0 {
		s.StageX = d.StageX
	}
	if s.StagePadding < 0 {
		s.StagePadding = 0
	}
	if s.MinStageHeight <= 0 {
		s.MinStageHeight = d.MinStageHeight
	}
	if s.ParallelThreshold <= 0 {
		s.ParallelThreshold = d.ParallelThreshold
	}
	if s.MaxParallelLanes <= 0 {
		s.MaxParallelLanes = d.MaxParallelLanes
	}
	if s.FrameBudget <= 0 {
		s.FrameBudget = d.FrameBudget
	}
	if s.DefaultColor == "" {
		s.DefaultColor = d.DefaultColor
	}
	if s.PriorityColors == nil {
		s.PriorityColors = d.PriorityColors
	}
	return s
}

// LoadStyle reads a YAML style file on top of DefaultStyle. An empty path
// returns the defaults.
func LoadStyle(path string) (Style, error) {
	s := DefaultStyle()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Style{}, fmt.Errorf("reading style file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Style{}, fmt.Errorf("parsing style file %s: %w", path, err)
	}
	return s.Normalize(), nil
}

// spacing returns the effective vertical distance between stacked items of
// a stage.
func (s Style) spacing(stage float64) float64 {
	sp := stage
	if sp <= 0 {
		sp = s.DefaultSpacing
	}
	if sp < s.MinSeparation {
		sp = s.MinSeparation
	}
	return sp
}

func (s Style) colorFor(phase, priority string) string {
	if c, ok := s.PhaseColors[phase]; ok {
		return c
	}
	if c, ok := s.PriorityColors[priority]; ok {
		return c
	}
	return s.DefaultColor
}
