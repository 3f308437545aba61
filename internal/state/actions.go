package state

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Invalidator is the part of the result cache that Reset needs.
type Invalidator interface {
	InvalidateAll() int
}

// Actions are the action creators handed to UI consumers.
type Actions struct {
	store *Store
	cache Invalidator
}

// NewActions binds action creators to a store. cache may be nil.
func NewActions(store *Store, cache Invalidator) *Actions {
	return &Actions{store: store, cache: cache}
}

func (a *Actions) Hover(id string)          { a.store.Dispatch(SetHover{ID: id}) }
func (a *Actions) Select(id string)         { a.store.Dispatch(SetSelected{ID: id}) }
func (a *Actions) Expand(id string)         { a.store.Dispatch(SetExpanded{ID: id, Expanded: true}) }
func (a *Actions) Collapse(id string)       { a.store.Dispatch(SetExpanded{ID: id, Expanded: false}) }
func (a *Actions) ToggleExpanded(id string) { a.store.Dispatch(ToggleExpanded{ID: id}) }
func (a *Actions) Scroll(top, left float64) { a.store.Dispatch(SetScroll{Top: top, Left: left}) }
func (a *Actions) SetFilters(f []string)    { a.store.Dispatch(SetFilters{Filters: f}) }
func (a *Actions) ToggleFilter(f string)    { a.store.Dispatch(ToggleFilter{Filter: f}) }
func (a *Actions) SetViewMode(m ViewMode)   { a.store.Dispatch(SetViewMode{Mode: m}) }

// Reset drops every cached result and returns the store to InitialState.
func (a *Actions) Reset() {
	if a.cache != nil {
		a.cache.InvalidateAll()
	}
	a.store.Dispatch(ResetState{})
}

// ActionRequest is the JSON form of a user-facing action.
type ActionRequest struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Expanded *bool    `json:"expanded,omitempty"`
	Top      float64  `json:"top,omitempty"`
	Left     float64  `json:"left,omitempty"`
	Filters  []string `json:"filters,omitempty"`
	Filter   string   `json:"filter,omitempty"`
	Mode     string   `json:"mode,omitempty"`
}

var ErrUnknownAction = errors.New("unknown action")

// DecodeAction parses an ActionRequest. Only interaction actions are
// accepted; computed-layout actions are reserved for the controller.
func DecodeAction(data []byte) (Action, error) {
	var req ActionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decoding action: %w", err)
	}
	return req.Action()
}

// Action converts the request into a typed Action.
func (r ActionRequest) Action() (Action, error) {
	switch r.Type {
	case "set_hover":
		return SetHover{ID: r.ID}, nil
	case "set_selected":
		return SetSelected{ID: r.ID}, nil
	case "set_expanded":
		if r.Expanded == nil {
			return nil, fmt.Errorf("set_expanded: missing expanded")
		}
		return SetExpanded{ID: r.ID, Expanded: *r.Expanded}, nil
	case "toggle_expanded":
		return ToggleExpanded{ID: r.ID}, nil
	case "set_scroll":
		return SetScroll{Top: r.Top, Left: r.Left}, nil
	case "set_filters":
		return SetFilters{Filters: r.Filters}, nil
	case "toggle_filter":
		if r.Filter == "" {
			return nil, fmt.Errorf("toggle_filter: missing filter")
		}
		return ToggleFilter{Filter: r.Filter}, nil
	case "set_view_mode":
		m := ViewMode(r.Mode)
		if !m.Valid() {
			return nil, fmt.Errorf("set_view_mode: invalid mode %q", r.Mode)
		}
		return SetViewMode{Mode: m}, nil
	case "reset_state":
		return ResetState{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, r.Type)
	}
}
