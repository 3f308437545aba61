package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type Project struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type Phase struct {
	ID        string
	ProjectID string
	Name      string
	Order     int
}

type FeedItem struct {
	ID        string
	ProjectID string
	Phase     string
	Type      string
	Priority  string
	Status    string
	Metadata  string // JSON object stored as text
	CreatedAt time.Time
	UpdatedAt time.Time
}
