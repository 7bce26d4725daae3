// Package catalog resolves video durations for the progress service.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"
)

var ErrVideoNotFound = errors.New("video not found")

// Catalog answers how long a video is, in whole seconds.
type Catalog interface {
	Duration(ctx context.Context, videoID string) (int, error)
}

// Video is one entry of a seed file.
type Video struct {
	ID              string `yaml:"id"`
	Title           string `yaml:"title,omitempty"`
	DurationSeconds int    `yaml:"duration_seconds"`
}

type seedFile struct {
	Videos []Video `yaml:"videos"`
}

// Static is an immutable in-process catalog.
type Static struct {
	durations map[string]int
}

func NewStatic(videos ...Video) *Static {
	s := &Static{durations: make(map[string]int, len(videos))}
	for _, v := range videos {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			continue
		}
		s.durations[id] = v.DurationSeconds
	}
	return s
}

// ParseYAML reads a document of the form
//
//	videos:
//	  - id: intro-to-go
//	    duration_seconds: 1800
func ParseYAML(data []byte) (*Static, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for i, v := range f.Videos {
		if strings.TrimSpace(v.ID) == "" {
			return nil, fmt.Errorf("parse catalog: video %d has no id", i)
		}
		if v.DurationSeconds < 0 {
			return nil, fmt.Errorf("parse catalog: video %q has negative duration", v.ID)
		}
	}
	return NewStatic(f.Videos...), nil
}

func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseYAML(data)
}

func (s *Static) Duration(_ context.Context, videoID string) (int, error) {
	d, ok := s.durations[videoID]
	if !ok {
		return 0, ErrVideoNotFound
	}
	return d, nil
}

// Postgres reads videos.duration_seconds.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Duration(ctx context.Context, videoID string) (int, error) {
	var d int
	err := p.db.QueryRow(ctx, `SELECT duration_seconds FROM videos WHERE id=$1`, videoID).Scan(&d)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrVideoNotFound
		}
		return 0, fmt.Errorf("video duration: %w", err)
	}
	return d, nil
}

// Chain asks each catalog in order and returns the first hit.
type Chain []Catalog

func (c Chain) Duration(ctx context.Context, videoID string) (int, error) {
	for _, cat := range c {
		d, err := cat.Duration(ctx, videoID)
		if errors.Is(err, ErrVideoNotFound) {
			continue
		}
		return d, err
	}
	return 0, ErrVideoNotFound
}
