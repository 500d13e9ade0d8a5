package api

import (
	"time"

	"github.com/starford/folio/internal/checksum"
	"github.com/starford/folio/internal/tracker"
)

// FileItem is a tracked source in API responses.
type FileItem struct {
	Path       string     `json:"path"`
	Checksum   string     `json:"checksum"`
	Tags       []string   `json:"tags"`
	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt *time.Time `json:"modified_at"`
}

// FileListResponse wraps the tracked source listing.
type FileListResponse struct {
	Files []FileItem `json:"files"`
	Total int        `json:"total"`
}

// PruneResponse lists the entries dropped by a prune.
type PruneResponse struct {
	Removed []string `json:"removed"`
}

func fileItem(e tracker.Entry) FileItem {
	item := FileItem{
		Path:      e.Path,
		Checksum:  e.Checksum,
		Tags:      e.Tags,
		CreatedAt: checksum.Time(e.CreatedAt),
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	if e.Modified() {
		t := checksum.Time(e.ModifiedAt)
		item.ModifiedAt = &t
	}
	return item
}
