package builder

import (
	"slices"
	"sort"

	"github.com/starford/folio/internal/models"
)

// Link sorts pages newest first (ties by name) and sets the sibling
// indices: Previous is the next older page, Next the next newer one.
func Link(pages []*models.Page) {
	sort.SliceStable(pages, func(i, j int) bool {
		if pages[i].CTimestamp != pages[j].CTimestamp {
			return pages[i].CTimestamp > pages[j].CTimestamp
		}
		return pages[i].Name < pages[j].Name
	})
	for i, p := range pages {
		p.Next, p.Previous = -1, -1
		if i > 0 {
			p.Next = i - 1
		}
		if i+1 < len(pages) {
			p.Previous = i + 1
		}
	}
}

// DistinctTags returns the sorted set of tag names used by pages.
func DistinctTags(pages []*models.Page) []string {
	var tags []string
	for _, p := range pages {
		for _, t := range p.Tags {
			if !slices.Contains(tags, t.Name) {
				tags = append(tags, t.Name)
			}
		}
	}
	slices.Sort(tags)
	return tags
}
