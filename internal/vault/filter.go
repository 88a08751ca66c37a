package vault

import (
	"time"

	"github.com/kekehq/keke/internal/note"
)

// Filter is a predicate over note metadata. Zero value matches everything.
type Filter struct {
	Tags            []string // note must carry every listed tag
	Status          note.Status
	Importance      note.Importance
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
	ModifiedAfter   *time.Time
	ExcludeArchived bool
}

// Matches reports whether the note satisfies every set predicate.
func (f Filter) Matches(n *note.Note) bool {
	for _, want := range f.Tags {
		found := false
		for _, have := range n.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	if f.Importance != "" && n.Importance != f.Importance {
		return false
	}
	if f.CreatedAfter != nil && !n.Created.After(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !n.Created.Before(*f.CreatedBefore) {
		return false
	}
	if f.ModifiedAfter != nil && !n.Modified.After(*f.ModifiedAfter) {
		return false
	}
	if f.ExcludeArchived && n.Archived {
		return false
	}
	return true
}
