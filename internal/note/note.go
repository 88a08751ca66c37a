// Package note defines the typed vault note model and its frontmatter codec.
package note

import "time"

// TimeLayout is the timestamp format used in note frontmatter.
const TimeLayout = "2006-01-02 15:04:05"

// Type enumerates the vault note kinds.
type Type string

const (
	TypeMemory    Type = "memory"
	TypeTask      Type = "task"
	TypeKnowledge Type = "knowledge"
	TypePerson    Type = "person"
	TypeQuickNote Type = "quick-note"
)

// Types lists all valid note types.
var Types = []Type{TypeMemory, TypeTask, TypeKnowledge, TypePerson, TypeQuickNote}

// Importance grades a memory note.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

// Status tracks a task note through its lifecycle.
type Status string

const (
	StatusNotStarted Status = "not-started"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusDeferred   Status = "deferred"
)

// ValidTransition reports whether a task status change is legal.
// completed is terminal; deferred tasks can only be resumed.
func ValidTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusNotStarted:
		return to == StatusInProgress || to == StatusDeferred
	case StatusInProgress:
		return to == StatusCompleted || to == StatusDeferred
	case StatusDeferred:
		return to == StatusInProgress
	default:
		return false
	}
}

// Note is a single vault document: structured frontmatter plus free-text body.
// Type-specific fields are populated only for the matching Type.
type Note struct {
	ID       string    `json:"id"`
	Type     Type      `json:"type"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
	Tags     []string  `json:"tags,omitempty"`
	Related  []string  `json:"related,omitempty"`
	Body     string    `json:"body"`

	// memory
	People     []string   `json:"people,omitempty"`
	Location   string     `json:"location,omitempty"`
	Importance Importance `json:"importance,omitempty"`

	// task
	Due      *time.Time `json:"due,omitempty"`
	Status   Status     `json:"status,omitempty"`
	Priority string     `json:"priority,omitempty"`
	Assigned string     `json:"assigned,omitempty"`

	// person
	Relationship string     `json:"relationship,omitempty"`
	LastContact  *time.Time `json:"last_contact,omitempty"`

	// quick-note
	Color       string `json:"color,omitempty"`
	Pinned      bool   `json:"pinned,omitempty"`
	Archived    bool   `json:"archived,omitempty"`
	DisplayMode string `json:"display_mode,omitempty"`
}

// Clone returns a deep copy of the note.
func (n *Note) Clone() *Note {
	c := *n
	c.Tags = append([]string(nil), n.Tags...)
	c.Related = append([]string(nil), n.Related...)
	c.People = append([]string(nil), n.People...)
	if n.Due != nil {
		due := *n.Due
		c.Due = &due
	}
	if n.LastContact != nil {
		lc := *n.LastContact
		c.LastContact = &lc
	}
	return &c
}
