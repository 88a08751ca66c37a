package note

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kekehq/keke/internal/apperr"
)

const delim = "---"

// frontmatter mirrors the on-disk key/value header. Timestamps are kept as
// strings so the vault layout stays byte-compatible with existing notes.
type frontmatter struct {
	Type        string   `yaml:"type"`
	Created     string   `yaml:"created"`
	Modified    string   `yaml:"modified"`
	Tags        []string `yaml:"tags,omitempty"`
	Related     []string `yaml:"related,omitempty"`
	People      []string `yaml:"people,omitempty"`
	Location    string   `yaml:"location,omitempty"`
	Importance  string   `yaml:"importance,omitempty"`
	Due         string   `yaml:"due,omitempty"`
	Status      string   `yaml:"status,omitempty"`
	Priority    string   `yaml:"priority,omitempty"`
	Assigned    string   `yaml:"assigned,omitempty"`
	Relation    string   `yaml:"relationship,omitempty"`
	LastContact string   `yaml:"last_contact,omitempty"`
	Color       string   `yaml:"color,omitempty"`
	Pinned      *bool    `yaml:"pinned,omitempty"`
	Archived    *bool    `yaml:"archived,omitempty"`
	DisplayMode string   `yaml:"display_mode,omitempty"`
}

// Parse decodes a raw vault document into a Note. The note ID is not part of
// the document; callers derive it from the file path.
func Parse(data []byte) (*Note, error) {
	block, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("%w: missing frontmatter header", apperr.ErrValidation)
	}

	var fm frontmatter
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, fmt.Errorf("%w: parse frontmatter: %v", apperr.ErrValidation, err)
	}

	n := &Note{
		Type:         Type(fm.Type),
		Tags:         fm.Tags,
		Related:      fm.Related,
		Body:         body,
		People:       fm.People,
		Location:     fm.Location,
		Importance:   Importance(fm.Importance),
		Status:       Status(fm.Status),
		Priority:     fm.Priority,
		Assigned:     fm.Assigned,
		Relationship: fm.Relation,
		Color:        fm.Color,
		DisplayMode:  fm.DisplayMode,
	}
	if fm.Pinned != nil {
		n.Pinned = *fm.Pinned
	}
	if fm.Archived != nil {
		n.Archived = *fm.Archived
	}

	if n.Created, err = parseTime(fm.Created); err != nil {
		return nil, fmt.Errorf("%w: created: %v", apperr.ErrValidation, err)
	}
	if n.Modified, err = parseTime(fm.Modified); err != nil {
		return nil, fmt.Errorf("%w: modified: %v", apperr.ErrValidation, err)
	}
	if fm.Due != "" {
		due, err := parseTime(fm.Due)
		if err != nil {
			return nil, fmt.Errorf("%w: due: %v", apperr.ErrValidation, err)
		}
		n.Due = &due
	}
	if fm.LastContact != "" {
		lc, err := parseTime(fm.LastContact)
		if err != nil {
			return nil, fmt.Errorf("%w: last_contact: %v", apperr.ErrValidation, err)
		}
		n.LastContact = &lc
	}
	return n, nil
}

// Render encodes the note as frontmatter plus body, the inverse of Parse.
func (n *Note) Render() ([]byte, error) {
	fm := frontmatter{
		Type:        string(n.Type),
		Created:     n.Created.Format(TimeLayout),
		Modified:    n.Modified.Format(TimeLayout),
		Tags:        n.Tags,
		Related:     n.Related,
		People:      n.People,
		Location:    n.Location,
		Importance:  string(n.Importance),
		Status:      string(n.Status),
		Priority:    n.Priority,
		Assigned:    n.Assigned,
		Relation:    n.Relationship,
		Color:       n.Color,
		DisplayMode: n.DisplayMode,
	}
	if n.Due != nil {
		fm.Due = n.Due.Format(TimeLayout)
	}
	if n.LastContact != nil {
		fm.LastContact = n.LastContact.Format(TimeLayout)
	}
	// Booleans are written only for quick-notes so other types keep a
	// minimal header.
	if n.Type == TypeQuickNote {
		pinned, archived := n.Pinned, n.Archived
		fm.Pinned = &pinned
		fm.Archived = &archived
	}

	block, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("marshal frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(delim + "\n")
	buf.Write(block)
	buf.WriteString(delim + "\n")
	if n.Body != "" {
		buf.WriteString("\n")
		buf.WriteString(strings.TrimLeft(n.Body, "\n"))
		if !strings.HasSuffix(n.Body, "\n") {
			buf.WriteString("\n")
		}
	}
	return buf.Bytes(), nil
}

// splitFrontmatter separates the YAML header (between leading --- delimiters)
// from the body. A missing header yields a nil block.
func splitFrontmatter(data []byte) ([]byte, string, error) {
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), nil
	}
	block := rest[:idx]
	after := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(after), "\n\r")
	return block, body, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	if t, err := time.ParseInLocation(TimeLayout, s, time.Local); err == nil {
		return t, nil
	}
	// Legacy notes may carry RFC3339 timestamps.
	return time.Parse(time.RFC3339, s)
}
