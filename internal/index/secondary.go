package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/kekehq/keke/internal/note"
	"github.com/kekehq/keke/internal/vault"
)

// The indexer is the sole writer of the derived index documents under
// _meta/; consumers (UI, search) read these files and nothing else.
const (
	tagIndexFile      = "tags.json"
	linkIndexFile     = "links.json"
	timelineIndexFile = "timeline.json"
)

var wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)

type tagIndex struct {
	Tags map[string][]string `json:"tags"` // tag -> note ids
}

type linkIndex struct {
	Links map[string][]string `json:"links"` // note id -> referenced note ids
}

type timelineIndex struct {
	Days map[string][]string `json:"days"` // YYYY-MM-DD -> note ids by creation
}

// WriteSecondary rebuilds the tag, link, and timeline index documents from
// the current vault contents and writes each atomically.
func (ix *Indexer) WriteSecondary(ctx context.Context) error {
	tags := tagIndex{Tags: make(map[string][]string)}
	links := linkIndex{Links: make(map[string][]string)}
	timeline := timelineIndex{Days: make(map[string][]string)}

	err := ix.vault.Walk(ctx, "", vault.Filter{}, func(n *note.Note) bool {
		for _, tag := range n.Tags {
			tags.Tags[tag] = append(tags.Tags[tag], n.ID)
		}

		refs := append([]string(nil), n.Related...)
		for _, m := range wikilinkRe.FindAllStringSubmatch(n.Body, -1) {
			if target := m[1]; target != "" {
				refs = append(refs, target)
			}
		}
		if len(refs) > 0 {
			links.Links[n.ID] = dedupe(refs)
		}

		day := n.Created.Format("2006-01-02")
		timeline.Days[day] = append(timeline.Days[day], n.ID)
		return true
	})
	if err != nil {
		return fmt.Errorf("scan vault for secondary indexes: %w", err)
	}

	for _, ids := range tags.Tags {
		sort.Strings(ids)
	}
	for _, ids := range timeline.Days {
		sort.Strings(ids)
	}

	metaDir := filepath.Join(ix.vault.Root(), vault.MetaDir)
	for name, doc := range map[string]any{
		tagIndexFile:      tags,
		linkIndexFile:     links,
		timelineIndexFile: timeline,
	} {
		if err := writeJSON(filepath.Join(metaDir, name), doc); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func writeJSON(path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".idx-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
