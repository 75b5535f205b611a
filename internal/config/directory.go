package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"notionsync/internal/domain"
	"notionsync/internal/etl"
)

// ── Collection directory ───────────────────────────────────
// The directory lists every known source collection, its destination table
// and whether it is replicated. Files written by earlier tooling use
// "supabase_table" and "replication"; both spellings are accepted.

type collectionEntry struct {
	ID          string                  `json:"id" yaml:"id"`
	Name        string                  `json:"name,omitempty" yaml:"name,omitempty"`
	Table       string                  `json:"table,omitempty" yaml:"table,omitempty"`
	LegacyTable string                  `json:"supabase_table,omitempty" yaml:"supabase_table,omitempty"`
	Replicate   *bool                   `json:"replicate,omitempty" yaml:"replicate,omitempty"`
	Replication *bool                   `json:"replication,omitempty" yaml:"replication,omitempty"`
	Transforms  []domain.FieldTransform `json:"transforms,omitempty" yaml:"transforms,omitempty"`
}

func (e collectionEntry) collection() domain.Collection {
	c := domain.Collection{ID: e.ID, Name: e.Name, Table: e.Table, Transforms: e.Transforms}
	if c.Table == "" {
		c.Table = e.LegacyTable
	}
	switch {
	case e.Replicate != nil:
		c.Replicate = *e.Replicate
	case e.Replication != nil:
		c.Replicate = *e.Replication
	}
	return c
}

// LoadCollections reads and validates a collection directory file.
func LoadCollections(path string) ([]domain.Collection, error) {
	var entries []collectionEntry
	if err := decodeFile(path, &entries); err != nil {
		return nil, err
	}

	out := make([]domain.Collection, 0, len(entries))
	tables := make(map[string]string)
	for i, e := range entries {
		c := e.collection()
		if strings.TrimSpace(c.ID) == "" {
			return nil, fmt.Errorf("%s: entry %d has no id", path, i)
		}
		if c.Replicate {
			if c.Table == "" {
				return nil, fmt.Errorf("%s: collection %s is replicated but has no table", path, c.ID)
			}
			if c.Table != etl.NormalizeIdentifier(c.Table) {
				return nil, fmt.Errorf("%s: table name %q is not a plain identifier", path, c.Table)
			}
			if other, dup := tables[c.Table]; dup {
				return nil, fmt.Errorf("%s: table %s is used by %s and %s", path, c.Table, other, c.ID)
			}
			tables[c.Table] = c.ID
		}
		if _, err := etl.BuildTransformers(c.Transforms); err != nil {
			return nil, fmt.Errorf("%s: collection %s: %w", path, c.ID, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// SaveCollections writes the directory sorted by name, in the format chosen
// by the file extension.
func SaveCollections(path string, collections []domain.Collection) error {
	sorted := append([]domain.Collection(nil), collections...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Name) < strings.ToLower(sorted[j].Name)
	})
	return encodeFile(path, sorted)
}

// MergeStats reports what a directory merge changed.
type MergeStats struct {
	New     []string `json:"new"`
	Renamed []string `json:"renamed"`
	Deleted []string `json:"deleted"`
	Total   int      `json:"total"`
}

// MergeCollections folds freshly discovered collections into an existing
// directory. Known collections keep their table, replication flag and
// transforms and pick up renamed titles; new collections are added with
// replication off; collections no longer visible are dropped.
func MergeCollections(existing, discovered []domain.Collection) ([]domain.Collection, MergeStats) {
	known := make(map[string]domain.Collection, len(existing))
	for _, c := range existing {
		known[domain.NormalizeCollectionID(c.ID)] = c
	}

	var stats MergeStats
	seen := make(map[string]bool, len(discovered))
	merged := make([]domain.Collection, 0, len(discovered))
	for _, d := range discovered {
		key := domain.NormalizeCollectionID(d.ID)
		seen[key] = true
		old, ok := known[key]
		if !ok {
			d.Replicate = false
			merged = append(merged, d)
			stats.New = append(stats.New, d.ID)
			continue
		}
		if old.Name != d.Name {
			stats.Renamed = append(stats.Renamed, d.ID)
			old.Name = d.Name
		}
		merged = append(merged, old)
	}
	for _, c := range existing {
		if !seen[domain.NormalizeCollectionID(c.ID)] {
			stats.Deleted = append(stats.Deleted, c.ID)
		}
	}
	stats.Total = len(merged)
	return merged, stats
}

// ── Relation declarations ──────────────────────────────────
// Declarations are grouped by origin collection:
//
//	[{"origin_database_id": "...", "origin_table": "posts",
//	  "relations": [{"field_name": "Authors", "related_database_id": "...", "related_table": "users"}]}]
//
// "origin_supabase_table" and "related_supabase_table" are accepted too.

type relationGroup struct {
	OriginID          string          `json:"origin_database_id" yaml:"origin_database_id"`
	OriginTable       string          `json:"origin_table,omitempty" yaml:"origin_table,omitempty"`
	LegacyOriginTable string          `json:"origin_supabase_table,omitempty" yaml:"origin_supabase_table,omitempty"`
	Relations         []relationEntry `json:"relations" yaml:"relations"`
}

type relationEntry struct {
	FieldName          string `json:"field_name" yaml:"field_name"`
	RelatedID          string `json:"related_database_id" yaml:"related_database_id"`
	RelatedTable       string `json:"related_table,omitempty" yaml:"related_table,omitempty"`
	LegacyRelatedTable string `json:"related_supabase_table,omitempty" yaml:"related_supabase_table,omitempty"`
}

// LoadRelations reads relation declarations. Origin tables missing from the
// file are looked up in collections by origin id.
func LoadRelations(path string, collections []domain.Collection) ([]domain.RelationSpec, error) {
	var groups []relationGroup
	if err := decodeFile(path, &groups); err != nil {
		return nil, err
	}

	tables := make(map[string]string, len(collections))
	for _, c := range collections {
		tables[domain.NormalizeCollectionID(c.ID)] = c.Table
	}

	var specs []domain.RelationSpec
	for _, g := range groups {
		origin := firstNonEmpty(g.OriginTable, g.LegacyOriginTable, tables[domain.NormalizeCollectionID(g.OriginID)])
		if origin == "" {
			return nil, fmt.Errorf("%s: origin %s has no table", path, g.OriginID)
		}
		for _, r := range g.Relations {
			if r.FieldName == "" {
				return nil, fmt.Errorf("%s: relation of %s has no field_name", path, origin)
			}
			specs = append(specs, domain.RelationSpec{
				OriginTable:         origin,
				FieldName:           r.FieldName,
				RelatedCollectionID: r.RelatedID,
				RelatedTable:        firstNonEmpty(r.RelatedTable, r.LegacyRelatedTable),
			})
		}
	}
	return specs, nil
}

// SaveRelations writes declarations grouped by origin table.
func SaveRelations(path string, specs []domain.RelationSpec, collections []domain.Collection) error {
	ids := make(map[string]string, len(collections))
	for _, c := range collections {
		ids[c.Table] = c.ID
	}

	var groups []relationGroup
	index := make(map[string]int)
	for _, s := range specs {
		i, ok := index[s.OriginTable]
		if !ok {
			i = len(groups)
			index[s.OriginTable] = i
			groups = append(groups, relationGroup{OriginID: ids[s.OriginTable], OriginTable: s.OriginTable})
		}
		groups[i].Relations = append(groups[i].Relations, relationEntry{
			FieldName:    s.FieldName,
			RelatedID:    s.RelatedCollectionID,
			RelatedTable: s.RelatedTable,
		})
	}
	return encodeFile(path, groups)
}

// ── File helpers ───────────────────────────────────────────

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, v)
	case ".json", "":
		err = json.Unmarshal(data, v)
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func encodeFile(path string, v any) error {
	var data []byte
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(v)
	case ".json", "":
		data, err = json.MarshalIndent(v, "", "    ")
		data = append(data, '\n')
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
