package sources_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notionsync/internal/domain"
	"notionsync/internal/etl/sources"
)

func TestDecodePage_PropertyTypes(t *testing.T) {
	raw := `{
		"object": "page",
		"id": "8a7f-01",
		"created_time": "2024-03-01T10:00:00.000Z",
		"last_edited_time": "2024-03-02T11:30:00.000Z",
		"archived": false,
		"in_trash": true,
		"properties": {
			"Title":    {"type": "title", "title": [{"plain_text": "Ship it"}]},
			"Notes":    {"type": "rich_text", "rich_text": []},
			"Points":   {"type": "number", "number": 3},
			"Ratio":    {"type": "number", "number": 0.25},
			"Empty":    {"type": "number", "number": null},
			"Stage":    {"type": "status", "status": {"id": "s", "name": "Done"}},
			"Kind":     {"type": "select", "select": null},
			"Tags":     {"type": "multi_select", "multi_select": [{"name": "a"}, {"name": "b"}]},
			"Due":      {"type": "date", "date": {"start": "2024-04-01", "end": null}},
			"Flag":     {"type": "checkbox", "checkbox": true},
			"Link":     {"type": "url", "url": ""},
			"Owner":    {"type": "relation", "relation": [{"id": "u1"}, {"id": "u2"}]},
			"People":   {"type": "people", "people": [{"object": "user", "id": "x9"}]},
			"Score":    {"type": "formula", "formula": {"type": "number", "number": 7}},
			"Label":    {"type": "formula", "formula": {"type": "string", "string": "hi"}},
			"Sum":      {"type": "rollup", "rollup": {"type": "number", "number": 12.5}},
			"Ticket":   {"type": "unique_id", "unique_id": {"prefix": "TASK", "number": 42}},
			"Seq":      {"type": "unique_id", "unique_id": {"prefix": null, "number": 5}},
			"Attached": {"type": "files", "files": [{"name": "f", "type": "external", "external": {"url": "https://x/y.png"}}]},
			"Creator":  {"type": "created_by", "created_by": {"object": "user", "id": "c1"}}
		}
	}`

	rec, err := sources.DecodePage(json.RawMessage(raw))
	require.NoError(t, err)

	assert.Equal(t, "8a7f-01", rec.ID)
	assert.True(t, rec.Archived)
	assert.Equal(t, time.Date(2024, 3, 2, 11, 30, 0, 0, time.UTC), rec.ModifiedAt)
	assert.JSONEq(t, raw, string(rec.Raw))

	want := map[string]domain.Value{
		"Title":    domain.Text("Ship it"),
		"Notes":    domain.Text(""),
		"Points":   domain.Int(3),
		"Ratio":    domain.Float(0.25),
		"Empty":    domain.Null(),
		"Stage":    domain.Text("Done"),
		"Kind":     domain.Null(),
		"Tags":     domain.List(domain.Text("a"), domain.Text("b")),
		"Due":      domain.Text("2024-04-01"),
		"Flag":     domain.Bool(true),
		"Link":     domain.Null(),
		"Owner":    domain.List(domain.Text("u1"), domain.Text("u2")),
		"People":   domain.List(domain.Text("x9")),
		"Score":    domain.Int(7),
		"Label":    domain.Text("hi"),
		"Sum":      domain.Float(12.5),
		"Ticket":   domain.Text("TASK-42"),
		"Seq":      domain.Int(5),
		"Attached": domain.List(domain.Text("https://x/y.png")),
		"Creator":  domain.Text("c1"),
	}
	for name, v := range want {
		assert.True(t, v.Equal(rec.Fields[name]), "%s: want %s, got %s", name, v, rec.Fields[name])
	}
}

func TestDecodePage_RequiresID(t *testing.T) {
	_, err := sources.DecodePage(json.RawMessage(`{"object": "page", "properties": {}}`))
	assert.Error(t, err)
}

func TestDecodeProperty_UnknownTypeKeepsPayload(t *testing.T) {
	v := sources.DecodeProperty(json.RawMessage(`{"type": "button", "button": {}}`))
	_, ok := v.AsMap()
	assert.True(t, ok)
}

func TestSuggestTableName(t *testing.T) {
	cases := map[string]string{
		"Tasks":         "notion_tasks",
		"Team Members!": "notion_team_members",
		"2024 Roadmap":  "table_2024_roadmap",
		"":              "notion_untitled",
	}
	for title, want := range cases {
		assert.Equal(t, want, sources.SuggestTableName(title), title)
	}
}
