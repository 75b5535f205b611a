package sources

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"notionsync/internal/domain"
	"notionsync/internal/etl"
)

// ── Page decoding ──────────────────────────────────────────
// Notion property values are tagged objects: {"type": "number", "number": 3}.
// Each type is decoded into the closed domain.Value set.

type pageObject struct {
	Object         string                     `json:"object"`
	ID             string                     `json:"id"`
	CreatedTime    time.Time                  `json:"created_time"`
	LastEditedTime time.Time                  `json:"last_edited_time"`
	Archived       bool                       `json:"archived"`
	InTrash        bool                       `json:"in_trash"`
	Properties     map[string]json.RawMessage `json:"properties"`
}

type richText struct {
	PlainText string `json:"plain_text"`
}

type named struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type dateValue struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type fileURL struct {
	URL string `json:"url"`
}

type fileValue struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	File     *fileURL `json:"file"`
	External *fileURL `json:"external"`
}

// DecodePage converts one page object into a SourceRecord.
func DecodePage(raw json.RawMessage) (domain.SourceRecord, error) {
	var p pageObject
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.SourceRecord{}, err
	}
	if p.ID == "" {
		return domain.SourceRecord{}, fmt.Errorf("page without id")
	}
	rec := domain.SourceRecord{
		ID:         p.ID,
		CreatedAt:  p.CreatedTime.UTC(),
		ModifiedAt: p.LastEditedTime.UTC(),
		Archived:   p.Archived || p.InTrash,
		Fields:     make(map[string]domain.Value, len(p.Properties)),
		Raw:        append([]byte(nil), raw...),
	}
	for name, prop := range p.Properties {
		rec.Fields[name] = DecodeProperty(prop)
	}
	return rec, nil
}

// DecodeProperty converts one property value object.
func DecodeProperty(raw json.RawMessage) domain.Value {
	var head struct {
		Type string `json:"type"`
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return domain.Null()
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.Type == "" {
		return decodeAny(raw)
	}
	body, ok := obj[head.Type]
	if !ok || isNull(body) {
		return domain.Null()
	}
	return decodeTyped(head.Type, body, raw)
}

func decodeTyped(typ string, body, raw json.RawMessage) domain.Value {
	switch typ {
	case "title", "rich_text":
		var parts []richText
		if json.Unmarshal(body, &parts) != nil {
			return domain.Null()
		}
		return domain.Text(plainText(parts))

	case "number":
		return decodeAny(body)

	case "select", "status":
		var n named
		if json.Unmarshal(body, &n) != nil {
			return domain.Null()
		}
		return domain.Text(n.Name)

	case "multi_select":
		var items []named
		if json.Unmarshal(body, &items) != nil {
			return domain.Null()
		}
		out := make([]domain.Value, len(items))
		for i, item := range items {
			out[i] = domain.Text(item.Name)
		}
		return domain.List(out...)

	case "date":
		var d dateValue
		if json.Unmarshal(body, &d) != nil || d.Start == "" {
			return domain.Null()
		}
		return domain.Text(d.Start)

	case "checkbox":
		var b bool
		if json.Unmarshal(body, &b) != nil {
			return domain.Null()
		}
		return domain.Bool(b)

	case "url", "email", "phone_number", "created_time", "last_edited_time":
		var s string
		if json.Unmarshal(body, &s) != nil || s == "" {
			return domain.Null()
		}
		return domain.Text(s)

	case "formula":
		var f map[string]json.RawMessage
		if json.Unmarshal(body, &f) != nil {
			return domain.Null()
		}
		var sub string
		_ = json.Unmarshal(f["type"], &sub)
		inner, ok := f[sub]
		if !ok || isNull(inner) {
			return domain.Null()
		}
		switch sub {
		case "date":
			return decodeTyped("date", inner, inner)
		case "string":
			return decodeTyped("url", inner, inner)
		default:
			return decodeAny(inner)
		}

	case "relation", "people":
		var items []named
		if json.Unmarshal(body, &items) != nil {
			return domain.Null()
		}
		out := make([]domain.Value, len(items))
		for i, item := range items {
			out[i] = domain.Text(item.ID)
		}
		return domain.List(out...)

	case "created_by", "last_edited_by":
		var n named
		if json.Unmarshal(body, &n) != nil || n.ID == "" {
			return domain.Null()
		}
		return domain.Text(n.ID)

	case "files":
		var files []fileValue
		if json.Unmarshal(body, &files) != nil {
			return domain.Null()
		}
		out := make([]domain.Value, 0, len(files))
		for _, f := range files {
			switch {
			case f.File != nil && f.File.URL != "":
				out = append(out, domain.Text(f.File.URL))
			case f.External != nil && f.External.URL != "":
				out = append(out, domain.Text(f.External.URL))
			}
		}
		return domain.List(out...)

	case "rollup":
		var r map[string]json.RawMessage
		if json.Unmarshal(body, &r) != nil {
			return domain.Null()
		}
		var sub string
		_ = json.Unmarshal(r["type"], &sub)
		inner, ok := r[sub]
		if !ok || isNull(inner) {
			return domain.Null()
		}
		switch sub {
		case "number":
			return decodeAny(inner)
		case "date":
			return decodeTyped("date", inner, inner)
		case "array":
			var items []json.RawMessage
			if json.Unmarshal(inner, &items) != nil {
				return domain.Null()
			}
			out := make([]domain.Value, len(items))
			for i, item := range items {
				out[i] = DecodeProperty(item)
			}
			return domain.List(out...)
		default:
			return decodeAny(inner)
		}

	case "unique_id":
		var u struct {
			Prefix *string `json:"prefix"`
			Number *int64  `json:"number"`
		}
		if json.Unmarshal(body, &u) != nil || u.Number == nil {
			return domain.Null()
		}
		if u.Prefix == nil || *u.Prefix == "" {
			return domain.Int(*u.Number)
		}
		return domain.Text(fmt.Sprintf("%s-%d", *u.Prefix, *u.Number))

	default:
		return decodeAny(raw)
	}
}

// decodeAny decodes arbitrary JSON, keeping integral numbers as Int.
func decodeAny(raw json.RawMessage) domain.Value {
	var v domain.Value
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.Null()
	}
	return v
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func plainText(parts []richText) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.PlainText)
	}
	return b.String()
}

// SuggestTableName derives a destination table name from a database title:
// "notion_" plus the normalized title, or "table_" plus it when the title
// starts with a digit.
func SuggestTableName(title string) string {
	name := etl.NormalizeIdentifier(title)
	if strings.HasPrefix(name, "col_") && len(title) > 0 && title[0] >= '0' && title[0] <= '9' {
		return "table_" + strings.TrimPrefix(name, "col_")
	}
	if name == "unnamed_column" {
		return "notion_untitled"
	}
	return "notion_" + name
}
