// Package feed acquires a remote feed and converts it into the entries the
// publish pipeline works on.
package feed

// Entry is one feed item.
//
// Link is the identity source. Published is only used for ordering and
// rendering: it holds RFC 3339 UTC when the timestamp could be parsed, the raw
// feed value otherwise, and is empty when the feed gave none. Fields carries
// additional feed-supplied values passed through to templates untouched.
type Entry struct {
	ID          string
	Link        string
	Title       string
	Description string
	Published   string
	Fields      map[string]any
}

// Metadata is feed-level context attached to every rendered entry.
type Metadata struct {
	Title       string
	Link        string
	Description string
	Language    string
	Generator   string
	Published   string
}

// Feed is the parsed result of one fetch.
type Feed struct {
	Metadata Metadata
	Entries  []Entry
}

// TemplateData exposes the entry under the field names templates use.
func (e Entry) TemplateData() map[string]any {
	data := make(map[string]any, len(e.Fields)+5)
	for k, v := range e.Fields {
		data[k] = v
	}
	data["id"] = e.ID
	data["link"] = e.Link
	data["title"] = e.Title
	data["description"] = e.Description
	data["published"] = e.Published
	return data
}

// TemplateData exposes the feed metadata under the field names templates use.
func (m Metadata) TemplateData() map[string]any {
	return map[string]any{
		"title":       m.Title,
		"link":        m.Link,
		"description": m.Description,
		"language":    m.Language,
		"generator":   m.Generator,
		"published":   m.Published,
	}
}
