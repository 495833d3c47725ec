package search

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// Mode is the dispatch mode parsed from a free-form query string.
type Mode string

const (
	// ModeID is a direct point lookup: "id:<value>".
	ModeID Mode = "id"
	// ModeFiltered is an equality-filtered scan ordered by recency.
	ModeFiltered Mode = "filtered"
	// ModeFilteredSemantic ranks filtered candidates by vector similarity.
	ModeFilteredSemantic Mode = "filtered_semantic"
	// ModeSemantic is a pure vector similarity search.
	ModeSemantic Mode = "semantic"
	// ModeRecent returns recent records; used for empty queries.
	ModeRecent Mode = "recent"
)

// fieldAliases maps query-token aliases to canonical payload fields.
var fieldAliases = map[string]string{
	"user":    "user_identifier",
	"tool":    "tool_name",
	"service": "tool_name",
	"session": "session_identifier",
}

// Query is the parsed form of a free-form query string.
type Query struct {
	Filters map[string]string
	Mode    Mode
	ID      string
	Text    string
	Raw     string
}

// ParseQuery parses one free-form query string into a dispatch mode.
//
//	id:<value>                  direct lookup
//	<alias>:<value> ... [text]  equality filter, optionally ranked by text
//	free text                   semantic search
//
// Malformed filter tokens are dropped with a warning and their text folded
// back into the semantic portion rather than failing the query.
func ParseQuery(raw string) Query {
	q := Query{Raw: raw, Filters: make(map[string]string)}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		log.Warn().Msg("Empty search query, returning recent records")
		q.Mode = ModeRecent
		return q
	}

	var freeText []string
	for _, token := range strings.Fields(trimmed) {
		key, value, ok := strings.Cut(token, ":")
		if !ok {
			freeText = append(freeText, token)
			continue
		}

		key = strings.ToLower(key)
		if key == "id" {
			if value == "" {
				log.Warn().Str("token", token).Msg("Dropping malformed id token")
				continue
			}
			q.Mode = ModeID
			q.ID = value
			// An ID lookup supersedes everything else in the query;
			// drop any filters accumulated from earlier tokens.
			q.Filters = map[string]string{}
			q.Text = ""
			return q
		}

		field, known := fieldAliases[key]
		if !known || value == "" {
			// Unknown alias or empty value: treat the token as plain text.
			log.Warn().Str("token", token).Msg("Dropping malformed filter token")
			freeText = append(freeText, token)
			continue
		}
		q.Filters[field] = value
	}

	q.Text = strings.Join(freeText, " ")

	switch {
	case len(q.Filters) > 0 && q.Text != "":
		q.Mode = ModeFilteredSemantic
	case len(q.Filters) > 0:
		q.Mode = ModeFiltered
	case q.Text != "":
		q.Mode = ModeSemantic
	default:
		q.Mode = ModeRecent
	}
	return q
}
