package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// candidate is one element of an extraction response. Fields are kept raw so
// each can be coerced independently.
type candidate struct {
	Content    json.RawMessage `json:"content"`
	Category   json.RawMessage `json:"category"`
	Importance json.RawMessage `json:"importance"`
	Tags       json.RawMessage `json:"tags"`
}

// StripFences removes a surrounding Markdown code fence, with or without a
// language tag, from a model response.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseRecords turns an extraction response into records. Missing categories
// become general, missing or non-numeric importance becomes 3 and missing
// tags become empty. Numeric importance is rounded but not range-checked.
// Elements that are not objects or have no content are skipped. A response
// whose top level is not a JSON array yields ErrParse.
func ParseRecords(raw string) ([]Record, error) {
	body := StripFences(raw)

	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(body), &elems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if elems == nil {
		return nil, fmt.Errorf("%w: top-level value is not a list", ErrParse)
	}

	records := make([]Record, 0, len(elems))
	for _, elem := range elems {
		var c candidate
		if err := json.Unmarshal(elem, &c); err != nil {
			continue
		}
		content := strings.TrimSpace(coerceString(c.Content))
		if content == "" {
			continue
		}
		records = append(records, Record{
			Content:    content,
			Category:   ParseCategory(coerceString(c.Category)),
			Importance: coerceImportance(c.Importance),
			Tags:       coerceTags(c.Tags),
			Source:     SourceExtraction,
		})
	}
	return records, nil
}

func coerceString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if isNull(raw) {
		return ""
	}
	// Numbers and other scalars are kept in their literal form.
	return string(bytes.TrimSpace(raw))
}

func coerceImportance(raw json.RawMessage) int {
	if len(raw) == 0 || isNull(raw) {
		return DefaultImportance
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return roundImportance(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return roundImportance(f)
		}
	}
	return DefaultImportance
}

func roundImportance(f float64) int {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return DefaultImportance
	}
	return int(math.Round(f))
}

func coerceTags(raw json.RawMessage) Tags {
	if len(raw) == 0 || isNull(raw) {
		return Tags{}
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		tags := make([]string, 0, len(list))
		for _, item := range list {
			tags = append(tags, coerceString(item))
		}
		return NewTags(tags...)
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return NewTags(single)
	}
	return Tags{}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
