// Package memory defines durable, persona-scoped memory records and the
// pipeline that distills them from evicted conversation turns.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultImportance is used when a record carries no usable importance.
	DefaultImportance = 3
	MinImportance     = 1
	MaxImportance     = 5

	// DefaultContextLimit is how many records feed a reply prompt.
	DefaultContextLimit = 8
	// DefaultListLimit is the page size for general listing.
	DefaultListLimit = 50
	// DefaultSummaryRecent is how many recent records a Summary carries.
	DefaultSummaryRecent = 5
)

var (
	// ErrParse marks an extraction response that is not a JSON list.
	ErrParse = errors.New("memory: unparseable extraction response")
	// ErrNotFound is returned by lookups for ids that do not exist in a persona.
	ErrNotFound = errors.New("memory: record not found")
)

// Category is a validated but extensible classification of a record.
type Category string

const (
	CategoryPersonal     Category = "personal"
	CategoryEvent        Category = "event"
	CategoryEmotion      Category = "emotion"
	CategoryPreference   Category = "preference"
	CategoryDate         Category = "date"
	CategoryRelationship Category = "relationship"
	CategoryGoal         Category = "goal"
	CategoryHabit        Category = "habit"
	CategoryWork         Category = "work"
	CategoryStudy        Category = "study"
	CategoryGeneral      Category = "general"
)

var knownCategories = map[Category]struct{}{
	CategoryPersonal: {}, CategoryEvent: {}, CategoryEmotion: {}, CategoryPreference: {},
	CategoryDate: {}, CategoryRelationship: {}, CategoryGoal: {}, CategoryHabit: {},
	CategoryWork: {}, CategoryStudy: {}, CategoryGeneral: {},
}

// Categories lists the known categories in a stable order.
func Categories() []Category {
	return []Category{
		CategoryPersonal, CategoryEvent, CategoryEmotion, CategoryPreference, CategoryDate,
		CategoryRelationship, CategoryGoal, CategoryHabit, CategoryWork, CategoryStudy, CategoryGeneral,
	}
}

// ParseCategory maps free-form text onto a known category. Unknown or empty
// values become CategoryGeneral.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownCategories[c]; ok {
		return c
	}
	return CategoryGeneral
}

// Source records how a memory came to exist.
type Source string

const (
	SourceExtraction Source = "extraction"
	SourceKeyword    Source = "keyword"
	SourceManual     Source = "manual"
)

// Tags is an order-irrelevant set of labels, kept sorted and duplicate-free.
type Tags []string

// NewTags normalises labels: whitespace is trimmed, empties dropped,
// duplicates collapsed and the result sorted.
func NewTags(in ...string) Tags {
	seen := make(map[string]struct{}, len(in))
	out := make(Tags, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether tag is in the set.
func (t Tags) Contains(tag string) bool {
	i := sort.SearchStrings(t, tag)
	return i < len(t) && t[i] == tag
}

// Encode serialises the set as concatenated "<len>:<tag>" entries, where len
// is the tag's byte length. The empty set encodes to "".
func (t Tags) Encode() string {
	var sb strings.Builder
	for _, tag := range NewTags(t...) {
		sb.WriteString(strconv.Itoa(len(tag)))
		sb.WriteByte(':')
		sb.WriteString(tag)
	}
	return sb.String()
}

// DecodeTags parses the output of Tags.Encode.
func DecodeTags(s string) (Tags, error) {
	var out []string
	for len(s) > 0 {
		colon := strings.IndexByte(s, ':')
		if colon <= 0 {
			return nil, fmt.Errorf("decode tags: missing length prefix in %q", s)
		}
		n, err := strconv.Atoi(s[:colon])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("decode tags: bad length %q", s[:colon])
		}
		s = s[colon+1:]
		if n > len(s) {
			return nil, fmt.Errorf("decode tags: length %d exceeds remaining %d bytes", n, len(s))
		}
		out = append(out, s[:n])
		s = s[n:]
	}
	return NewTags(out...), nil
}

// Record is one durable fact about the user, filed under a persona.
type Record struct {
	ID         int64     `json:"id"`
	Persona    string    `json:"persona"`
	Content    string    `json:"content"`
	Category   Category  `json:"category"`
	Importance int       `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
	Tags       Tags      `json:"tags"`
	Source     Source    `json:"source,omitempty"`
}

// Normalize returns r with category, importance, tags and source brought into
// their valid ranges. Stores call this on every write.
func (r Record) Normalize() Record {
	r.Category = ParseCategory(string(r.Category))
	r.Importance = ClampImportance(r.Importance)
	r.Tags = NewTags(r.Tags...)
	if r.Source == "" {
		r.Source = SourceExtraction
	}
	return r
}

// ClampImportance forces i into [MinImportance, MaxImportance].
func ClampImportance(i int) int {
	switch {
	case i < MinImportance:
		return MinImportance
	case i > MaxImportance:
		return MaxImportance
	}
	return i
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Content    *string
	Category   *Category
	Importance *int
	Tags       *Tags
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Content == nil && p.Category == nil && p.Importance == nil && p.Tags == nil
}

// Apply returns r with the patch applied and normalised.
func (p Patch) Apply(r Record) Record {
	if p.Content != nil {
		r.Content = *p.Content
	}
	if p.Category != nil {
		r.Category = *p.Category
	}
	if p.Importance != nil {
		r.Importance = *p.Importance
	}
	if p.Tags != nil {
		r.Tags = *p.Tags
	}
	return r.Normalize()
}

// Summary is an aggregate view of one persona's records.
type Summary struct {
	Total      int              `json:"total"`
	Categories map[Category]int `json:"categories"`
	Recent     []Record         `json:"recent"`
}

// Store is a persona-scoped persistence engine for records. Implementations
// must serialise writes and return records in Less order from List and
// Search.
type Store interface {
	Add(ctx context.Context, persona string, r Record) (int64, error)
	List(ctx context.Context, persona string, limit int) ([]Record, error)
	Update(ctx context.Context, persona string, id int64, p Patch) (bool, error)
	Delete(ctx context.Context, persona string, id int64) (bool, error)
	Search(ctx context.Context, persona, substring string) ([]Record, error)
	Summary(ctx context.Context, persona string, recent int) (Summary, error)
}

// Less orders records by importance descending, then creation time
// descending, then id descending.
func Less(a, b Record) bool {
	if a.Importance != b.Importance {
		return a.Importance > b.Importance
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Sort orders records in place using Less.
func Sort(records []Record) {
	sort.SliceStable(records, func(i, j int) bool { return Less(records[i], records[j]) })
}

// Format renders r as a prompt line.
func (r Record) Format() string {
	return fmt.Sprintf("- %s (category: %s, importance: %d)", r.Content, r.Category, r.Importance)
}
