package memory

import (
	"regexp"
	"strings"

	"github.com/felixgeelhaar/sentimemory/internal/conversation"
)

// HeuristicTag marks records produced by phrase matching instead of a model.
const HeuristicTag = "heuristic"

const keywordImportance = 2

var keywordPatterns = []struct {
	category Category
	re       *regexp.Regexp
}{
	{CategoryPersonal, regexp.MustCompile(`(?i)\bmy name is ([^,.!?\n]+)`)},
	{CategoryPersonal, regexp.MustCompile(`(?i)\bi(?:'m| am) (?:a |an )?([^,.!?\n]+)`)},
	{CategoryPersonal, regexp.MustCompile(`(?i)\bmy ([^,.!?\n]+?) is ([^,.!?\n]+)`)},
	{CategoryPreference, regexp.MustCompile(`(?i)\bi (?:really |absolutely )?(?:like|love|enjoy) ([^,.!?\n]+)`)},
	{CategoryPreference, regexp.MustCompile(`(?i)\bmy favou?rite ([^,.!?\n]+)`)},
	{CategoryEmotion, regexp.MustCompile(`(?i)\bi (?:feel|felt) ([^,.!?\n]+)`)},
	{CategoryEvent, regexp.MustCompile(`(?i)\b(?:today|yesterday|recently),? ([^,.!?\n]+)`)},
}

// KeywordRecords derives low-confidence records from the user turns in turns
// by phrase matching. Every record is tagged HeuristicTag and carries
// SourceKeyword so it can be told apart from model output.
func KeywordRecords(turns []conversation.Turn) []Record {
	var out []Record
	seen := make(map[string]struct{})
	for _, t := range turns {
		if t.Role != conversation.RoleUser {
			continue
		}
		for _, p := range keywordPatterns {
			for _, m := range p.re.FindAllStringSubmatch(t.Content, -1) {
				content := strings.TrimSpace(strings.Join(m[1:], " "))
				if content == "" {
					continue
				}
				key := string(p.category) + "\x00" + strings.ToLower(content)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, Record{
					Content:    content,
					Category:   p.category,
					Importance: keywordImportance,
					CreatedAt:  t.CreatedAt,
					Tags:       NewTags(HeuristicTag),
					Source:     SourceKeyword,
				})
			}
		}
	}
	return out
}
