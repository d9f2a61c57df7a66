package memory

import (
	"strings"

	"github.com/felixgeelhaar/sentimemory/internal/conversation"
)

// extractionPrompt is the fixed instruction sent with every transcript.
const extractionPrompt = `You are a memory extraction specialist. Read the conversation history below and extract every piece of important information about the user, including:
1. Significant events and experiences the user describes
2. The user's emotional state and how it changes
3. Personal preferences and interests
4. Important dates, times and relationships with other people
5. Goals, plans and worries
6. Personal details (name, age, occupation, where they live, ...)
7. Study and work situation
8. Daily habits and hobbies

Analyse the whole conversation carefully and extract all valuable information. Each memory must be self-contained and meaningful on its own. Be exhaustive rather than minimal: do not leave out important details.

Respond with a JSON array only. Each element is an object with:
- content: a complete, specific description of the memory
- category: one of personal, event, emotion, preference, date, relationship, goal, habit, work, study
- importance: an integer from 1 to 5, where 5 is most important
- tags: a list of related keywords

Example:
[
    {
        "content": "The user's name is Alex and they are 25 years old",
        "category": "personal",
        "importance": 4,
        "tags": ["name", "age", "basic info"]
    },
    {
        "content": "The user is learning Go and wants to become a backend engineer",
        "category": "goal",
        "importance": 5,
        "tags": ["learning", "programming", "Go", "career goal"]
    },
    {
        "content": "The user drinks three to four cups of coffee every day",
        "category": "habit",
        "importance": 3,
        "tags": ["coffee", "diet", "daily life"]
    }
]

If there is nothing worth remembering, respond with [].`

const transcriptPreamble = "Extract the key memories from the following conversation history:\n\n"

// RenderTranscript renders turns as one "<role>: <content>" line each, in
// order.
func RenderTranscript(turns []conversation.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, string(t.Role)+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}
