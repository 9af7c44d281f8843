package answer

import (
	"strings"

	"github.com/tutorialhub/answerd/models"
)

// FastPath serves pre-written answers for extremely common questions,
// bypassing retrieval and generation entirely. It is a pure, synchronous
// lookup: no store, no cache, no external calls. Matching is case-insensitive
// substring containment, first table entry wins — the entries are
// hand-ordered around that rule, so do not replace it with longest-match.
type FastPath struct {
	entries []fastEntry
}

type fastEntry struct {
	trigger string
	result  models.AnswerResult
}

// NewFastPath builds the default trigger table. Keep this small and
// auditable; it must never hold anything time-sensitive, since nothing
// refreshes it.
func NewFastPath() *FastPath {
	return &FastPath{entries: []fastEntry{
		{
			trigger: "what is cursor",
			result: models.AnswerResult{
				Answer: "Cursor is an AI-powered code editor built on VS Code. It lets you write, edit and refactor code through natural-language conversation with an AI that understands your whole codebase. You keep your familiar editor workflow — extensions, keybindings, themes — and add AI chat, inline edits and codebase-aware completions on top.",
				Sources: []models.Source{{
					Title:     "What is Cursor?",
					URL:       "/get-started/what-is-cursor",
					Snippet:   "Cursor is an AI-powered code editor built on VS Code, designed to help you write and edit code through natural conversation.",
					Relevance: 1.0,
				}},
				RelatedQuestions: []string{
					"How do I install Cursor?",
					"Is Cursor free to use?",
					"How is Cursor different from VS Code?",
				},
			},
		},
		{
			trigger: "how do i install cursor",
			result: models.AnswerResult{
				Answer: "Download the installer for your platform from cursor.com/download, run it, and sign in (or create an account) on first launch. Cursor can import your VS Code extensions, settings and keybindings during setup, so you can keep your existing environment.",
				Sources: []models.Source{{
					Title:     "Installing Cursor",
					URL:       "/get-started/installation",
					Snippet:   "Download the installer from cursor.com/download and run it. On first launch you can import your VS Code settings.",
					Relevance: 1.0,
				}},
				RelatedQuestions: []string{
					"What is Cursor?",
					"Can I import my VS Code settings?",
					"What are the system requirements?",
				},
			},
		},
		{
			trigger: "is cursor free",
			result: models.AnswerResult{
				Answer: "Cursor has a free tier with a limited number of AI requests per month, plus paid plans that raise those limits and unlock faster models. You can use the core editor without paying; the paid plans mainly change how much AI assistance you get.",
				Sources: []models.Source{{
					Title:     "Cursor pricing and plans",
					URL:       "/get-started/pricing",
					Snippet:   "Cursor offers a free tier with monthly AI request limits and paid plans for heavier usage.",
					Relevance: 1.0,
				}},
				RelatedQuestions: []string{
					"What is Cursor?",
					"What do the paid plans include?",
					"How do AI request limits work?",
				},
			},
		},
	}}
}

// TryAnswer returns the canned result for the first matching trigger, or
// ok=false when the question takes the full pipeline.
func (f *FastPath) TryAnswer(question string) (models.AnswerResult, bool) {
	normalized := strings.ToLower(strings.TrimSpace(question))
	for _, e := range f.entries {
		if strings.Contains(normalized, e.trigger) {
			return e.result, true
		}
	}
	return models.AnswerResult{}, false
}
