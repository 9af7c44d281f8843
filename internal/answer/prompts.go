package answer

import (
	"fmt"
	"strings"

	"github.com/tutorialhub/answerd/models"
	"github.com/tutorialhub/answerd/provider"
)

// maxHistoryTurns bounds how much prior conversation rides along with each
// question.
const maxHistoryTurns = 6

const answerSystemPrompt = `You are a friendly assistant for the Cursor tutorial site. Answer the user's question using ONLY the documentation context provided below. Cite the sections you used by their titles. Be conversational and concise. If the context does not contain the answer, say so plainly instead of guessing.`

const answerJSONInstruction = `Respond ONLY with valid JSON in the following format:
{
  "answer": "your answer text, citing context sections by title",
  "related_questions": ["up to three short follow-up questions a reader might ask next"]
}
Do not include any other text or explanation.`

func buildContext(results []models.SearchResult) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### %s\n%s", r.Chunk.Metadata.Title, r.Chunk.Content)
	}
	return b.String()
}

func boundedHistory(history []models.ConversationTurn) []models.ConversationTurn {
	if len(history) > maxHistoryTurns {
		return history[len(history)-maxHistoryTurns:]
	}
	return history
}

// buildMessages assembles the chat request: system instructions with the
// retrieved context, recent conversation turns, then the question. When
// wantJSON is set (batch mode) the model is asked for the structured
// answer/related-questions payload; the streaming path gets plain prose.
func buildMessages(question string, results []models.SearchResult, history []models.ConversationTurn, wantJSON bool) []provider.Message {
	system := answerSystemPrompt + "\n\nDOCUMENTATION CONTEXT:\n" + buildContext(results)
	if wantJSON {
		system += "\n\n" + answerJSONInstruction
	}

	messages := []provider.Message{{Role: "system", Content: system}}
	for _, turn := range boundedHistory(history) {
		role := turn.Role
		if role != "user" && role != "assistant" {
			role = "user"
		}
		messages = append(messages, provider.Message{Role: role, Content: turn.Content})
	}
	messages = append(messages, provider.Message{Role: "user", Content: question})
	return messages
}

// extractFirstJSON attempts to find the first top-level JSON object in a string
func extractFirstJSON(s string) string {
	start := -1
	depth := 0
	for i, ch := range s {
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return s
}
