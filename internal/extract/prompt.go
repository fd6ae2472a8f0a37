package extract

import "strings"

const TriplePrompt = `Extract the factual statements in the following learning material as subject-predicate-object triples. Return a JSON array. Each element must have these fields:

- "subject": the entity or concept the fact is about (string, max 120 chars)
- "predicate": the relation, as a short verb phrase (string, max 60 chars)
- "object": the value, entity or concept on the other side of the relation (string, max 200 chars)

Rules:
- Only extract facts stated in the text, not opinions or speculation
- Prefer specific facts over vague generalizations
- One triple per distinct relation
- Use the wording of the text where possible
- Return an empty array [] if the text states no facts

Respond with ONLY the JSON array, no other text.`

// BuildTriplePrompt appends the learning-unit text to TriplePrompt.
// Paragraph markers are turned back into blank lines.
func BuildTriplePrompt(text string) string {
	var sb strings.Builder
	sb.WriteString(TriplePrompt)
	sb.WriteString("\n\n---\n")
	sb.WriteString(strings.ReplaceAll(text, "<p>", "\n\n"))
	return sb.String()
}
