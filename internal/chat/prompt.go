package chat

import (
	"fmt"
	"strings"

	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/models"
	"github.com/hyperjump/neurobot/internal/tenant"
)

var (
	toneLines = [...]string{
		"Answer formally and officially.",
		"Answer professionally and competently.",
		"Answer in a friendly and warm way.",
		"Answer in a relaxed, conversational way.",
		"Answer casually and informally.",
	}
	humorLines = [...]string{
		"Do not use humor.",
		"Use minimal humor.",
		"Use moderate humor.",
		"Use humor when the situation allows it.",
		"Use humor actively.",
	}
	brevityLines = [...]string{
		"Answer in great detail.",
		"Answer in detail.",
		"Answer with moderate length.",
		"Answer briefly.",
		"Answer very briefly.",
	}
)

// NoContext is placed in the prompt when retrieval found nothing.
const NoContext = "**The knowledge base has no relevant information for this question.**"

// Style is the effective response style of one chat turn.
type Style struct {
	Tone             int
	Humor            int
	Brevity          int
	AdditionalPrompt string
}

// EffectiveStyle applies the request persona on top of the knowledge base settings.
func EffectiveStyle(s kb.Settings, p tenant.Persona) Style {
	tone, humor, brevity := p.Resolve(s.Tone, s.Humor, s.Brevity)
	return Style{Tone: tone, Humor: humor, Brevity: brevity, AdditionalPrompt: s.AdditionalPrompt}
}

// SystemPrompt renders the system message: role, personality, rules, extra instructions
// and the retrieved Q&A context.
func SystemPrompt(st Style, hits []*models.SearchResult) string {
	var b strings.Builder
	b.WriteString("# ROLE: NeuroBot Assistant\n\n")
	b.WriteString("You are a helpful assistant that answers user questions using the provided knowledge base.\n\n")

	b.WriteString("## PERSONALITY SETTINGS\n")
	fmt.Fprintf(&b, "- Tone: %s\n", toneLines[tenant.ClampLevel(st.Tone)])
	fmt.Fprintf(&b, "- Humor: %s\n", humorLines[tenant.ClampLevel(st.Humor)])
	fmt.Fprintf(&b, "- Brevity: %s\n\n", brevityLines[tenant.ClampLevel(st.Brevity)])

	b.WriteString("## CORE RULES\n")
	b.WriteString("1. Answer ONLY from the information in the knowledge base.\n")
	b.WriteString("2. If the knowledge base has no information on the question, say so honestly.\n")
	b.WriteString("3. Do not make things up.\n")
	b.WriteString("4. Answer in the language of the user's question.\n")
	b.WriteString("5. Be helpful and informative.\n\n")

	b.WriteString("## ADDITIONAL INSTRUCTIONS\n")
	if extra := strings.TrimSpace(st.AdditionalPrompt); extra != "" {
		b.WriteString(extra)
	} else {
		b.WriteString("No additional instructions.")
	}
	b.WriteString("\n\n## KNOWLEDGE BASE CONTEXT\n")
	b.WriteString(FormatContext(hits))
	return b.String()
}

// FormatContext renders retrieved entries as numbered Q&A blocks.
func FormatContext(hits []*models.SearchResult) string {
	if len(hits) == 0 {
		return NoContext
	}
	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "### Q&A %d\n**Question:** %s\n**Answer:** %s\n\n", i+1, h.Question, h.Answer)
	}
	return b.String()
}
