package orchestrator

import (
	"fmt"
	"strings"

	"github.com/brisaai/sicc/internal/behavior"
	"github.com/brisaai/sicc/internal/conversation"
	"github.com/brisaai/sicc/internal/memory"
)

const basePersona = `Você é um atendente virtual cordial e objetivo.
Responda em português, de forma curta e natural.
Use apenas as informações fornecidas abaixo; nunca invente preços, produtos ou condições.`

// systemPrompt assembles the generation input from everything RETRIEVE
// and ROUTE produced, plus the supervisor's feedback on a regeneration.
func systemPrompt(st *turnState, correctionHint string) string {
	var b strings.Builder
	b.WriteString(basePersona)

	if block := memoryBlock(st.hits); block != "" {
		b.WriteString("\n\n")
		b.WriteString(block)
	}
	if block := behavior.FewShotBlock(st.match.Guidance); block != "" {
		b.WriteString("\n\n")
		b.WriteString(block)
	}
	if st.context != "" {
		b.WriteString("\n\n")
		b.WriteString(st.context)
	}
	if correctionHint != "" {
		b.WriteString("\n\n")
		b.WriteString(correctionHint)
	}
	return b.String()
}

// memoryBlock renders retrieved chunks for the prompt.
func memoryBlock(hits []memory.Hit) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Informações relevantes sobre este negócio e cliente:\n")
	for _, hit := range hits {
		fmt.Fprintf(&b, "- %s\n", hit.Chunk.Content)
	}
	return b.String()
}

// userPrompt renders the conversation so far plus the inbound message.
func userPrompt(history []conversation.Turn, inbound string) string {
	var b strings.Builder
	for _, turn := range history {
		switch turn.Role {
		case conversation.RoleUser:
			fmt.Fprintf(&b, "Cliente: %s\n", turn.Content)
		case conversation.RoleAssistant:
			fmt.Fprintf(&b, "Atendente: %s\n", turn.Content)
		}
	}
	fmt.Fprintf(&b, "Cliente: %s\nAtendente:", inbound)
	return b.String()
}
