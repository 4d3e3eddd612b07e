package reflection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brisaai/sicc/internal/behavior"
	"github.com/brisaai/sicc/internal/capability"
)

type scriptedGenerator struct {
	reply      string
	err        error
	lastSystem string
	lastUser   string
}

func (g *scriptedGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	g.lastSystem = systemPrompt
	g.lastUser = userPrompt
	return g.reply, g.err
}

func TestRefineAppliesCorrection(t *testing.T) {
	gen := &scriptedGenerator{reply: "[CORRIGIDO] Olá! Funcionamos das 9h às 18h, posso ajudar em algo mais?"}
	critic := NewCritic(gen, nil)

	got := critic.Refine(context.Background(), "9-18.", nil)
	assert.Equal(t, "Olá! Funcionamos das 9h às 18h, posso ajudar em algo mais?", got)
}

func TestRefineKeepsDraftWhenCriticApproves(t *testing.T) {
	gen := &scriptedGenerator{reply: "OK"}
	critic := NewCritic(gen, nil)

	draft := "Funcionamos das 9h às 18h."
	assert.Equal(t, draft, critic.Refine(context.Background(), draft, nil))
}

func TestRefineKeepsDraftOnGeneratorFailure(t *testing.T) {
	gen := &scriptedGenerator{err: capability.ErrGenerationUnavailable}
	critic := NewCritic(gen, nil)

	draft := "Funcionamos das 9h às 18h."
	assert.Equal(t, draft, critic.Refine(context.Background(), draft, nil))
}

func TestRefineKeepsDraftOnEmptyCorrection(t *testing.T) {
	gen := &scriptedGenerator{reply: "[CORRIGIDO]   "}
	critic := NewCritic(gen, nil)

	draft := "Funcionamos das 9h às 18h."
	assert.Equal(t, draft, critic.Refine(context.Background(), draft, nil))
}

func TestRefineIncludesGuidanceExamples(t *testing.T) {
	gen := &scriptedGenerator{reply: "OK"}
	critic := NewCritic(gen, nil)

	critic.Refine(context.Background(), "draft", []behavior.Pattern{
		{Trigger: "qual o horário?", Response: "Das 9h às 18h!"},
	})
	assert.Contains(t, gen.lastUser, "Cliente: qual o horário?")
	assert.Contains(t, gen.lastUser, "Resposta a revisar:\ndraft")
}
