// Package reflection adjusts the presentation of an already-approved draft.
//
// The critic runs after the supervisor has approved the factual content,
// so it may only rewrite tone and style. Its output never re-enters
// validation; a critic that invents facts would defeat the supervisor, so
// the prompt constrains it to keep every number and product name intact.
package reflection

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/brisaai/sicc/internal/behavior"
	"github.com/brisaai/sicc/internal/capability"
)

var tracer = otel.Tracer("sicc.reflection")

// correctionMarker prefixes a critic reply that replaces the draft.
// Anything else, including prose explaining why the draft is fine,
// leaves the draft untouched.
const correctionMarker = "[CORRIGIDO]"

const criticSystemPrompt = `Você é um revisor de estilo de atendimento ao cliente.
Avalie a resposta abaixo apenas quanto a tom, cordialidade e alinhamento com os exemplos de atendimento fornecidos.
NÃO altere preços, valores, nomes de produtos ou condições de pagamento.
Se a resposta já estiver adequada, responda exatamente: OK
Se precisar de ajuste de tom, responda com a versão corrigida precedida de [CORRIGIDO].`

// Critic rewrites approved drafts for tone and pattern alignment.
type Critic struct {
	generator capability.Generator
	logger    *zap.Logger
}

// NewCritic creates a reflection critic.
func NewCritic(generator capability.Generator, logger *zap.Logger) *Critic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Critic{generator: generator, logger: logger}
}

// Refine returns the draft, possibly rewritten for presentation. Failures
// are non-fatal: the approved draft always stands when the critic cannot
// run or declines to correct.
func (c *Critic) Refine(ctx context.Context, draft string, guidance []behavior.Pattern) string {
	ctx, span := tracer.Start(ctx, "reflection.Refine")
	defer span.End()

	var prompt strings.Builder
	if block := behavior.FewShotBlock(guidance); block != "" {
		prompt.WriteString(block)
		prompt.WriteString("\n")
	}
	fmt.Fprintf(&prompt, "Resposta a revisar:\n%s", draft)

	reply, err := c.generator.Generate(ctx, criticSystemPrompt, prompt.String())
	if err != nil {
		c.logger.Warn("reflection pass skipped", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Ok, "skipped")
		return draft
	}

	reply = strings.TrimSpace(reply)
	if !strings.HasPrefix(reply, correctionMarker) {
		span.SetAttributes(attribute.Bool("rewritten", false))
		span.SetStatus(codes.Ok, "unchanged")
		return draft
	}

	refined := strings.TrimSpace(strings.TrimPrefix(reply, correctionMarker))
	if refined == "" {
		span.SetStatus(codes.Ok, "unchanged")
		return draft
	}

	span.SetAttributes(attribute.Bool("rewritten", true))
	span.SetStatus(codes.Ok, "rewritten")
	c.logger.Debug("draft rewritten by reflection critic")
	return refined
}
