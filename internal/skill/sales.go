package skill

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/brisaai/sicc/internal/grounding"
)

// salesProductLimit bounds how many products one reply may offer.
const salesProductLimit = 3

// SalesSkill resolves the tenant catalog into a sales-focused prompt
// addendum. The prices it injects come from the same catalog the
// supervisor validates against, so a correct generation passes validation
// by construction.
type SalesSkill struct {
	source grounding.Source
	logger *zap.Logger
}

// NewSalesSkill creates the sales skill over the tenant catalog.
func NewSalesSkill(source grounding.Source, logger *zap.Logger) *SalesSkill {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SalesSkill{source: source, logger: logger}
}

func (s *SalesSkill) Name() string { return "product_sales" }

func (s *SalesSkill) Description() string {
	return "Atende interesse de compra, perguntas sobre preços, produtos e condições de pagamento."
}

func (s *SalesSkill) Keywords() []string {
	return []string{"preço", "preco", "comprar", "produto", "valor", "quanto custa", "parcel", "pagamento"}
}

// Execute loads the tenant's products and formats them for generation.
func (s *SalesSkill) Execute(ctx context.Context, message string) (Output, error) {
	products, err := s.source.Products(ctx)
	if err != nil {
		return Output{}, fmt.Errorf("loading catalog: %w", err)
	}
	if len(products) == 0 {
		return Output{}, nil
	}
	if len(products) > salesProductLimit {
		products = products[:salesProductLimit]
	}

	var b strings.Builder
	b.WriteString("### PRODUTOS DISPONÍVEIS:\n")
	for _, p := range products {
		fmt.Fprintf(&b, "- %s: %s\n", p.Name, p.DisplayPrice())
	}
	b.WriteString("\nDIRETRIZ DE VENDA: informe apenas os preços acima, exatamente como listados. ")
	b.WriteString("Ofereça parcelamento em até 12x. Nunca ofereça descontos.")

	s.logger.Debug("sales skill resolved products", zap.Int("count", len(products)))
	return Output{PromptContext: b.String()}, nil
}

var _ Skill = (*SalesSkill)(nil)
