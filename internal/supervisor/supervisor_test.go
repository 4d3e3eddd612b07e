package supervisor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brisaai/sicc/internal/grounding"
)

var testCatalog = []grounding.Product{
	{Name: "Plano Premium", Price: 150.00, Currency: "BRL"},
	{Name: "Plano Básico", Price: 49.90, Currency: "BRL"},
	{Name: "Notebook Pro", Price: 1299.90, Currency: "BRL"},
}

func TestValidateApprovesCorrectPrices(t *testing.T) {
	tests := []struct {
		name  string
		draft string
	}{
		{"currency form", "O Plano Premium custa R$ 150,00."},
		{"no cents", "O Plano Premium sai por R$ 150 à vista."},
		{"word form", "O Plano Básico custa 49,90 reais por mês."},
		{"thousands separator", "O Notebook Pro está por R$ 1.299,90."},
		{"installments allowed", "O Notebook Pro sai por R$ 1.299,90 em até 12x sem juros."},
		{"no prices at all", "Funcionamos das 9h às 18h, de segunda a sexta."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := validate(tt.draft, testCatalog)
			assert.True(t, verdict.Approved, "violations: %v", verdict.Violations)
		})
	}
}

func TestValidateRejectsPriceMismatch(t *testing.T) {
	verdict := validate("O Plano Premium custa R$ 100,00.", testCatalog)
	require.False(t, verdict.Approved)
	require.Len(t, verdict.Violations, 1)

	v := verdict.Violations[0]
	assert.Equal(t, RulePriceMismatch, v.Rule)
	assert.Equal(t, "R$ 150,00", v.Expected)
	assert.Equal(t, "R$ 100,00", v.Got)
	assert.Contains(t, v.Detail, "Plano Premium")
}

func TestValidateRejectsUnknownPrice(t *testing.T) {
	verdict := validate("Temos uma oferta por R$ 999,99, aproveite.", testCatalog)
	require.False(t, verdict.Approved)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, RuleUnknownPrice, verdict.Violations[0].Rule)
	assert.Equal(t, "R$ 999,99", verdict.Violations[0].Got)
}

func TestValidateRejectsDiscountOffers(t *testing.T) {
	tests := []struct {
		name  string
		draft string
	}{
		{"explicit discount", "Posso fazer um desconto de 10% para você."},
		{"special price", "Consigo um preço especial hoje."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := validate(tt.draft, testCatalog)
			require.False(t, verdict.Approved)
			assert.Equal(t, RuleDiscountOffer, verdict.Violations[0].Rule)
		})
	}
}

func TestValidateUnattributedButCatalogPriceApproved(t *testing.T) {
	// A correct catalog price with the product name in another sentence.
	verdict := validate("Esse modelo custa R$ 1.299,90.", testCatalog)
	assert.True(t, verdict.Approved, "violations: %v", verdict.Violations)
}

func TestValidateMultipleViolations(t *testing.T) {
	draft := "O Plano Premium custa R$ 120,00! E posso dar um desconto."
	verdict := validate(draft, testCatalog)
	require.False(t, verdict.Approved)
	require.Len(t, verdict.Violations, 2)

	rules := []string{verdict.Violations[0].Rule, verdict.Violations[1].Rule}
	assert.Contains(t, rules, RuleDiscountOffer)
	assert.Contains(t, rules, RulePriceMismatch)
}

func TestCorrectionHint(t *testing.T) {
	verdict := validate("O Plano Premium custa R$ 100,00.", testCatalog)
	hint := verdict.CorrectionHint()
	assert.Contains(t, hint, "reprovada")
	assert.Contains(t, hint, "R$ 150,00")

	assert.Empty(t, Verdict{Approved: true}.CorrectionHint())
}

func TestExtractPrices(t *testing.T) {
	tests := []struct {
		text string
		want []float64
	}{
		{"R$ 150,00", []float64{150}},
		{"R$150", []float64{150}},
		{"R$ 1.299,90", []float64{1299.90}},
		{"custa 49,90 reais", []float64{49.90}},
		{"custa 1 real", []float64{1}},
		{"R$ 150,5", []float64{150.50}},
		{"sem preço nenhum", nil},
		{"12x de R$ 108,33", []float64{108.33}},
		{"R$ 150,00 ou R$ 49,90", []float64{150, 49.90}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := extractPrices(tt.text)
			require.Len(t, got, len(tt.want))
			for i, want := range tt.want {
				assert.InDelta(t, want, got[i].Value, 0.001)
			}
		})
	}
}

type staticSource struct {
	products []grounding.Product
	err      error
}

func (s *staticSource) Products(ctx context.Context) ([]grounding.Product, error) {
	return s.products, s.err
}

func TestValidatorUsesSource(t *testing.T) {
	validator := NewValidator(&staticSource{products: testCatalog}, nil)

	verdict, err := validator.Validate(context.Background(), "O Plano Premium custa R$ 150,00.")
	require.NoError(t, err)
	assert.True(t, verdict.Approved)

	verdict, err = validator.Validate(context.Background(), "O Plano Premium custa R$ 90,00.")
	require.NoError(t, err)
	assert.False(t, verdict.Approved)
}

func TestValidatorPropagatesSourceFailure(t *testing.T) {
	sourceErr := errors.New("catalog unavailable")
	validator := NewValidator(&staticSource{err: sourceErr}, nil)

	_, err := validator.Validate(context.Background(), "qualquer resposta")
	require.Error(t, err)
	assert.ErrorIs(t, err, sourceErr)
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "plain sentences",
			text: "Olá! Como posso ajudar? Estou à disposição.",
			want: []string{"Olá", "Como posso ajudar", "Estou à disposição"},
		},
		{
			name: "thousands separator stays intact",
			text: "O Notebook Pro está por R$ 1.299,90. Posso reservar um?",
			want: []string{"O Notebook Pro está por R$ 1.299,90", "Posso reservar um"},
		},
		{
			name: "trailing dot after price",
			text: "Custa R$ 1.299,90.",
			want: []string{"Custa R$ 1.299,90"},
		},
		{
			name: "newlines split",
			text: "Primeira linha\nSegunda linha",
			want: []string{"Primeira linha", "Segunda linha"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitSentences(tt.text))
		})
	}
}
