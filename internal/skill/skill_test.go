package skill

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brisaai/sicc/internal/grounding"
)

type stubSkill struct {
	name     string
	keywords []string
}

func (s *stubSkill) Name() string        { return s.name }
func (s *stubSkill) Description() string { return s.name }
func (s *stubSkill) Keywords() []string  { return s.keywords }
func (s *stubSkill) Execute(ctx context.Context, message string) (Output, error) {
	return Output{PromptContext: s.name}, nil
}

func newTestRegistry() *Registry {
	r := NewRegistry(nil)
	r.Register(&stubSkill{name: "product_sales", keywords: []string{"preço", "comprar", "valor"}})
	r.Register(&stubSkill{name: "scheduling", keywords: []string{"agendar", "horário"}})
	return r
}

func TestRouteMatchesKeywords(t *testing.T) {
	r := newTestRegistry()

	tests := []struct {
		message string
		want    string
	}{
		{"qual o preço do colchão?", "product_sales"},
		{"quero agendar uma visita", "scheduling"},
		{"bom dia, tudo bem?", GeneralSlug},
		{"PREÇO à vista?", "product_sales"},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Route(tt.message, nil))
		})
	}
}

func TestRouteMostHitsWins(t *testing.T) {
	r := newTestRegistry()
	// One scheduling hit versus two sales hits.
	got := r.Route("qual o valor e o preço para agendar?", nil)
	assert.Equal(t, "product_sales", got)
}

func TestRouteHonorsEnabledSet(t *testing.T) {
	r := newTestRegistry()

	assert.Equal(t, GeneralSlug, r.Route("qual o preço?", []string{"scheduling"}))
	assert.Equal(t, "product_sales", r.Route("qual o preço?", []string{"product_sales"}))
}

func TestRegistryGetAndList(t *testing.T) {
	r := newTestRegistry()

	s, err := r.Get("product_sales")
	require.NoError(t, err)
	assert.Equal(t, "product_sales", s.Name())

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrSkillNotFound)

	assert.Equal(t, []string{"product_sales", "scheduling"}, r.List())
}

type staticCatalog struct {
	products []grounding.Product
	err      error
}

func (s *staticCatalog) Products(ctx context.Context) ([]grounding.Product, error) {
	return s.products, s.err
}

func TestSalesSkillFormatsCatalog(t *testing.T) {
	sales := NewSalesSkill(&staticCatalog{products: []grounding.Product{
		{Name: "Plano Premium", Price: 150},
		{Name: "Notebook Pro", Price: 1299.90},
	}}, nil)

	out, err := sales.Execute(context.Background(), "qual o preço?")
	require.NoError(t, err)
	assert.Contains(t, out.PromptContext, "- Plano Premium: R$ 150,00")
	assert.Contains(t, out.PromptContext, "- Notebook Pro: R$ 1299,90")
	assert.Contains(t, out.PromptContext, "12x")
	assert.Contains(t, out.PromptContext, "Nunca ofereça descontos")
}

func TestSalesSkillLimitsProducts(t *testing.T) {
	products := make([]grounding.Product, 5)
	for i := range products {
		products[i] = grounding.Product{Name: string(rune('A' + i)), Price: float64(i + 1)}
	}
	sales := NewSalesSkill(&staticCatalog{products: products}, nil)

	out, err := sales.Execute(context.Background(), "produtos")
	require.NoError(t, err)
	assert.Contains(t, out.PromptContext, "- C:")
	assert.NotContains(t, out.PromptContext, "- D:")
}

func TestSalesSkillEmptyCatalog(t *testing.T) {
	sales := NewSalesSkill(&staticCatalog{}, nil)
	out, err := sales.Execute(context.Background(), "produtos")
	require.NoError(t, err)
	assert.Empty(t, out.PromptContext)
}

func TestSalesSkillPropagatesCatalogFailure(t *testing.T) {
	catErr := errors.New("db down")
	sales := NewSalesSkill(&staticCatalog{err: catErr}, nil)
	_, err := sales.Execute(context.Background(), "produtos")
	assert.ErrorIs(t, err, catErr)
}
