// Package supervisor validates draft replies against grounded facts.
//
// Validation is deterministic: drafts are checked with parsing and exact
// comparison, never by asking a model to grade another model. Every
// violation names the rule that fired and carries enough detail for the
// regeneration prompt to correct the draft.
package supervisor

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/brisaai/sicc/internal/grounding"
)

var tracer = otel.Tracer("sicc.supervisor")

// Validation rules.
const (
	// RulePriceMismatch fires when a product is cited with a price that
	// differs from the catalog.
	RulePriceMismatch = "price_mismatch"

	// RuleUnknownPrice fires when the draft quotes a price that matches no
	// product in the catalog.
	RuleUnknownPrice = "unknown_price"

	// RuleDiscountOffer fires when the draft offers a discount. Discounts
	// are never allowed; only installment plans are.
	RuleDiscountOffer = "discount_offer"
)

// Violation is a single rule failure.
type Violation struct {
	Rule     string `json:"rule"`
	Detail   string `json:"detail"`
	Expected string `json:"expected,omitempty"`
	Got      string `json:"got,omitempty"`
}

// Verdict is the outcome of validating one draft.
type Verdict struct {
	Approved   bool        `json:"approved"`
	Violations []Violation `json:"violations,omitempty"`
}

// CorrectionHint renders the violations as guidance for regeneration.
func (v Verdict) CorrectionHint() string {
	if v.Approved || len(v.Violations) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("A resposta anterior foi reprovada. Corrija os seguintes problemas:\n")
	for _, violation := range v.Violations {
		fmt.Fprintf(&b, "- %s\n", violation.Detail)
	}
	return b.String()
}

// Validator validates drafts against a grounding source.
type Validator struct {
	source grounding.Source
	logger *zap.Logger
}

// NewValidator creates a validator over the given facts source.
func NewValidator(source grounding.Source, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{source: source, logger: logger}
}

// Validate checks a draft reply against the tenant's catalog.
func (v *Validator) Validate(ctx context.Context, draft string) (Verdict, error) {
	ctx, span := tracer.Start(ctx, "supervisor.Validate")
	defer span.End()

	products, err := v.source.Products(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Verdict{}, fmt.Errorf("loading grounding facts: %w", err)
	}

	verdict := validate(draft, products)

	span.SetAttributes(
		attribute.Bool("approved", verdict.Approved),
		attribute.Int("violations", len(verdict.Violations)),
	)
	span.SetStatus(codes.Ok, "success")

	if !verdict.Approved {
		rules := make([]string, len(verdict.Violations))
		for i, violation := range verdict.Violations {
			rules[i] = violation.Rule
		}
		v.logger.Warn("draft rejected by supervisor", zap.Strings("rules", rules))
	}
	return verdict, nil
}

// validate runs all rules over the draft. Pure function, no I/O.
func validate(draft string, products []grounding.Product) Verdict {
	var violations []Violation

	violations = append(violations, checkDiscounts(draft)...)
	violations = append(violations, checkPrices(draft, products)...)

	return Verdict{
		Approved:   len(violations) == 0,
		Violations: violations,
	}
}

// discountMarkers are phrases that constitute offering a discount.
var discountMarkers = []string{
	"desconto",
	"preço especial",
	"preco especial",
	"abaixo do preço",
	"abaixo do preco",
}

func checkDiscounts(draft string) []Violation {
	lower := strings.ToLower(draft)
	for _, marker := range discountMarkers {
		if strings.Contains(lower, marker) {
			return []Violation{{
				Rule:   RuleDiscountOffer,
				Detail: fmt.Sprintf("a resposta oferece desconto (%q); descontos não são permitidos, apenas parcelamento", marker),
			}}
		}
	}
	return nil
}

// checkPrices verifies every price quoted in the draft.
//
// A quoted price is judged against the product it appears with: if a
// catalog product's name occurs in the same sentence, the price must match
// that product exactly. A price with no product nearby must still match
// some catalog product, otherwise it is unattributable and rejected.
func checkPrices(draft string, products []grounding.Product) []Violation {
	var violations []Violation

	for _, sentence := range splitSentences(draft) {
		prices := extractPrices(sentence)
		if len(prices) == 0 {
			continue
		}

		mentioned := productsMentioned(sentence, products)

		for _, price := range prices {
			if len(mentioned) > 0 {
				if _, ok := matchesAny(price.Value, mentioned); !ok {
					violations = append(violations, Violation{
						Rule: RulePriceMismatch,
						Detail: fmt.Sprintf("preço incorreto para %q: esperado %s, informado %s",
							mentioned[0].Name, formatPrice(mentioned[0].Price), price.Raw),
						Expected: formatPrice(mentioned[0].Price),
						Got:      price.Raw,
					})
				}
				continue
			}

			if _, ok := matchesAny(price.Value, products); !ok {
				violations = append(violations, Violation{
					Rule:   RuleUnknownPrice,
					Detail: fmt.Sprintf("preço %s não corresponde a nenhum produto do catálogo", price.Raw),
					Got:    price.Raw,
				})
			}
		}
	}
	return violations
}

// matchesAny reports whether the value equals some product's price.
func matchesAny(value float64, products []grounding.Product) (grounding.Product, bool) {
	const epsilon = 0.005
	for _, p := range products {
		diff := value - p.Price
		if diff < epsilon && diff > -epsilon {
			return p, true
		}
	}
	return grounding.Product{}, false
}

// productsMentioned returns catalog products whose name occurs in the text.
func productsMentioned(text string, products []grounding.Product) []grounding.Product {
	lower := strings.ToLower(text)
	var mentioned []grounding.Product
	for _, p := range products {
		if strings.Contains(lower, strings.ToLower(p.Name)) {
			mentioned = append(mentioned, p)
		}
	}
	return mentioned
}

// splitSentences breaks text on sentence-ending punctuation and newlines.
// A dot between two digits is a thousands separator ("R$ 1.299,90"), not
// a sentence boundary.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		switch r {
		case '!', '?', '\n':
			sentences = appendSentence(sentences, b.String())
			b.Reset()
		case '.':
			if i > 0 && i+1 < len(runes) && isDigit(runes[i-1]) && isDigit(runes[i+1]) {
				b.WriteRune(r)
				continue
			}
			sentences = appendSentence(sentences, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	return appendSentence(sentences, b.String())
}

func appendSentence(sentences []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return sentences
	}
	return append(sentences, s)
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// formatPrice renders a price the way the violations report it.
func formatPrice(value float64) string {
	s := fmt.Sprintf("%.2f", value)
	s = strings.ReplaceAll(s, ".", ",")
	return "R$ " + s
}
