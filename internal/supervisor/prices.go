package supervisor

import (
	"regexp"
	"strconv"
	"strings"
)

// Price is a monetary amount found in a draft.
type Price struct {
	// Raw is the text as it appeared, for violation messages.
	Raw string
	// Value is the parsed amount.
	Value float64
}

// Brazilian price spellings: "R$ 1.299,90", "R$150", "1299.90 reais",
// "150 reais". Thousands separated by dots, decimals by comma.
var (
	currencyPriceRe = regexp.MustCompile(`R\$\s*([0-9]{1,3}(?:\.[0-9]{3})*|[0-9]+)(?:,([0-9]{1,2}))?`)
	wordPriceRe     = regexp.MustCompile(`([0-9]{1,3}(?:\.[0-9]{3})*|[0-9]+)(?:,([0-9]{1,2}))?\s+rea(?:l|is)\b`)
)

// extractPrices finds every price quoted in the text.
func extractPrices(text string) []Price {
	var prices []Price
	for _, re := range []*regexp.Regexp{currencyPriceRe, wordPriceRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			value, ok := parseAmount(m[1], m[2])
			if !ok {
				continue
			}
			prices = append(prices, Price{Raw: strings.TrimSpace(m[0]), Value: value})
		}
	}
	return prices
}

// parseAmount converts a "1.299" integer part and optional "90" cents part.
func parseAmount(intPart, centsPart string) (float64, bool) {
	intPart = strings.ReplaceAll(intPart, ".", "")
	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, false
	}
	value := float64(whole)
	if centsPart != "" {
		if len(centsPart) == 1 {
			centsPart += "0"
		}
		cents, err := strconv.ParseInt(centsPart, 10, 64)
		if err != nil {
			return 0, false
		}
		value += float64(cents) / 100
	}
	return value, true
}
