package catalog

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/hanko-field/storefront/internal/domain"
)

// Filter narrows the product listing. Empty fields match everything.
type Filter struct {
	Search        string
	Category      string
	Compatibility []string
	Function      []string
	Brand         []string
	PriceRange    string
}

// ParseFilter reads a Filter from query parameters. Multi-valued keys accept
// repeated parameters or comma separated values.
func ParseFilter(values url.Values) Filter {
	return Filter{
		Search:        strings.TrimSpace(values.Get("search")),
		Category:      strings.TrimSpace(values.Get("category")),
		Compatibility: listParam(values, "compatibility"),
		Function:      listParam(values, "function"),
		Brand:         listParam(values, "brand"),
		PriceRange:    strings.TrimSpace(values.Get("price")),
	}
}

// Match reports whether product satisfies every populated field.
func (f Filter) Match(product domain.Product) bool {
	name := strings.ToLower(product.Name)
	category := strings.ToLower(product.Category)
	description := strings.ToLower(product.Description)

	if term := strings.ToLower(f.Search); term != "" {
		if !strings.Contains(name, term) && !strings.Contains(category, term) {
			return false
		}
	}
	if f.Category != "" && !strings.EqualFold(f.Category, product.Category) {
		return false
	}
	if !containsAny(f.Compatibility, name, description) {
		return false
	}
	if !containsAny(f.Function, name, description) {
		return false
	}
	if !containsAny(f.Brand, name) {
		return false
	}
	if f.PriceRange != "" {
		lower, upper, ok := parsePriceRange(f.PriceRange)
		if ok && (product.Price < lower || (upper > 0 && product.Price > upper)) {
			return false
		}
	}
	return true
}

// containsAny is true when keywords is empty or any keyword occurs in any field.
func containsAny(keywords []string, fields ...string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, keyword := range keywords {
		keyword = strings.ToLower(keyword)
		for _, field := range fields {
			if strings.Contains(field, keyword) {
				return true
			}
		}
	}
	return false
}

// parsePriceRange accepts "min-max", "min-" and "-max". A zero max means unbounded.
func parsePriceRange(raw string) (float64, float64, bool) {
	lo, hi, found := strings.Cut(raw, "-")
	if !found {
		return 0, 0, false
	}
	var lower, upper float64
	if lo = strings.TrimSpace(lo); lo != "" {
		v, err := strconv.ParseFloat(lo, 64)
		if err != nil {
			return 0, 0, false
		}
		lower = v
	}
	if hi = strings.TrimSpace(hi); hi != "" {
		v, err := strconv.ParseFloat(hi, 64)
		if err != nil {
			return 0, 0, false
		}
		upper = v
	}
	return lower, upper, true
}

func listParam(values url.Values, key string) []string {
	var out []string
	for _, raw := range values[key] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
