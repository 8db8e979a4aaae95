package telemetry

import "strings"

// PriceLevel is the coarse categorical label that Tibber attaches to a price
// point. It is only used to localize the status output - the optimizer works
// on the numerical prices alone.
type PriceLevel string

const (
	PriceLevelVeryCheap     PriceLevel = "VERY_CHEAP"
	PriceLevelCheap         PriceLevel = "CHEAP"
	PriceLevelNormal        PriceLevel = "NORMAL"
	PriceLevelExpensive     PriceLevel = "EXPENSIVE"
	PriceLevelVeryExpensive PriceLevel = "VERY_EXPENSIVE"
)

// priceLevelAliases maps the raw sensor strings onto the canonical levels.
// The Tibber integration reports either the API enum or a localized label,
// depending on the Home Assistant language setting.
var priceLevelAliases = map[string]PriceLevel{
	"very_cheap":     PriceLevelVeryCheap,
	"sehr günstig":   PriceLevelVeryCheap,
	"sehr guenstig":  PriceLevelVeryCheap,
	"cheap":          PriceLevelCheap,
	"günstig":        PriceLevelCheap,
	"guenstig":       PriceLevelCheap,
	"normal":         PriceLevelNormal,
	"expensive":      PriceLevelExpensive,
	"teuer":          PriceLevelExpensive,
	"very_expensive": PriceLevelVeryExpensive,
	"sehr teuer":     PriceLevelVeryExpensive,
}

// ParsePriceLevel maps a raw sensor string onto a PriceLevel. Anything
// unrecognized collapses to NORMAL.
func ParsePriceLevel(raw string) PriceLevel {
	level, ok := priceLevelAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return PriceLevelNormal
	}
	return level
}

// Localized returns a German display label for the level.
func (l PriceLevel) Localized() string {
	switch l {
	case PriceLevelVeryCheap:
		return "sehr günstig"
	case PriceLevelCheap:
		return "günstig"
	case PriceLevelExpensive:
		return "teuer"
	case PriceLevelVeryExpensive:
		return "sehr teuer"
	default:
		return "normal"
	}
}
