// Package country resolves ISO 3166-1 alpha-2 codes to English display names.
package country

import (
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var regionNames = display.Regions(language.English)

// Name returns the English name of a two-letter country code. Codes the
// CLDR tables do not know are returned unchanged.
func Name(code string) string {
	region, err := language.ParseRegion(code)
	if err != nil {
		return code
	}
	if name := regionNames.Name(region); name != "" {
		return name
	}
	return code
}
