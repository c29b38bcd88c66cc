// Package extract pulls provider listings out of a rendered results page.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/findadoc-tester/internal/provider"
)

// Selectors configures the listing-card heuristic.
type Selectors struct {
	// Card matches elements believed to be one provider listing each.
	Card string `mapstructure:"card"`
	// Name is queried inside each card; the first match supplies the name.
	Name string `mapstructure:"name"`
	// Specialty is queried inside each card for a specialty label.
	Specialty string `mapstructure:"specialty"`
}

// DefaultSelectors returns the heuristics tuned for the target page family.
func DefaultSelectors() Selectors {
	return Selectors{
		Card:      `[class*="provider"], [class*="doctor"], [class*="physician"], [data-testid*="provider"]`,
		Name:      `[class*="name"], h2, h3, h4, a[href*="provider"]`,
		Specialty: `[class*="specialty"], [class*="title"]`,
	}
}

func (s Selectors) withDefaults() Selectors {
	def := DefaultSelectors()
	if strings.TrimSpace(s.Card) == "" {
		s.Card = def.Card
	}
	if strings.TrimSpace(s.Name) == "" {
		s.Name = def.Name
	}
	if strings.TrimSpace(s.Specialty) == "" {
		s.Specialty = def.Specialty
	}
	return s
}

// Providers parses html and returns one record per matched card, in document
// order. Cards without a name are dropped. Nested matches each produce a
// record, mirroring querySelectorAll.
func Providers(html string, sel Selectors) ([]provider.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}
	return FromDocument(doc, sel), nil
}

// FromDocument runs the card heuristic against an already parsed document.
func FromDocument(doc *goquery.Document, sel Selectors) []provider.Record {
	sel = sel.withDefaults()
	var records []provider.Record
	doc.Find(sel.Card).Each(func(_ int, card *goquery.Selection) {
		name := strings.TrimSpace(card.Find(sel.Name).First().Text())
		if name == "" {
			return
		}
		records = append(records, provider.Record{
			Name:      name,
			Specialty: strings.TrimSpace(card.Find(sel.Specialty).First().Text()),
			FullText:  strings.ToLower(card.Text()),
		})
	})
	return records
}
