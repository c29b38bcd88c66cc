// Package specialty holds the static specialty table and resolves request
// input into a validated search configuration.
package specialty

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSpecialty is returned when the requested specialty is unknown or
// a custom specialty carries no usable terms.
var ErrInvalidSpecialty = errors.New("invalid specialty selected")

// CustomName is the request name that bypasses the built-in table.
const CustomName = "Custom"

// Config describes a specialty and the synonym terms used to judge relevance.
type Config struct {
	Name        string   `json:"name"`
	Terms       []string `json:"terms"`
	Description string   `json:"description"`
}

var builtins = []Config{
	{
		Name:        "Cardiology",
		Terms:       []string{"cardiology", "cardiologist", "heart", "cardiac", "cardiovascular"},
		Description: "Heart and cardiovascular specialists",
	},
	{
		Name:        "Dermatology",
		Terms:       []string{"dermatology", "dermatologist", "skin", "dermatologic"},
		Description: "Skin specialists",
	},
	{
		Name:        "Orthopedics",
		Terms:       []string{"orthopedic", "orthopedics", "orthopaedic", "bone", "joint", "sports medicine"},
		Description: "Bone and joint specialists",
	},
	{
		Name:        "Pediatrics",
		Terms:       []string{"pediatric", "pediatrics", "child", "children", "adolescent"},
		Description: "Children's health specialists",
	},
	{
		Name:        "Neurology",
		Terms:       []string{"neurology", "neurologist", "brain", "nerve", "neurological"},
		Description: "Brain and nervous system specialists",
	},
}

// List returns a copy of the built-in table in declaration order.
func List() []Config {
	out := make([]Config, 0, len(builtins))
	for _, cfg := range builtins {
		out = append(out, cfg.clone())
	}
	return out
}

// Resolve maps a request onto a Config. Lookup is exact and case-sensitive.
// The name "Custom" builds a config from customTerms split on commas.
func Resolve(name, customTerms string) (Config, error) {
	if name == CustomName {
		terms := ParseTerms(customTerms)
		if len(terms) == 0 {
			return Config{}, fmt.Errorf("%w: custom specialty requires at least one term", ErrInvalidSpecialty)
		}
		return Config{
			Name:        "Custom Search",
			Terms:       terms,
			Description: "Custom specialty search",
		}, nil
	}
	for _, cfg := range builtins {
		if cfg.Name == name {
			return cfg.clone(), nil
		}
	}
	return Config{}, fmt.Errorf("%w: %q", ErrInvalidSpecialty, name)
}

// ParseTerms splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func ParseTerms(raw string) []string {
	var terms []string
	for _, part := range strings.Split(raw, ",") {
		if term := strings.TrimSpace(part); term != "" {
			terms = append(terms, term)
		}
	}
	return terms
}

func (c Config) clone() Config {
	c.Terms = append([]string(nil), c.Terms...)
	return c
}
