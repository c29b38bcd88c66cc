// Package selector locates form controls on pages whose markup this service
// does not control. Each role carries an ordered list of CSS candidates that
// operators can override from configuration without touching the driver.
package selector

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/findadoc-tester/internal/browser"
)

// Role names a control the search driver needs to find.
type Role string

// Roles resolved by the search driver.
const (
	RoleSpecialtyInput Role = "specialty_input"
	RoleZipInput       Role = "zip_input"
	RoleSubmitButton   Role = "submit_button"
	RoleNextPage       Role = "next_page"
)

// Candidates maps each role to its ordered selector list.
type Candidates map[Role][]string

// Defaults returns the stock candidate lists tuned for the UNC Health
// "find a doctor" page family.
func Defaults() Candidates {
	return Candidates{
		RoleSpecialtyInput: {
			`input[placeholder*="specialty" i]`,
			`input[placeholder*="condition" i]`,
			`input[name*="specialty"]`,
			`input[aria-label*="specialty" i]`,
			`#specialty`,
			`[data-testid*="specialty"]`,
		},
		RoleZipInput: {
			`input[placeholder*="zip" i]`,
			`input[placeholder*="location" i]`,
			`input[name*="zip"]`,
			`input[name*="location"]`,
			`#location`,
			`#zip`,
		},
		RoleSubmitButton: {
			`button[type="submit"]`,
			`button:has-text("Search")`,
			`button:has-text("Find")`,
			`input[type="submit"]`,
			`[data-testid*="search"]`,
			`button.search-button`,
		},
		RoleNextPage: {
			`a[rel="next"]`,
			`button[aria-label*="next" i]`,
			`a[aria-label*="next" i]`,
			`[class*="pagination"] [class*="next"]`,
			`[data-testid*="next"]`,
			`.next a`,
		},
	}
}

// Merge returns a copy of c where every non-empty list in overrides replaces
// the corresponding default.
func (c Candidates) Merge(overrides map[string][]string) Candidates {
	out := make(Candidates, len(c))
	for role, list := range c {
		out[role] = append([]string(nil), list...)
	}
	for name, list := range overrides {
		if len(list) == 0 {
			continue
		}
		out[Role(name)] = append([]string(nil), list...)
	}
	return out
}

// Resolver tries candidate lists against a live page.
type Resolver struct {
	candidates Candidates
	logger     *zap.Logger
}

// NewResolver builds a Resolver over the given candidates.
func NewResolver(candidates Candidates, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if candidates == nil {
		candidates = Defaults()
	}
	return &Resolver{candidates: candidates, logger: logger}
}

// Find resolves role on page. It returns nil when no candidate matches.
func (r *Resolver) Find(ctx context.Context, page browser.Page, role Role) (browser.Element, string) {
	el, sel := FindFirst(ctx, page, r.candidates[role], r.logger)
	if el != nil {
		r.logger.Debug("selector matched", zap.String("role", string(role)), zap.String("selector", sel))
	}
	return el, sel
}

// FindFirst tries candidates in order and returns the first element found
// with the selector that matched it. A candidate whose query fails is treated
// as a miss; later candidates are not evaluated once one matches.
func FindFirst(ctx context.Context, page browser.Page, candidates []string, logger *zap.Logger) (browser.Element, string) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, sel := range candidates {
		if ctx.Err() != nil {
			return nil, ""
		}
		el, err := page.Query(ctx, sel)
		if err != nil {
			logger.Debug("selector query failed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		if el != nil {
			return el, sel
		}
	}
	return nil, ""
}
