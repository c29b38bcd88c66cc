package selector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/findadoc-tester/internal/browser"
)

func TestFindFirstReturnsFirstMatchWithoutProbingLater(t *testing.T) {
	t.Parallel()

	want := &stubElement{id: "b"}
	page := &stubPage{matches: map[string]browser.Element{"B": want}}

	got, sel := FindFirst(context.Background(), page, []string{"A", "B", "C"}, nil)
	require.Same(t, want, got)
	require.Equal(t, "B", sel)
	require.Equal(t, []string{"A", "B"}, page.queried)
}

func TestFindFirstNoMatch(t *testing.T) {
	t.Parallel()

	page := &stubPage{}
	got, sel := FindFirst(context.Background(), page, []string{"A", "B", "C"}, nil)
	require.Nil(t, got)
	require.Empty(t, sel)
	require.Equal(t, []string{"A", "B", "C"}, page.queried)
}

func TestFindFirstSkipsQueryErrors(t *testing.T) {
	t.Parallel()

	want := &stubElement{id: "c"}
	page := &stubPage{
		errs:    map[string]error{`button:has-text("Search")`: errors.New("invalid selector")},
		matches: map[string]browser.Element{"C": want},
	}
	got, sel := FindFirst(context.Background(), page, []string{`button:has-text("Search")`, "C"}, nil)
	require.Same(t, want, got)
	require.Equal(t, "C", sel)
}

func TestFindFirstStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	page := &stubPage{matches: map[string]browser.Element{"A": &stubElement{}}}
	got, _ := FindFirst(ctx, page, []string{"A"}, nil)
	require.Nil(t, got)
	require.Empty(t, page.queried)
}

func TestResolverUsesRoleCandidates(t *testing.T) {
	t.Parallel()

	want := &stubElement{id: "zip"}
	page := &stubPage{matches: map[string]browser.Element{"#zip": want}}
	r := NewResolver(Defaults(), nil)

	got, sel := r.Find(context.Background(), page, RoleZipInput)
	require.Same(t, want, got)
	require.Equal(t, "#zip", sel)

	got, _ = r.Find(context.Background(), page, RoleSpecialtyInput)
	require.Nil(t, got)
}

func TestCandidatesMerge(t *testing.T) {
	t.Parallel()

	base := Defaults()
	merged := base.Merge(map[string][]string{
		string(RoleNextPage): {".pager-next"},
		string(RoleZipInput): nil,
	})
	require.Equal(t, []string{".pager-next"}, merged[RoleNextPage])
	require.Equal(t, base[RoleZipInput], merged[RoleZipInput])

	merged[RoleZipInput][0] = "mutated"
	require.NotEqual(t, "mutated", base[RoleZipInput][0])
}

type stubPage struct {
	matches map[string]browser.Element
	errs    map[string]error
	queried []string
}

func (p *stubPage) Navigate(context.Context, string, browser.NavigateOptions) error { return nil }

func (p *stubPage) Query(_ context.Context, sel string) (browser.Element, error) {
	p.queried = append(p.queried, sel)
	if err, ok := p.errs[sel]; ok {
		return nil, err
	}
	if el, ok := p.matches[sel]; ok {
		return el, nil
	}
	return nil, nil
}

func (p *stubPage) Keyboard() browser.Keyboard { return nil }

func (p *stubPage) Content(context.Context) (string, error) { return "", nil }

func (p *stubPage) Screenshot(context.Context) ([]byte, error) { return nil, browser.ErrUnsupported }

type stubElement struct {
	id string
}

func (e *stubElement) Focus(context.Context) error { return nil }

func (e *stubElement) Click(context.Context) error { return nil }

func (e *stubElement) Attribute(context.Context, string) (string, bool, error) {
	return "", false, nil
}
