package rodbrowser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/findadoc-tester/internal/browser"
)

// chromeBinary returns a locally installed Chrome, or skips the test.
func chromeBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("browser integration test skipped in short mode")
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no Chrome binary on PATH")
	return ""
}

func TestLaunchNavigateAndQuery(t *testing.T) {
	bin := chromeBinary(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `<html><body><h1>Find a Doctor</h1>
<input id="specialty" placeholder="Specialty">
<a rel="next" class="next disabled" href="#">Next</a>
<script>
let keys = 0;
document.getElementById("specialty").addEventListener("keydown", () => { document.body.dataset.keys = ++keys; });
</script></body></html>`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	sess, err := New(zap.NewNop()).Launch(ctx, browser.LaunchOptions{
		Headless:       true,
		ExecPath:       bin,
		ViewportWidth:  1280,
		ViewportHeight: 800,
		Flags:          browser.DefaultFlags,
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.Close()) }()

	page, err := sess.NewPage(ctx)
	require.NoError(t, err)
	require.NoError(t, page.Navigate(ctx, srv.URL, browser.NavigateOptions{WaitUntil: browser.WaitLoad, Timeout: 20 * time.Second}))

	input, err := page.Query(ctx, "#specialty")
	require.NoError(t, err)
	require.NotNil(t, input)
	require.NoError(t, input.Focus(ctx))
	require.NoError(t, page.Keyboard().Type(ctx, "Cardiology", 0))

	missing, err := page.Query(ctx, "#absent")
	require.NoError(t, err)
	require.Nil(t, missing)

	next, err := page.Query(ctx, `a[rel="next"]`)
	require.NoError(t, err)
	require.NotNil(t, next)
	class, ok, err := next.Attribute(ctx, "class")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, class, "disabled")

	html, err := page.Content(ctx)
	require.NoError(t, err)
	require.Contains(t, html, "Find a Doctor")
	require.Contains(t, html, `data-keys="10"`, "typing must fire a keydown per character")

	shot, err := page.Screenshot(ctx)
	require.NoError(t, err)
	require.Greater(t, len(shot), 8)
	require.Equal(t, "\x89PNG", string(shot[:4]))
}
