package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/findadoc-tester/internal/config"
	"github.com/JakeFAU/findadoc-tester/internal/provider"
	"github.com/JakeFAU/findadoc-tester/internal/server"
)

func useTestApp(t *testing.T) {
	t.Helper()
	orig := buildApp
	buildApp = func(ctx context.Context, cfg *config.Config) (*server.App, error) {
		return server.Build(ctx, cfg, server.WithLogger(zap.NewNop()), server.WithRegisterer(prometheus.NewRegistry()))
	}
	t.Cleanup(func() { buildApp = orig })
}

func writeConfig(t *testing.T, targetURL string) string {
	t.Helper()
	body := fmt.Sprintf(`target:
  url: %q
browser:
  backend: static
search:
  nav_backoff_ms: 0
  post_nav_settle_ms: 0
  type_delay_ms: 0
  field_settle_ms: 0
  submit_settle_ms: 0
  page_settle_ms: 0
  navigation_qps: 0
  max_pages: 1
logging:
  development: false
`, targetURL)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunCommandPrintsReport(t *testing.T) {
	useTestApp(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `<form action="/results"><input name="specialty" placeholder="specialty"><button type="submit">Search</button></form>`)
	})
	mux.HandleFunc("/results", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `<div class="doctor-card"><h3>Dr. Iris Nerve</h3><span class="specialty">Neurology</span></div>`)
	})
	site := httptest.NewServer(mux)
	defer site.Close()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"run", "--config", writeConfig(t, site.URL), "--specialty", "Neurology", "--zip", "27514"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	var report provider.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &report), out.String())
	require.Equal(t, "Neurology", report.Specialty)
	require.Equal(t, 1, report.Results.Total)
	require.Equal(t, 1, report.Results.Relevant)
}

func TestRunCommandRequiresSpecialty(t *testing.T) {
	useTestApp(t)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "--zip", "27514"})
	require.ErrorContains(t, root.ExecuteContext(context.Background()), "specialty")
}

func TestRootCommandRejectsBadConfig(t *testing.T) {
	useTestApp(t)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "--specialty", "Neurology"})
	require.ErrorContains(t, root.ExecuteContext(context.Background()), "load config")
}

func TestResolveAppMissing(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
