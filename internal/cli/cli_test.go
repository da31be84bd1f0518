package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	blobcore "crmcore/internal/blob/core"
	"crmcore/internal/core"
	"crmcore/internal/infra/cache"
	"crmcore/pkg/domain"
)

type harness struct {
	t    *testing.T
	args []string
}

// newHarness runs every command against one sqlite file so state survives
// between invocations.
func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("CRMCORE_EXPORT_DRIVER", "fs")
	t.Setenv("CRMCORE_EXPORT_FS_ROOT", filepath.Join(dir, "exports"))
	return &harness{t: t, args: []string{
		"--driver", "sqlite",
		"--sqlite-path", filepath.Join(dir, "crm.db"),
		"--no-color",
	}}
}

func (h *harness) run(args ...string) (string, string, error) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	err := Execute(context.Background(), append(append([]string{}, h.args...), args...), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func (h *harness) mustJSON(dst any, args ...string) string {
	h.t.Helper()
	stdout, stderr, err := h.run(append(args, "-o", "json")...)
	if err != nil {
		h.t.Fatalf("%v: %v\nstderr: %s", args, err, stderr)
	}
	if err := json.Unmarshal([]byte(stdout), dst); err != nil {
		h.t.Fatalf("%v: decode %q: %v", args, stdout, err)
	}
	return stderr
}

func TestContactCommands(t *testing.T) {
	h := newHarness(t)

	var ada domain.Contact
	stderr := h.mustJSON(&ada, "contact", "create", "--first", "Ada", "--last", "Lovelace", "--email", "ADA@example.com")
	if ada.ID == 0 || ada.Email != "ada@example.com" || ada.Status != domain.ContactStatusLead {
		t.Fatalf("unexpected contact %+v", ada)
	}
	if !strings.Contains(stderr, "✓ Contact created") {
		t.Fatalf("expected success notice, got %q", stderr)
	}
	var grace domain.Contact
	h.mustJSON(&grace, "contact", "create", "--first", "Grace", "--tag", "vip")

	if _, stderr, err := h.run("contact", "set-status", "active", ada.ID.String()+","+grace.ID.String()); err != nil {
		t.Fatalf("set-status: %v (%s)", err, stderr)
	}
	var page domain.ListResult[domain.Contact]
	h.mustJSON(&page, "contact", "list", "--filter", "status=active")
	if page.Total != 2 {
		t.Fatalf("expected 2 active contacts, got %+v", page)
	}

	var renamed domain.Contact
	h.mustJSON(&renamed, "contact", "update", ada.ID.String(), "--phone", "+44 20 7946 0000")
	if renamed.Phone == "" || renamed.FirstName != "Ada" || renamed.Version != ada.Version+2 {
		t.Fatalf("unexpected update result %+v", renamed)
	}

	if _, _, err := h.run("contact", "delete", grace.ID.String()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, _, err := h.run("contact", "get", grace.ID.String())
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != domain.ErrNotFound {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestContactValidationIsNotified(t *testing.T) {
	h := newHarness(t)
	_, stderr, err := h.run("contact", "create", "--email", "not-an-email")
	if !errors.Is(err, ErrNotified) {
		t.Fatalf("expected ErrNotified, got %v", err)
	}
	if !strings.Contains(stderr, "✗") {
		t.Fatalf("expected failure notice, got %q", stderr)
	}
}

func TestDealLifecycleCommands(t *testing.T) {
	h := newHarness(t)

	var pipeline domain.Pipeline
	h.mustJSON(&pipeline, "pipeline", "create", "Sales", "--stages", "Discovery,Proposal")
	if len(pipeline.Stages) != 4 {
		t.Fatalf("expected 2 open and 2 terminal stages, got %+v", pipeline.Stages)
	}
	discovery, proposal := pipeline.Stages[0], pipeline.Stages[1]

	// Each step decodes into a fresh value so omitted fields read as empty.
	var deal domain.Deal
	h.mustJSON(&deal, "deal", "create", "Expansion", "--pipeline", pipeline.ID.String(), "--value", "1200.5", "--currency", "eur")
	if deal.Status != domain.DealOpen || deal.StageID != discovery.ID || deal.Currency != "EUR" {
		t.Fatalf("unexpected deal %+v", deal)
	}
	id := deal.ID.String()

	var moved domain.Deal
	h.mustJSON(&moved, "deal", "move", id, proposal.ID.String())
	if moved.StageID != proposal.ID {
		t.Fatalf("expected proposal stage, got %+v", moved)
	}
	var lost domain.Deal
	h.mustJSON(&lost, "deal", "lost", id, "--reason", "budget")
	if lost.Status != domain.DealLost || lost.LostReason != "budget" || lost.ClosedAt == nil {
		t.Fatalf("unexpected lost deal %+v", lost)
	}

	_, stderr, err := h.run("deal", "won", id)
	if !errors.Is(err, ErrNotified) {
		t.Fatalf("expected won from LOST to be rejected, got %v", err)
	}
	if !strings.Contains(stderr, "✗") {
		t.Fatalf("expected failure notice, got %q", stderr)
	}

	var reopened domain.Deal
	h.mustJSON(&reopened, "deal", "reopen", id)
	if reopened.Status != domain.DealOpen || reopened.StageID != proposal.ID {
		t.Fatalf("expected reopen to restore the proposal stage, got %+v", reopened)
	}
	if reopened.LostReason != "" || reopened.ClosedAt != nil {
		t.Fatalf("reopen must clear the lost reason and close time, got %+v", reopened)
	}

	if _, _, err := h.run("pipeline", "delete", pipeline.ID.String()); !errors.Is(err, ErrNotified) {
		t.Fatalf("expected pipeline with deals to be protected, got %v", err)
	}
}

func TestBulkLimit(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{"Acme", "Globex"} {
		if _, _, err := h.run("company", "create", name); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	var page domain.ListResult[domain.Company]
	h.mustJSON(&page, "company", "list")
	ids := []string{page.Items[0].ID.String(), page.Items[1].ID.String()}

	_, stderr, err := h.run(append([]string{"--max-bulk", "1", "company", "bulk-delete"}, ids...)...)
	if !errors.Is(err, ErrNotified) || !strings.Contains(stderr, "at most 1") {
		t.Fatalf("expected the bulk limit to reject, got %v (%s)", err, stderr)
	}
	if _, _, err := h.run(append([]string{"company", "set-industry", "Manufacturing"}, ids...)...); err != nil {
		t.Fatalf("set-industry: %v", err)
	}
	h.mustJSON(&page, "company", "list", "--filter", "industry=Manufacturing")
	if page.Total != 2 {
		t.Fatalf("expected both companies updated, got %+v", page)
	}
}

func TestExportCommand(t *testing.T) {
	h := newHarness(t)
	var c domain.Contact
	h.mustJSON(&c, "contact", "create", "--email", "lin@example.com")

	var info blobcore.Info
	h.mustJSON(&info, "contact", "export", c.ID.String(), "--format", "csv")
	if !strings.HasPrefix(info.Key, "exports/contacts/") || !strings.HasSuffix(info.Key, ".csv") {
		t.Fatalf("unexpected export key %q", info.Key)
	}
	body, err := os.ReadFile(filepath.Join(os.Getenv("CRMCORE_EXPORT_FS_ROOT"), filepath.FromSlash(info.Key)))
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "lin@example.com") {
		t.Fatalf("unexpected csv export %q", body)
	}

	if _, _, err := h.run("contact", "export", "1", "--format", "xml"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestTableOutput(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.run("company", "create", "Initech", "--employees", "1200"); err != nil {
		t.Fatalf("create: %v", err)
	}
	stdout, stderr, err := h.run("company", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(stdout, "NAME") || !strings.Contains(stdout, "Initech") || !strings.Contains(stdout, "1,200") {
		t.Fatalf("unexpected table %q", stdout)
	}
	if !strings.Contains(stderr, "1 company") {
		t.Fatalf("expected page footer, got %q", stderr)
	}
}

func TestInvalidArguments(t *testing.T) {
	h := newHarness(t)
	cases := [][]string{
		{"contact", "get", "abc"},
		{"deal", "move", "1", "stage"},
		{"contact", "list", "--filter", "missing-equals"},
		{"activity", "reschedule", "tomorrow", "1"},
		{"pipeline", "set-active", "maybe", "1"},
		{"--output", "yaml", "contact", "list"},
		{"--log-level", "loud", "contact", "list"},
	}
	for _, args := range cases {
		if _, _, err := h.run(args...); err == nil || errors.Is(err, ErrNotified) {
			t.Fatalf("%v: expected an argument error, got %v", args, err)
		}
	}
}

func TestServeHandler(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if _, err := loadSettings(newViper(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an explicit missing config file to fail")
	}
	a := &app{v: newViper(), stdout: io.Discard, stderr: io.Discard}
	a.v.Set(keyStorageDriver, "memory")
	s, err := loadSettings(a.v, "")
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	a.settings = s
	a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	t.Cleanup(func() { _ = a.close() })

	handler, err := a.serveHandler(context.Background())
	if err != nil {
		t.Fatalf("serve handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/companies", "application/json", strings.NewReader(`{"name":"Umbrella"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	for path, want := range map[string]string{
		"/metrics":    `operation="http_post_companies"`,
		"/debug/vars": "http_post_companies",
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if !strings.Contains(string(body), want) {
			t.Fatalf("%s: expected %q in %s", path, want, body)
		}
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestRouteNamespace(t *testing.T) {
	for path, want := range map[string]string{
		"/api/v1/deals/4/transition": "deals",
		"/api/v1/contacts":           "contacts",
		"/api/v2/contacts":           "unknown",
		"/api/v1/":                   "unknown",
	} {
		if got := routeNamespace(path); got != want {
			t.Fatalf("%s: expected %s, got %s", path, want, got)
		}
	}
}

func TestCloseReleasesQueryCache(t *testing.T) {
	qc, err := cache.New(0)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	loads := 0
	key := core.QueryKey{Namespace: "contacts", Kind: core.QueryList, Fingerprint: "all/25", Page: 1}
	qc.Watch(key, func(context.Context) (any, error) {
		loads++
		return nil, nil
	})

	a := &app{cache: qc}
	if err := a.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if a.cache != nil {
		t.Fatalf("close must drop the cache reference")
	}
	qc.RefetchActive(context.Background(), "contacts")
	if loads != 0 || qc.Stats().Refetched != 0 {
		t.Fatalf("a closed cache must not refetch, got %d loads", loads)
	}
	if err := a.close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
