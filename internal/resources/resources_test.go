package resources

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stratum-mcp/stratum/internal/config"
	"github.com/stratum-mcp/stratum/internal/delegate"
	"github.com/stratum-mcp/stratum/internal/facade"
	"github.com/stratum-mcp/stratum/internal/hierarchy"
	"github.com/stratum-mcp/stratum/internal/identity"
	"github.com/stratum-mcp/stratum/internal/repo"
	"github.com/stratum-mcp/stratum/internal/rescache"
	"github.com/stratum-mcp/stratum/internal/resolver"
	"github.com/stratum-mcp/stratum/internal/store/memstore"
)

func newHandler(t *testing.T) (*Handler, *repo.Repository) {
	t.Helper()
	cfg := config.Default()
	cfg.Backend.RetryBackoff = time.Millisecond
	r := repo.New(memstore.New(), cfg.Backend, nil)
	cache := rescache.New(cfg.Cache)
	t.Cleanup(cache.Stop)
	res := resolver.New(r, cache, nil)
	del := delegate.New(r, cfg.Delegation, nil)
	return NewHandler(facade.New(r, res, del, cache, nil)), r
}

func readURI(t *testing.T, h *Handler, ctx context.Context, uri string) string {
	t.Helper()
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	contents, err := h.HandleRead(ctx, req)
	if err != nil {
		t.Fatalf("read %s: %v", uri, err)
	}
	if len(contents) != 1 {
		t.Fatalf("read %s: %d contents, want 1", uri, len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("read %s: contents are %T, want text", uri, contents[0])
	}
	return text.Text
}

func TestHandleRead_ResolvedView(t *testing.T) {
	h, r := newHandler(t)
	ctx := identity.WithUser(context.Background(), "u1")

	if _, err := r.Upsert(context.Background(), hierarchy.LevelProject, "p1", "u1", repo.UpsertParams{
		Patch: hierarchy.DataFromPairs("lang", "go"),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	text := readURI(t, h, ctx, "context://project/p1")
	if !strings.Contains(text, `"lang": "go"`) {
		t.Errorf("view missing project data: %s", text)
	}
	if !strings.Contains(text, "inherited_from") {
		t.Errorf("view missing inherited_from: %s", text)
	}
}

func TestHandleRead_GlobalWithoutID(t *testing.T) {
	h, _ := newHandler(t)
	ctx := identity.WithUser(context.Background(), "u1")

	text := readURI(t, h, ctx, "context://global")
	if !strings.Contains(text, hierarchy.GlobalID("u1")) {
		t.Errorf("global read should resolve the caller's own root: %s", text)
	}
}

func TestHandleRead_BadURIs(t *testing.T) {
	h, _ := newHandler(t)
	ctx := identity.WithUser(context.Background(), "u1")

	for _, uri := range []string{
		"memory://project/p1",
		"context://galaxy/x",
		"context://task", // non-global without id
	} {
		text := readURI(t, h, ctx, uri)
		if !strings.HasPrefix(text, "Error:") {
			t.Errorf("uri %q accepted: %s", uri, text)
		}
	}
}

func TestHandleRead_NoIdentity(t *testing.T) {
	h, _ := newHandler(t)

	text := readURI(t, h, context.Background(), "context://global")
	if !strings.Contains(text, "authentication_required") {
		t.Errorf("unauthenticated read should fail with the taxonomy kind: %s", text)
	}
}
