package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avelov/tollcall/internal/adapters/signal"
	"github.com/avelov/tollcall/internal/app"
	"github.com/avelov/tollcall/internal/app/orch"
	"github.com/avelov/tollcall/internal/auth"
	"github.com/avelov/tollcall/internal/config"
	"github.com/avelov/tollcall/internal/ledger"
)

func newTestRouter(t *testing.T) (*gin.Engine, *app.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Mode:          "debug",
		Secret:        "test-secret",
		StaticPath:    t.TempDir(),
		PerMinuteRate: 50,
	}
	led := ledger.New(ledger.NewMemoryStore())
	reg := app.NewRegistry(led)
	hub := signal.NewHub()
	billing := &app.BillingClock{Ledger: led, Rate: 50, Interval: time.Minute, Retries: 0}
	o := orch.New(reg, hub, billing, led, time.Second)
	ctl := signal.NewSignalWSController(o, hub, signal.NewInviteRateLimiter(10, time.Minute), 32768, 30*time.Second)
	a := auth.New(cfg.Secret, time.Hour)
	return SetupRouter(context.Background(), cfg, o, ctl, led, a), reg
}

func TestTokenMintRegistersNewUser(t *testing.T) {
	r, reg := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/token", strings.NewReader(`{"username":"carol"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body)
	}
	var resp struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Token == "" || resp.UserID == "" {
		t.Fatalf("response = %+v, want token and user_id", resp)
	}

	users := reg.Users("carol")
	if len(users) != 1 {
		t.Fatalf("Users(carol) = %d entries, want 1", len(users))
	}
	if string(users[0].ID) != resp.UserID {
		t.Errorf("directory id = %q, want %q", users[0].ID, resp.UserID)
	}
}

func TestTokenMintRejectsEmptyRequest(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/token", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
