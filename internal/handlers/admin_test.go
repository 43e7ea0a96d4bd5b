package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/diewo77/quotemaster/internal/auth"
	"github.com/diewo77/quotemaster/internal/config"
	"github.com/diewo77/quotemaster/internal/httpx"
	"github.com/diewo77/quotemaster/internal/jobs"
	"github.com/diewo77/quotemaster/internal/logging"
	"github.com/diewo77/quotemaster/internal/policy"
	"github.com/diewo77/quotemaster/internal/ratelimit"
)

type adminEnv struct {
	*testEnv
	admin  *AdminHandler
	tokens *auth.TokenManager
	queue  *jobs.PgQueue
}

func newAdminEnv(t *testing.T, cfg config.AdminConfig) *adminEnv {
	t.Helper()
	e := newTestEnv(t)
	q := jobs.NewPgQueue(e.db, jobs.Defaults{RetryLimit: 1}, logging.Discard())
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("start queue: %v", err)
	}
	counter := ratelimit.NewMemoryCounter(cfg.MaxAttempts, cfg.Lockout)
	t.Cleanup(counter.Stop)
	tokens := auth.NewTokenManager("test-secret", "quotemaster-test")
	d := Deps{Log: logging.Discard(), Gate: policy.NewAdminGate()}
	return &adminEnv{
		testEnv: e,
		admin:   NewAdminHandler(e.db, d, cfg, tokens, counter, q),
		tokens:  tokens,
		queue:   q,
	}
}

func defaultAdminConfig() config.AdminConfig {
	return config.AdminConfig{
		Username:    "root",
		Password:    "s3cret",
		MaxAttempts: 3,
		Lockout:     15 * time.Minute,
		SessionTTL:  time.Hour,
	}
}

func (a *adminEnv) login(ip, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = ip + ":5555"
	w := httptest.NewRecorder()
	a.admin.Login(w, req)
	return w
}

// asAdmin calls h with an admin session, as RequireAdmin would let through.
func asAdmin(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	req = req.WithContext(auth.WithSession(req.Context(), auth.Session{Role: auth.RoleAdmin, Subject: "root", Provider: "jwt"}))
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestAdminLoginLocksOutAfterMaxAttempts(t *testing.T) {
	a := newAdminEnv(t, defaultAdminConfig())
	bad := `{"username":"root","password":"wrong"}`

	for _, left := range []float64{2, 1} {
		w := a.login("10.0.0.1", bad)
		expectStatus(t, w, http.StatusUnauthorized)
		body := decodeError(t, w)
		if body.Error != httpx.CodeUnauthorized {
			t.Fatalf("error = %q", body.Error)
		}
		if got := body.Details["attempts_left"]; got != left {
			t.Errorf("attempts_left = %v, want %v", got, left)
		}
	}

	w := a.login("10.0.0.1", bad)
	expectStatus(t, w, http.StatusTooManyRequests)
	if decodeError(t, w).Error != httpx.CodeTooManyAttempts {
		t.Errorf("expected too_many_attempts: %s", w.Body.String())
	}
	if ra := w.Header().Get("Retry-After"); ra != "900" {
		t.Errorf("Retry-After = %q, want 900", ra)
	}

	// locked even with the right password
	w = a.login("10.0.0.1", `{"username":"root","password":"s3cret"}`)
	expectStatus(t, w, http.StatusTooManyRequests)

	// other addresses are counted separately
	w = a.login("10.0.0.2", `{"username":"root","password":"s3cret"}`)
	expectStatus(t, w, http.StatusOK)
}

func TestAdminLoginSuccessIssuesTokenAndCookie(t *testing.T) {
	a := newAdminEnv(t, defaultAdminConfig())
	expectStatus(t, a.login("10.0.0.9", `{"username":"root","password":"nope"}`), http.StatusUnauthorized)

	w := a.login("10.0.0.9", `{"username":"root","password":"s3cret"}`)
	expectStatus(t, w, http.StatusOK)
	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	decodeData(t, w, &out)
	claims, err := a.tokens.ValidateToken(out.Token)
	if err != nil {
		t.Fatalf("token does not validate: %v", err)
	}
	if claims.Role != auth.RoleAdmin || claims.Subject != "root" || claims.TenantID != "" {
		t.Errorf("claims = %+v", claims)
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.AdminCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != out.Token || !cookie.HttpOnly {
		t.Fatalf("admin cookie = %+v", cookie)
	}

	// the earlier failure was reset by the successful login
	w = a.login("10.0.0.9", `{"username":"root","password":"nope"}`)
	expectStatus(t, w, http.StatusUnauthorized)
	if got := decodeError(t, w).Details["attempts_left"]; got != float64(2) {
		t.Errorf("attempts_left after reset = %v", got)
	}
}

func TestAdminLoginWithPasswordHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	cfg := defaultAdminConfig()
	cfg.Password = ""
	cfg.PasswordHash = string(hash)
	a := newAdminEnv(t, cfg)

	expectStatus(t, a.login("10.1.1.1", `{"username":"root","password":"s3cret"}`), http.StatusUnauthorized)
	expectStatus(t, a.login("10.1.1.1", `{"username":"root","password":"hashed-pw"}`), http.StatusOK)
	expectStatus(t, a.login("10.1.1.1", `{"username":"other","password":"hashed-pw"}`), http.StatusUnauthorized)
	expectStatus(t, a.login("10.1.1.1", `{"username":"root"}`), http.StatusBadRequest)
}

func TestClientIP(t *testing.T) {
	proxies := ParseProxies([]string{"10.0.0.0/8", "192.0.2.1", "bogus"})
	if len(proxies) != 2 {
		t.Fatalf("proxies = %v", proxies)
	}

	cases := []struct {
		name, remote, forwarded, want string
		proxies                       []netip.Prefix
	}{
		{"socket address", "192.0.2.7:4000", "", "192.0.2.7", proxies},
		{"header ignored without proxies", "192.0.2.7:4000", "203.0.113.5", "192.0.2.7", nil},
		{"header ignored from untrusted peer", "198.51.100.4:4000", "203.0.113.5", "198.51.100.4", proxies},
		{"trusted peer", "192.0.2.1:4000", "203.0.113.5", "203.0.113.5", proxies},
		{"proxy chain", "10.1.2.3:4000", "203.0.113.5, 198.51.100.9, 10.0.0.7", "198.51.100.9", proxies},
		{"only proxies", "10.1.2.3:4000", "10.0.0.7", "10.1.2.3", proxies},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/login", nil)
			req.RemoteAddr = tc.remote
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if got := clientIP(req, tc.proxies); got != tc.want {
				t.Errorf("clientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAdminLoginForwardedHeaderDoesNotResetCount(t *testing.T) {
	a := newAdminEnv(t, defaultAdminConfig())
	codes := make([]int, 0, 4)
	for i := 1; i <= 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(`{"username":"root","password":"wrong"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		req.RemoteAddr = "203.0.113.9:5555"
		w := httptest.NewRecorder()
		a.admin.Login(w, req)
		codes = append(codes, w.Code)
	}
	want := []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("status codes = %v, want %v", codes, want)
		}
	}
}

func TestAdminLoginBehindTrustedProxy(t *testing.T) {
	cfg := defaultAdminConfig()
	cfg.TrustedProxies = []string{"192.0.2.1"}
	a := newAdminEnv(t, cfg)
	bad := `{"username":"root","password":"wrong"}`
	send := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(bad))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwarded)
		req.RemoteAddr = "192.0.2.1:443"
		w := httptest.NewRecorder()
		a.admin.Login(w, req)
		return w.Code
	}
	for i := 0; i < 3; i++ {
		send("203.0.113.5")
	}
	if code := send("203.0.113.5"); code != http.StatusTooManyRequests {
		t.Errorf("locked client got %d", code)
	}
	if code := send("203.0.113.6"); code != http.StatusUnauthorized {
		t.Errorf("other client behind the proxy got %d", code)
	}
}

func TestAdminLogoutClearsCookie(t *testing.T) {
	a := newAdminEnv(t, defaultAdminConfig())
	w := httptest.NewRecorder()
	a.admin.Logout(w, httptest.NewRequest(http.MethodPost, "/admin/logout", nil))
	expectStatus(t, w, http.StatusOK)
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != auth.AdminCookieName || cookies[0].MaxAge >= 0 {
		t.Errorf("cookies = %+v", cookies)
	}
}

func TestAdminStatsUsersAndQueues(t *testing.T) {
	a := newAdminEnv(t, defaultAdminConfig())
	createClient(t, a.testEnv, "alice", `{"name":"A1"}`)
	createClient(t, a.testEnv, "alice", `{"name":"A2"}`)
	createClient(t, a.testEnv, "bob", `{"name":"B1"}`)
	expectStatus(t, a.do("bob", http.MethodPut, "/settings", `{"company_name":"Bob Ltd"}`), http.StatusOK)

	w := asAdmin(a.admin.Stats, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))
	expectStatus(t, w, http.StatusOK)
	var stats struct {
		TotalClients    int64 `json:"total_clients"`
		DistinctTenants int64 `json:"distinct_tenants"`
	}
	decodeData(t, w, &stats)
	if stats.TotalClients != 3 || stats.DistinctTenants != 2 {
		t.Errorf("stats = %+v", stats)
	}

	w = asAdmin(a.admin.Users, httptest.NewRequest(http.MethodGet, "/admin/users", nil))
	expectStatus(t, w, http.StatusOK)
	var users []struct {
		UserID      string `json:"user_id"`
		ClientCount int64  `json:"client_count"`
	}
	decodeData(t, w, &users)
	counts := map[string]int64{}
	for _, u := range users {
		counts[u.UserID] = u.ClientCount
	}
	if len(users) != 2 || counts["alice"] != 2 || counts["bob"] != 1 {
		t.Errorf("users = %+v", users)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/users/bob", nil)
	req.SetPathValue("tenant", "bob")
	w = asAdmin(a.admin.User, req)
	expectStatus(t, w, http.StatusOK)
	var user struct {
		UserID   string `json:"user_id"`
		Settings struct {
			CompanyName *string `json:"company_name"`
		} `json:"settings"`
		ClientCount int64 `json:"client_count"`
	}
	decodeData(t, w, &user)
	if user.UserID != "bob" || user.ClientCount != 1 || user.Settings.CompanyName == nil || *user.Settings.CompanyName != "Bob Ltd" {
		t.Errorf("user = %+v", user)
	}

	w = asAdmin(a.admin.Queues, httptest.NewRequest(http.MethodGet, "/admin/queues", nil))
	expectStatus(t, w, http.StatusOK)
	var queues []jobs.QueueStats
	decodeData(t, w, &queues)
	if len(queues) < len(jobs.Names) {
		t.Errorf("expected a row per job name, got %d", len(queues))
	}
}

func TestAdminUserNeedsAdminSession(t *testing.T) {
	a := newAdminEnv(t, defaultAdminConfig())
	createClient(t, a.testEnv, "bob", `{"name":"B1"}`)

	req := httptest.NewRequest(http.MethodGet, "/admin/users/bob", nil)
	req.SetPathValue("tenant", "bob")
	req = req.WithContext(auth.WithSession(req.Context(), auth.Session{TenantID: "alice", Role: auth.RoleUser}))
	w := httptest.NewRecorder()
	a.admin.User(w, req)
	expectStatus(t, w, http.StatusNotFound)
}
