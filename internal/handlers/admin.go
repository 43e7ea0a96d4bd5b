package handlers

import (
	"crypto/subtle"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/auth"
	"github.com/diewo77/quotemaster/internal/config"
	"github.com/diewo77/quotemaster/internal/gate"
	"github.com/diewo77/quotemaster/internal/httpx"
	"github.com/diewo77/quotemaster/internal/jobs"
	"github.com/diewo77/quotemaster/internal/metrics"
	"github.com/diewo77/quotemaster/internal/policy"
	"github.com/diewo77/quotemaster/internal/ratelimit"
	"github.com/diewo77/quotemaster/internal/repository"
	"github.com/diewo77/quotemaster/internal/validation"
)

// AdminHandler serves the operator surface: env-credential login and
// cross-tenant statistics. Deps.Gate should be the admin gate.
type AdminHandler struct {
	base
	cfg      config.AdminConfig
	tokens   *auth.TokenManager
	attempts ratelimit.AttemptCounter
	stats    *repository.Stats
	clients  *repository.ClientStore
	settings *repository.SettingsStore
	queue    jobs.Queue
	proxies  []netip.Prefix
	// Secure marks the admin cookie Secure; set outside development.
	Secure bool
	now    func() time.Time
}

func NewAdminHandler(db *gorm.DB, d Deps, cfg config.AdminConfig, tokens *auth.TokenManager, attempts ratelimit.AttemptCounter, queue jobs.Queue) *AdminHandler {
	return &AdminHandler{
		base:     newBase(d),
		cfg:      cfg,
		tokens:   tokens,
		attempts: attempts,
		stats:    repository.NewStats(db),
		clients:  repository.NewClientStore(db),
		settings: repository.NewSettingsStore(db),
		queue:    queue,
		proxies:  ParseProxies(cfg.TrustedProxies),
		now:      time.Now,
	}
}

// ParseProxies turns addresses and CIDR ranges into prefixes. Unparsable
// entries are skipped.
func ParseProxies(list []string) []netip.Prefix {
	var out []netip.Prefix
	for _, s := range list {
		s = strings.TrimSpace(s)
		if p, err := netip.ParsePrefix(s); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(s); err == nil {
			out = append(out, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
		}
	}
	return out
}

func trusted(ip string, proxies []netip.Prefix) bool {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range proxies {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

type loginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// clientIP keys the attempt counter. It is the socket address unless that
// address is a trusted proxy, in which case X-Forwarded-For is walked from
// the right and the first hop that is not a trusted proxy wins.
func clientIP(r *http.Request, proxies []netip.Prefix) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if len(proxies) == 0 || !trusted(host, proxies) {
		return host
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !trusted(hop, proxies) {
			return hop
		}
	}
	return host
}

func retrySeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

func tooManyAttempts(w http.ResponseWriter, a ratelimit.Attempt) {
	secs := retrySeconds(a.RetryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	httpx.JSONError(w, http.StatusTooManyRequests, httpx.CodeTooManyAttempts, map[string]int{"retry_after": secs})
}

// checkCredentials compares both fields in constant time. A bcrypt hash
// takes precedence over the plain password.
func (h *AdminHandler) checkCredentials(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.cfg.Username)) == 1
	var passOK bool
	switch {
	case h.cfg.PasswordHash != "":
		passOK = bcrypt.CompareHashAndPassword([]byte(h.cfg.PasswordHash), []byte(password)) == nil
	case h.cfg.Password != "":
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(h.cfg.Password)) == 1
	}
	return userOK && passOK
}

// Login exchanges the admin credentials for a JWT, also set as the
// admin_session cookie. Failures are counted per client IP.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r, h.proxies)
	key := "admin_login:" + ip
	a, err := h.attempts.Peek(ctx, key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if a.Locked {
		metrics.ObserveAdminLoginFailure("locked")
		tooManyAttempts(w, a)
		return
	}

	var in loginInput
	if !h.decode(w, r, validation.AdminLogin, &in) {
		return
	}
	if !h.checkCredentials(in.Username, in.Password) {
		metrics.ObserveAdminLoginFailure("invalid_credentials")
		a, err := h.attempts.Hit(ctx, key)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.Log.Warn("admin login failed", "ip", ip, "attempts", a.Count)
		if a.Locked {
			tooManyAttempts(w, a)
			return
		}
		httpx.JSONError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, map[string]int{"attempts_left": a.Remaining})
		return
	}

	if err := h.attempts.Reset(ctx, key); err != nil {
		h.fail(w, r, err)
		return
	}
	token, err := h.tokens.GenerateToken("", auth.RoleAdmin, h.cfg.Username, h.cfg.SessionTTL)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	expires := h.now().Add(h.cfg.SessionTTL)
	http.SetCookie(w, &http.Cookie{
		Name:     auth.AdminCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.Secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  expires,
	})
	h.Log.Info("admin login", "ip", ip)
	httpx.Data(w, http.StatusOK, map[string]any{"token": token, "expires_at": expires.UTC()})
}

func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.AdminCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	httpx.Data(w, http.StatusOK, map[string]bool{"logged_out": true})
}

// Users lists tenants with their client counts.
func (h *AdminHandler) Users(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.stats.Tenants(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, tenants)
}

// User shows one tenant's company settings and row counts. It reads a
// foreign tenant, so it relies on the admin bypass of the gate.
func (h *AdminHandler) User(w http.ResponseWriter, r *http.Request) {
	tenant := strings.TrimSpace(r.PathValue("tenant"))
	if tenant == "" {
		httpx.JSONError(w, http.StatusBadRequest, httpx.CodeInvalidID, nil)
		return
	}
	settings, err := h.settings.Get(r.Context(), tenant)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !h.authorize(w, r, gate.ActionView, policy.ResourceSettings, settings) {
		return
	}
	clients, err := h.clients.Count(r.Context(), tenant)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, map[string]any{
		"user_id":      tenant,
		"settings":     settings,
		"client_count": clients,
	})
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	total, err := h.stats.TotalClients(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tenants, err := h.stats.DistinctTenants(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, map[string]any{
		"total_clients":    total,
		"distinct_tenants": tenants,
		"timestamp":        h.now().UTC(),
	})
}

// Queues reports job counts per queue and state.
func (h *AdminHandler) Queues(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpx.Data(w, http.StatusOK, []jobs.QueueStats{})
		return
	}
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, stats)
}
