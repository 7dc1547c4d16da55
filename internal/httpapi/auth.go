package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"hwid-license-server/internal/session"
)

const sessionCookie = "licensed_session"

type loginReq struct {
	Password string `json:"password" validate:"required"`
}

type loginResp struct {
	Status    string    `json:"status"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	a.renderPage(w, http.StatusOK, "login.html", loginPage{})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	asJSON := isJSON(r)

	var password string
	if asJSON {
		var req loginReq
		if !a.decode(w, r, &req, "missing password") {
			return
		}
		password = req.Password
	} else {
		password = r.FormValue("password")
	}

	s, err := a.sessions.Login(r.Context(), password)
	if errors.Is(err, session.ErrUnauthorized) {
		a.log.Warn("admin login rejected", "remote", r.RemoteAddr)
		if asJSON {
			writeError(w, r, http.StatusUnauthorized, "invalid password")
			return
		}
		a.renderPage(w, http.StatusUnauthorized, "login.html", loginPage{Error: "Invalid password"})
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.log.Info("admin logged in", "remote", r.RemoteAddr)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    s.ID,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	if asJSON {
		writeJSON(w, r, http.StatusOK, loginResp{Status: "ok", Token: s.ID, ExpiresAt: s.ExpiresAt})
		return
	}
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s, ok := session.FromContext(r.Context()); ok {
		if err := a.sessions.Logout(r.Context(), s.ID); err != nil {
			a.log.Warn("logout failed", "err", err)
		}
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// requireAdmin resolves the caller's session and puts it on the request
// context. API callers get a 401; browsers are sent to the login page.
func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := a.sessions.Authenticate(r.Context(), sessionToken(r))
		if err != nil {
			if !errors.Is(err, session.ErrUnauthorized) {
				a.log.Error("session lookup failed", "err", err)
			}
			if wantsJSON(r) {
				writeError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), s)))
	})
}

func sessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// wantsJSON separates API and XHR callers from page navigations.
func wantsJSON(r *http.Request) bool {
	return isJSON(r) ||
		r.Header.Get("X-Requested-With") == "XMLHttpRequest" ||
		strings.Contains(r.Header.Get("Accept"), "application/json") ||
		r.Method != http.MethodGet
}
