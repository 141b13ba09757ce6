package api

import (
	"net/http"

	"github.com/CSCfi/sd-submit/pkg/api/problem"
	"github.com/CSCfi/sd-submit/pkg/auth"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/logger"
)

// authRoutes serves the browser login flow.
type authRoutes struct {
	oidc         *auth.OIDCProvider
	auth         *auth.Service
	secureCookie bool
}

func (s *authRoutes) login(w http.ResponseWriter, r *http.Request) {
	authURL, err := s.oidc.AuthURL()
	if err != nil {
		problem.Write(w, r, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusSeeOther)
}

func (s *authRoutes) callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	state := query.Get("state")
	code := query.Get("code")
	if state == "" || code == "" {
		problem.Write(w, r, apperrors.NewUnauthorizedError("missing state or code", nil))
		return
	}

	userID, userName, err := s.oidc.Callback(r.Context(), state, code)
	if err != nil {
		problem.Write(w, r, err)
		return
	}

	token, err := s.auth.IssueToken(userID, userName)
	if err != nil {
		problem.Write(w, r, err)
		return
	}
	logger.Infof("User %s logged in", userID)

	http.SetCookie(w, &http.Cookie{
		Name:     auth.AccessTokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.TokenLifetime.Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
	http.Redirect(w, r, "/home", http.StatusSeeOther)
}

func (s *authRoutes) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.AccessTokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
