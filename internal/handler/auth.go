package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/auth"
	"github.com/sakif/campus-companion/internal/model"
)

const stateCookie = "oauth_state"

// AuthHandler signs users in and out.
//
// HANDLER RESPONSIBILITIES:
//   - HandleLogin / HandleRegister → roll number + secret, issue JWT
//   - HandleGoogleLogin            → redirect the browser to Google
//   - HandleGoogleCallback         → exchange the code, issue JWT, redirect
//   - HandleGoogleToken            → verify an ID token sent by a native client
//   - HandleLogout                 → clear the JWT cookie
//
// Every successful sign-in answers with the same body, so clients handle
// all of them with one code path.
type AuthHandler struct {
	svc    Companion
	tokens *auth.TokenService
	google SocialProvider // nil when Google sign-in is not configured
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler. google may be nil.
func NewAuthHandler(svc Companion, tokens *auth.TokenService, google SocialProvider, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, tokens: tokens, google: google, logger: logger}
}

// SessionResponse is returned by every sign-in endpoint and by a profile
// update, which may change the roll number the token is bound to.
type SessionResponse struct {
	Token string         `json:"token"`
	User  model.Identity `json:"user"`
}

type credentialsRequest struct {
	RollNumber string `json:"rollNumber"`
	Password   string `json:"password"`
	Batch      string `json:"batch,omitempty"`
}

// HandleLogin authenticates a roll number and secret.
//
// HTTP: POST /auth/login
// REQUEST BODY: {"rollNumber": "23040401014", "password": "..."}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	id, err := h.svc.Login(r.Context(), req.RollNumber, req.Password)
	if err != nil {
		h.logger.Info("login rejected",
			slog.String("roll", req.RollNumber),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	h.startSession(w, http.StatusOK, id)
}

// HandleRegister creates a credential for a roll number.
//
// HTTP: POST /auth/register
// REQUEST BODY: {"rollNumber": "...", "password": "...", "batch": "16th Batch"}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	id, err := h.svc.Register(r.Context(), req.RollNumber, req.Password, req.Batch)
	if err != nil {
		writeError(w, err)
		return
	}

	h.startSession(w, http.StatusCreated, id)
}

// HandleGoogleLogin redirects the user to Google's consent page.
//
// HTTP: GET /auth/google/login
//
// CSRF PROTECTION VIA STATE:
// A random state goes into a short-lived cookie and into the redirect. The
// callback only proceeds when both match, proving this server started the
// flow.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, apperror.NotFound("sign-in provider", "google"))
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the browser flow.
//
// HTTP: GET /auth/google/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code and verify the ID token
//  3. Resolve or create the identity behind the Google account
//  4. Issue a JWT cookie and redirect to the app
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, apperror.NotFound("sign-in provider", "google"))
		return
	}

	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || r.URL.Query().Get("state") != c.Value {
		h.logger.Warn("google callback: state mismatch")
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}

	// The state cookie is single-use.
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("google callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, apperror.ValidationFailed("code", "missing authorization code"))
		return
	}

	profile, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("google callback: exchange failed", slog.String("error", err.Error()))
		writeError(w, apperror.Unauthorized("Google sign-in failed"))
		return
	}

	id, err := h.svc.LoginSocial(r.Context(), profile)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.issue(w, id); err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleGoogleToken signs in a native client that already holds a Google
// ID token.
//
// HTTP: POST /auth/google/token
// REQUEST BODY: {"idToken": "eyJ..."}
func (h *AuthHandler) HandleGoogleToken(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, apperror.NotFound("sign-in provider", "google"))
		return
	}

	var req struct {
		IDToken string `json:"idToken"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.IDToken == "" {
		writeError(w, apperror.ValidationFailed("idToken", "idToken is required"))
		return
	}

	profile, err := h.google.VerifyIDToken(req.IDToken)
	if err != nil {
		h.logger.Info("google token rejected", slog.String("error", err.Error()))
		writeError(w, apperror.Unauthorized("Google sign-in failed"))
		return
	}

	id, err := h.svc.LoginSocial(r.Context(), profile)
	if err != nil {
		writeError(w, err)
		return
	}

	h.startSession(w, http.StatusOK, id)
}

// HandleLogout clears the JWT cookie.
//
// HTTP: POST /auth/logout
//
// Tokens are stateless; a Bearer token stays valid until it expires, so
// native clients also drop their copy.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// startSession issues a token for id and writes the session body.
func (h *AuthHandler) startSession(w http.ResponseWriter, status int, id model.Identity) {
	token, err := h.issue(w, id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("user authenticated", slog.String("roll", id.RollNumber))
	writeJSON(w, status, SessionResponse{Token: token, User: id})
}

// issue generates a token for id and sets it as an HttpOnly cookie.
func (h *AuthHandler) issue(w http.ResponseWriter, id model.Identity) (string, error) {
	return issueToken(w, h.tokens, id.RollNumber, h.logger)
}

func issueToken(w http.ResponseWriter, tokens *auth.TokenService, roll string, logger *slog.Logger) (string, error) {
	token, err := tokens.Generate(roll)
	if err != nil {
		logger.Error("token generation failed", slog.String("error", err.Error()))
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(tokens.TTL() / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}
