package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"finadvisor/backend/internal/config"
	"finadvisor/backend/pkg/models"

	"github.com/coreos/go-oidc"
	"golang.org/x/oauth2"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// UserProvisioner creates the user record on first sight.
type UserProvisioner interface {
	EnsureUser(ctx context.Context, userID, email, name string) (models.User, error)
}

// Identity is the authenticated caller.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
}

type identityKey struct{}

// WithIdentity returns ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity RequireAuth stored on ctx.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// Auth contains configuration and helpers for performing OpenID Connect
// authentication. There is no unauthenticated fallback: every request to a
// protected route needs a verifiable token.
type Auth struct {
	oauth2Config  *oauth2.Config
	verifier      *oidc.IDTokenVerifier
	apiVerifier   *oidc.IDTokenVerifier
	users         UserProvisioner
	logger        Logger
	secureCookies bool
}

// New creates a new Auth object using values from the application
// configuration. It establishes a connection to the provider and prepares an
// ID token verifier.
func New(ctx context.Context, cfg config.Auth, users UserProvisioner, logger Logger) (*Auth, error) {
	if cfg.Issuer == "" || cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURL == "" {
		return nil, errors.New("auth configuration is incomplete")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, err
	}

	return &Auth{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       LoginScopes,
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		// Access tokens often carry an API audience rather than the client id.
		apiVerifier:   provider.Verifier(&oidc.Config{SkipClientIDCheck: true}),
		users:         users,
		logger:        logger,
		secureCookies: cfg.SecureCookies,
	}, nil
}

// LoginHandler initiates the OAuth2 authorization code flow. A random state
// value is stored in a cookie to mitigate CSRF attacks.
func (a *Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to generate state")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "oauthstate",
		Value:    state,
		HttpOnly: true,
		Path:     "/",
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// CallbackHandler verifies the state parameter, exchanges the code for
// tokens, validates the ID token, provisions the user and sets a session
// cookie containing the raw ID token.
func (a *Auth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("oauthstate")
	if err != nil || r.URL.Query().Get("state") != cookie.Value {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "invalid state")
		return
	}

	token, err := a.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "token exchange failed")
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "no id_token in token response")
		return
	}

	idToken, err := a.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "failed to verify id token")
		return
	}
	if _, err := a.provision(r.Context(), idToken); err != nil {
		a.logger.Error("failed to provision user", "error", err)
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to provision user")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "id_token",
		Value:    rawIDToken,
		HttpOnly: true,
		Path:     "/",
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// RequireAuth rejects requests without a valid bearer token or session
// cookie with 401 and otherwise stores the caller's Identity on the request
// context, creating the user record on first sight.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			token *oidc.IDToken
			err   error
		)
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			token, err = a.apiVerifier.Verify(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
		} else if cookie, cerr := r.Cookie("id_token"); cerr == nil {
			token, err = a.verifier.Verify(r.Context(), cookie.Value)
		} else {
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
			return
		}
		if err != nil {
			a.logger.Debug("token rejected", "error", err)
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
			return
		}

		id, err := a.provision(r.Context(), token)
		if errors.Is(err, errNoSubject) {
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", "token has no subject")
			return
		}
		if err != nil {
			a.logger.Error("failed to provision user", "error", err)
			writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to provision user")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

var errNoSubject = errors.New("token has no subject")

func (a *Auth) provision(ctx context.Context, token *oidc.IDToken) (Identity, error) {
	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := token.Claims(&claims); err != nil {
		return Identity{}, err
	}
	if token.Subject == "" {
		return Identity{}, errNoSubject
	}
	id := Identity{UserID: token.Subject, Email: claims.Email, Name: claims.Name}
	if _, err := a.users.EnsureUser(ctx, id.UserID, id.Email, id.Name); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// LogoutHandler clears the session cookie and redirects to the home page.
func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   "id_token",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"type":   "about:blank",
		"title":  title,
		"status": status,
		"detail": detail,
	})
}
