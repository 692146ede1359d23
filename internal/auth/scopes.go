package auth

const (
	ScopeOpenID      = "openid"
	ScopeProfile     = "profile"
	ScopeEmail       = "email"
	ScopeAdviceRead  = "advice:read"
	ScopeAdviceWrite = "advice:write"
)

// LoginScopes are requested by the browser login flow.
var LoginScopes = []string{ScopeOpenID, ScopeProfile, ScopeEmail}

// AllScopes are offered by the Swagger UI login dialog.
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeAdviceRead,
	ScopeAdviceWrite,
}
