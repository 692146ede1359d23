package api

import (
	_ "embed"
	"net/http"
	"strings"
)

//go:embed openapi.yaml
var openAPISpec string

// SpecHandler serves the OpenAPI YAML spec with any runtime placeholders
// replaced. The embedded file contains {oidcIssuer} so it does not have to
// know the deployment's issuer URL; we substitute it here before returning.
func SpecHandler(issuer string) http.HandlerFunc {
	spec := strings.ReplaceAll(openAPISpec, "{oidcIssuer}", issuer)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write([]byte(spec))
	}
}

// SwaggerHandler serves a Swagger UI page that points at the OpenAPI spec.
// The page uses the CDN-hosted assets so no static files are checked in,
// and is configured for PKCE login against the same issuer the API trusts.
func SwaggerHandler(issuer, clientID string, scopes []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// r.URL.Scheme is only populated behind some proxies.
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
			scheme = fwd
		}
		oauth2Redirect := scheme + "://" + r.Host + "/docs/oauth2-redirect.html"

		html := strings.NewReplacer(
			"${SPEC_URL}", "/openapi.yaml",
			"${OAUTH2_REDIRECT}", oauth2Redirect,
			"${ISSUER}", issuer,
			"${CLIENT_ID}", clientID,
			"${SCOPES}", strings.Join(scopes, " "),
		).Replace(swaggerHTML)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(html))
	}
}

// OAuth2RedirectHandler serves the OAuth2 redirect page used by Swagger UI
func OAuth2RedirectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(oauthRedirectHTML))
	}
}

const swaggerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>Financial Advisor API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist/swagger-ui-bundle.js"></script>
  <script>
  window.onload = function() {
    const ui = SwaggerUIBundle({
      url: "${SPEC_URL}",
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: "BaseLayout",
      oauth2RedirectUrl: "${OAUTH2_REDIRECT}",
    });
    window.ui = ui;

    // public client: PKCE, no secret (issuer ${ISSUER})
    ui.initOAuth({
      clientId: "${CLIENT_ID}",
      scopes: "${SCOPES}",
      usePkceWithAuthorizationCodeGrant: true,
    });

    const style = document.createElement('style');
    style.textContent =
      " .dialog-ux input[name=\"client_id\"],\n" +
      " .dialog-ux label[for=\"client_id\"],\n" +
      " .dialog-ux input[name=\"client_secret\"],\n" +
      " .dialog-ux label[for=\"client_secret\"] { display: none !important; }\n";
    document.head.appendChild(style);
  }
  </script>
</body>
</html>`

const oauthRedirectHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"/><title>OAuth2 Redirect</title></head>
<body>
<script>
if (window.opener && window.opener.swaggerUIRedirectCallback) {
  window.opener.swaggerUIRedirectCallback(window.location.href);
}
</script>
</body>
</html>`
