package fga

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/authzkit/fgapool/pkg/autherrors"
	"github.com/authzkit/fgapool/pkg/config"
)

// credentialTransport wraps base with the round tripper the configured
// credential method demands. The method set is closed; anything else is a
// factory failure.
func credentialTransport(creds *config.Credentials, base *http.Transport, timeout time.Duration) (http.RoundTripper, error) {
	switch creds.Method {
	case config.CredentialsNone, "":
		return base, nil

	case config.CredentialsAPIToken:
		if creds.Token == "" {
			return nil, autherrors.New(autherrors.ErrorTypeConfig, "api_token credentials require a token")
		}
		source := oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: creds.Token,
			TokenType:   "Bearer",
		})
		return &oauth2.Transport{Base: base, Source: source}, nil

	case config.CredentialsClientCredentials:
		tokenURL, err := tokenEndpoint(creds.Issuer)
		if err != nil {
			return nil, err
		}

		cc := &clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       creds.Scopes,
		}
		if creds.Audience != "" {
			cc.EndpointParams = url.Values{"audience": {creds.Audience}}
		}

		// Token requests go through the same tuned transport as API calls.
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{
			Transport: base,
			Timeout:   timeout,
		})
		return &oauth2.Transport{Base: base, Source: cc.TokenSource(tokenCtx)}, nil

	default:
		return nil, autherrors.Newf(autherrors.ErrorTypeConfig,
			"unsupported credential method %q", creds.Method)
	}
}

// tokenEndpoint resolves the issuer to a token URL. A bare issuer host gets
// the conventional /oauth/token path; an issuer with an explicit path is
// used as-is.
func tokenEndpoint(issuer string) (string, error) {
	if !strings.Contains(issuer, "://") {
		issuer = "https://" + issuer
	}
	u, err := url.Parse(issuer)
	if err != nil || u.Host == "" {
		return "", autherrors.Newf(autherrors.ErrorTypeConfig, "invalid credential issuer %q", issuer)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/oauth/token"
	}
	return fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, u.Path), nil
}
