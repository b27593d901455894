package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/tcriess/adda/config"
	"github.com/tcriess/adda/types"
)

// idClaims are the ID token claims used to find or create the account.
type idClaims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// idTokenVerifier checks a raw ID token and returns its claims.
type idTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*idClaims, error)
}

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func (v *oidcVerifier) Verify(ctx context.Context, rawIDToken string) (*idClaims, error) {
	token, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}
	c := &idClaims{}
	err = token.Claims(c)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// verifierFor returns the (cached) verifier of the named provider. The provider configuration is discovered on
// first use.
func (a *Authenticator) verifierFor(ctx context.Context, provider string) (idTokenVerifier, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.verifiers[provider]; ok {
		return v, nil
	}
	var oidcConf *config.OIDCConfig
	for i, c := range a.cfg.OIDC {
		if c.Name == provider {
			oidcConf = &a.cfg.OIDC[i]
			break
		}
	}
	if oidcConf == nil {
		return nil, types.NewValidationError("provider", fmt.Sprintf("unknown provider %q", provider))
	}
	a.logger.Debug("discovering oidc provider", "provider", provider, "url", oidcConf.ProviderUrl)
	p, err := oidc.NewProvider(ctx, oidcConf.ProviderUrl)
	if err != nil {
		return nil, err
	}
	conf := oidc.Config{}
	if oidcConf.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = oidcConf.ClientId
	}
	v := &oidcVerifier{verifier: p.Verifier(&conf)}
	a.verifiers[provider] = v
	return v, nil
}
