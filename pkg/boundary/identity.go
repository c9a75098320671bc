package boundary

import (
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ransomeye/core/pkg/rerrors"
)

const defaultIdentityTTL = 5 * time.Minute

// IdentityClaims identifies the component on the calling side of a
// boundary-checked call. It is deliberately thin: the only fact a
// boundary check needs about the caller beyond its declared component
// name is that the claim is genuinely signed and not revoked.
type IdentityClaims struct {
	jwt.RegisteredClaims
	Component string `json:"component"`
}

// IdentityIssuer mints short-lived component identity tokens.
type IdentityIssuer struct {
	priv ed25519.PrivateKey
}

func NewIdentityIssuer(priv ed25519.PrivateKey) *IdentityIssuer {
	return &IdentityIssuer{priv: priv}
}

// Mint issues a token asserting component, valid for ttl (defaultIdentityTTL
// if ttl is zero).
func (iss *IdentityIssuer) Mint(component string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultIdentityTTL
	}
	now := time.Now()
	claims := IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprintf("%s-%d", component, now.UnixNano()),
			Subject:   component,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Component: component,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(iss.priv)
}

// IdentityVerifier checks a component identity token's signature,
// expiry, and revocation status.
type IdentityVerifier struct {
	pub ed25519.PublicKey

	mu      sync.Mutex
	revoked map[string]bool
}

func NewIdentityVerifier(pub ed25519.PublicKey) *IdentityVerifier {
	return &IdentityVerifier{pub: pub, revoked: make(map[string]bool)}
}

// Verify parses and validates token, rejecting a bad signature, an
// expired token, or a revoked jti.
func (v *IdentityVerifier) Verify(tokenString string) (*IdentityClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(t *jwt.Token) (interface{}, error) {
		return v.pub, nil
	}, jwt.WithValidMethods([]string{"EdDSA"}))
	if err != nil {
		return nil, rerrors.New("boundary.IdentityVerifier.Verify", rerrors.AuthenticationFailed, err)
	}
	claims, ok := token.Claims.(*IdentityClaims)
	if !ok || !token.Valid {
		return nil, rerrors.New("boundary.IdentityVerifier.Verify", rerrors.AuthenticationFailed,
			fmt.Errorf("token failed validation"))
	}

	v.mu.Lock()
	revoked := v.revoked[claims.ID]
	v.mu.Unlock()
	if revoked {
		return nil, rerrors.New("boundary.IdentityVerifier.Verify", rerrors.AuthenticationFailed,
			fmt.Errorf("identity %s was revoked", claims.ID))
	}
	return claims, nil
}

// Revoke marks jti as revoked for the remainder of the process
// lifetime. There is no un-revoke: a revoked identity must be
// re-minted under a fresh jti.
func (v *IdentityVerifier) Revoke(jti string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.revoked[jti] = true
}
