package webhook

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Verification errors. Handlers map all of these to a 401 without leaking
// token internals to the caller.
var (
	ErrNoToken        = errors.New("webhook: missing authorization token")
	ErrBadToken       = errors.New("webhook: invalid token")
	ErrIssuerMismatch = errors.New("webhook: token issuer does not match API key")
	ErrBodyMismatch   = errors.New("webhook: body digest does not match token claim")
)

// deliveryClaims is the claim set the provider signs onto each webhook
// delivery: the API key as issuer plus a base64 SHA-256 of the raw body.
type deliveryClaims struct {
	Sha256 string `json:"sha256"`
	jwt.RegisteredClaims
}

// Verifier authenticates webhook deliveries. Every delivery must pass
// Verify before it is allowed to touch session state.
type Verifier struct {
	apiKey    string
	apiSecret []byte
}

// NewVerifier returns a verifier bound to one API key/secret pair.
func NewVerifier(apiKey, apiSecret string) *Verifier {
	return &Verifier{apiKey: apiKey, apiSecret: []byte(apiSecret)}
}

// Verify checks the HS256 signature, the issuer and the body digest of a
// delivery. authHeader is the raw Authorization header value; a Bearer
// prefix is tolerated.
func (v *Verifier) Verify(body []byte, authHeader string) error {
	tokenString := strings.TrimSpace(authHeader)
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return ErrNoToken
	}

	claims := &deliveryClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.apiSecret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if !token.Valid {
		return ErrBadToken
	}
	if claims.Issuer != v.apiKey {
		return ErrIssuerMismatch
	}

	sum := sha256.Sum256(body)
	want := base64.StdEncoding.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(want), []byte(claims.Sha256)) != 1 {
		return ErrBodyMismatch
	}
	return nil
}

// deliveryTokenTTL bounds how long a signed delivery stays valid.
const deliveryTokenTTL = 5 * time.Minute

// Sign mints the delivery token for a webhook body, the way the provider
// does. The simulator uses it to produce deliveries Verify accepts.
func Sign(apiKey, apiSecret string, body []byte) (string, error) {
	sum := sha256.Sum256(body)
	now := time.Now()

	claims := deliveryClaims{
		Sha256: base64.StdEncoding.EncodeToString(sum[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    apiKey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(deliveryTokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(apiSecret))
}
