package asterdex

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthType selects the authentication method
type AuthType string

const (
	AuthTypeHMAC AuthType = "hmac"
	AuthTypeJWT  AuthType = "jwt"
)

// Authenticator signs outgoing venue requests. HMAC venues take the
// signature as a trailing query parameter plus an API key header; JWT
// venues take a bearer token instead.
type Authenticator interface {
	SignQuery(query string) string
	Apply(req *http.Request, method, path string) error
}

// HMACAuthenticator signs the query string with HMAC-SHA256 and
// identifies the caller through the X-MBX-APIKEY header.
type HMACAuthenticator struct {
	apiKey    string
	apiSecret string
}

func NewHMACAuthenticator(apiKey, apiSecret string) *HMACAuthenticator {
	return &HMACAuthenticator{
		apiKey:    apiKey,
		apiSecret: apiSecret,
	}
}

func (h *HMACAuthenticator) SignQuery(query string) string {
	mac := hmac.New(sha256.New, []byte(h.apiSecret))
	mac.Write([]byte(query))
	return query + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

func (h *HMACAuthenticator) Apply(req *http.Request, method, path string) error {
	req.Header.Set("X-MBX-APIKEY", h.apiKey)
	return nil
}

// JWTAuthenticator signs a short-lived ES256 token per request, for
// venue deployments fronted by a JWT gateway.
type JWTAuthenticator struct {
	apiKeyName string
	privateKey *ecdsa.PrivateKey
}

func NewJWTAuthenticator(apiKeyName, privateKeyPEM string) (*JWTAuthenticator, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block containing the private key")
	}

	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS8 format
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse EC private key: %w", err)
		}
		var ok bool
		privateKey, ok = key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not an EC private key")
		}
	}

	return &JWTAuthenticator{
		apiKeyName: apiKeyName,
		privateKey: privateKey,
	}, nil
}

func (j *JWTAuthenticator) SignQuery(query string) string {
	return query
}

func (j *JWTAuthenticator) Apply(req *http.Request, method, path string) error {
	token, err := j.generateJWT(method, req.Host, path)
	if err != nil {
		return fmt.Errorf("failed to generate JWT: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (j *JWTAuthenticator) generateJWT(method, host, path string) (string, error) {
	nonce, err := generateNonce()
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"sub":   j.apiKeyName,
		"nbf":   time.Now().Unix(),
		"exp":   time.Now().Add(2 * time.Minute).Unix(),
		"uri":   method + " " + host + path,
		"nonce": nonce,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = j.apiKeyName
	token.Header["nonce"] = nonce

	tokenString, err := token.SignedString(j.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
