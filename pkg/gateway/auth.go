package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// maxAuthAttempts closes the connection after this many bad signatures
const maxAuthAttempts = 3

// AuthHandler runs the HMAC challenge-response handshake. With an empty
// secret every client is accepted on connect.
type AuthHandler struct {
	sharedSecret string
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{
		sharedSecret: sharedSecret,
	}
}

// Required reports whether clients must authenticate
func (a *AuthHandler) Required() bool {
	return a.sharedSecret != ""
}

// GenerateChallenge generates a random 32-byte challenge as hex
func (a *AuthHandler) GenerateChallenge() (string, error) {
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(challenge), nil
}

// Sign returns the hex HMAC-SHA256 of challenge under secret
func Sign(secret, challenge string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(challenge))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks signature against the challenge in constant time
func (a *AuthHandler) VerifySignature(challenge, signature string) bool {
	expected := Sign(a.sharedSecret, challenge)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// HandleAuthResponse checks a client's answer to its challenge. The caller
// marks the client authenticated in the registry on success.
func (a *AuthHandler) HandleAuthResponse(client *Client, signature string) AuthResult {
	if client.Challenge == "" {
		return AuthResult{Event: "auth.failure", Message: "No challenge found"}
	}

	if !a.VerifySignature(client.Challenge, signature) {
		client.AuthAttempts++
		if client.AuthAttempts >= maxAuthAttempts {
			return AuthResult{Event: "auth.failure", Message: "Too many failed attempts"}
		}
		return AuthResult{Event: "auth.failure", Message: "Invalid signature"}
	}

	client.AuthAttempts = 0
	client.Challenge = ""
	return AuthResult{Event: "auth.success", Success: true}
}

// VerifySecret compares a secret presented directly, as on HTTP RPC
func (a *AuthHandler) VerifySecret(secret string) bool {
	return subtle.ConstantTimeCompare([]byte(a.sharedSecret), []byte(secret)) == 1
}
