package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

type sessionClaims struct {
	IssuedAt int64 `json:"iat"`
	Exp      int64 `json:"exp"`
}

// checkPasscode compares the supplied passcode against the configured one
// in constant time.
func checkPasscode(supplied, configured string) bool {
	if configured == "" {
		return false
	}
	return hmac.Equal([]byte(supplied), []byte(configured))
}

// issueSessionToken mints an HMAC-signed expiring token:
// base64(claims).base64(signature).
func issueSessionToken(secret string, now time.Time, ttl time.Duration) (token string, exp time.Time, err error) {
	exp = now.Add(ttl)
	claims := sessionClaims{IssuedAt: now.Unix(), Exp: exp.Unix()}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(payload)
	return payloadB64 + "." + signSession(secret, payloadB64), exp, nil
}

func verifySessionToken(secret, token string, now time.Time) *authError {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 2 {
		return &authError{status: 401, code: "unauthorized", message: "invalid session token format"}
	}
	if !hmac.Equal([]byte(parts[1]), []byte(signSession(secret, parts[0]))) {
		return &authError{status: 401, code: "unauthorized", message: "session signature mismatch"}
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return &authError{status: 401, code: "unauthorized", message: "invalid session payload"}
	}
	var claims sessionClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return &authError{status: 401, code: "unauthorized", message: "invalid session payload"}
	}
	if now.Unix() >= claims.Exp {
		return &authError{status: 401, code: "unauthorized", message: "session expired"}
	}
	return nil
}

func signSession(secret, payloadB64 string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(payloadB64))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// bearerOrQueryToken extracts the session token from the Authorization
// header or, for websocket clients that cannot set headers, the token
// query parameter.
func bearerOrQueryToken(authHeader, queryToken string) string {
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return strings.TrimSpace(queryToken)
}
