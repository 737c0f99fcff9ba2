package models

import "github.com/golang-jwt/jwt/v5"

// TokenTypeAccess marks short-lived bearer tokens accepted by the HTTP API
// and the WebSocket handshake.
const TokenTypeAccess = "access"

// TokenClaims is the payload of an access token.
//
// It lives in models because the services, ws and middleware packages all
// read it and none of them should import another just for this type.
type TokenClaims struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}
