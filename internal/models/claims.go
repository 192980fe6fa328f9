package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims is the payload of access tokens issued by the external auth service.
type JWTClaims struct {
	Login string `json:"login"`
	jwt.RegisteredClaims
}
