package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the payload of access tokens minted by the SSO gateway.
type JWTClaims struct {
	UserID     string `json:"user_id"`
	Role       RoleID `json:"role"`
	Email      string `json:"email"`
	FullName   string `json:"full_name"`
	Country    string `json:"country"`
	Department string `json:"department"`
	jwt.RegisteredClaims
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
