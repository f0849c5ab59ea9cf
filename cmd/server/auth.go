package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/internal/protocol"
)

// AuthConfig configures JWT authentication. Tokens are HMAC signed with
// JWTSecret; the name and email claims become the author of every commit
// the connection makes.
type AuthConfig struct {
	Enabled   bool
	JWTSecret string

	// Issuer and Audience are checked when set.
	Issuer   string
	Audience string

	NameClaim  string // default "name"
	EmailClaim string // default "email"
}

func (cfg *AuthConfig) claimNames() (name, email string) {
	name, email = cfg.NameClaim, cfg.EmailClaim
	if name == "" {
		name = "name"
	}
	if email == "" {
		email = "email"
	}
	return name, email
}

// ConnectionState tracks per-connection authentication state.
type ConnectionState struct {
	identity      *core.Identity
	authenticated bool
	tokenExpiry   time.Time
}

func (cs *ConnectionState) IsAuthenticated() bool {
	return cs.authenticated
}

// Identity returns the authenticated identity, or nil.
func (cs *ConnectionState) Identity() *core.Identity {
	return cs.identity
}

type authResult struct {
	identity  core.Identity
	expiresAt time.Time
}

func (s *Server) validateJWT(tokenString string) (authResult, error) {
	if s.authConfig == nil || s.authConfig.JWTSecret == "" {
		return authResult{}, errors.New("authentication not configured")
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if s.authConfig.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(s.authConfig.Issuer))
	}
	if s.authConfig.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(s.authConfig.Audience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(s.authConfig.JWTSecret), nil
	}, parserOpts...)
	if err != nil {
		return authResult{}, fmt.Errorf("invalid token: %w", err)
	}

	nameClaim, emailClaim := s.authConfig.claimNames()
	name, _ := claims[nameClaim].(string)
	email, _ := claims[emailClaim].(string)
	if name == "" && email == "" {
		return authResult{}, fmt.Errorf("token missing identity claims (%s or %s)", nameClaim, emailClaim)
	}

	result := authResult{identity: core.Identity{Name: name, Email: email}}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		result.expiresAt = exp.Time
	}
	return result, nil
}

func isAuthCommand(line string) bool {
	fields := strings.Fields(line)
	return len(fields) > 0 && strings.EqualFold(fields[0], "AUTH")
}

// parseAuthCommand splits AUTH <type> <credentials>. Only JWT is supported.
func parseAuthCommand(line string) (authType, token string, err error) {
	parts := strings.Fields(line)
	if len(parts) == 0 || !strings.EqualFold(parts[0], "AUTH") {
		return "", "", errors.New("not an AUTH command")
	}
	if len(parts) != 3 {
		return "", "", errors.New("invalid AUTH command: expected AUTH <type> <credentials>")
	}

	authType = strings.ToUpper(parts[1])
	if authType != "JWT" {
		return "", "", fmt.Errorf("unsupported auth type: %s", parts[1])
	}
	return authType, parts[2], nil
}

func (s *Server) handleAuth(line string, state *ConnectionState) protocol.Response {
	fail := func(err error) protocol.Response {
		return protocol.Response{Success: false, Type: "auth", Kind: protocol.KindUnauthenticated, Error: err.Error()}
	}

	_, token, err := parseAuthCommand(line)
	if err != nil {
		return fail(err)
	}
	result, err := s.validateJWT(token)
	if err != nil {
		return fail(err)
	}

	state.identity = &result.identity
	state.authenticated = true
	state.tokenExpiry = result.expiresAt

	ar := protocol.AuthResponse{
		Authenticated: true,
		Identity:      result.identity.String(),
	}
	if !result.expiresAt.IsZero() {
		ar.ExpiresIn = int(time.Until(result.expiresAt).Seconds())
	}
	data, _ := json.Marshal(ar)
	return protocol.Response{Success: true, Type: "auth", Result: data}
}
