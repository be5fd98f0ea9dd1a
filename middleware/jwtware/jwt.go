// Package jwtware authenticates backend API calls with an HS256 session
// token and stores the caller under a router locals key.
package jwtware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-router"
)

var (
	defaultTokenLookup       = "header:" + router.HeaderAuthorization
	ErrJWTMissingOrMalformed = errors.New("missing or malformed JWT")
	ErrMissingSubject        = errors.New("session token has no subject")
)

// Session is the caller stored in the router locals.
type Session struct {
	UserID string
	Claims jwt.MapClaims
}

// GetUserID satisfies connector.UserIDer.
func (s *Session) GetUserID() string {
	return s.UserID
}

type Config struct {
	// Filter skips the middleware when it returns true
	Filter       func(router.Context) bool
	ErrorHandler router.ErrorHandler
	SigningKey   []byte
	// ContextKey is the locals key for the *Session (default: "user")
	ContextKey string
	// TokenLookup lists extractors, e.g. "header:Authorization,query:token"
	TokenLookup string
	AuthScheme  string
	// Issuer and Audience are checked when set
	Issuer   string
	Audience string
	Logger   connect.Logger
}

// New returns the session middleware. It panics when no signing key is
// configured.
func New(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)
	extractors := GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
	parser := jwt.NewParser(cfg.parserOptions()...)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return next(ctx)
			}

			raw, err := ExtractRawTokenFromContext(ctx, extractors)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			session, err := parseSession(parser, cfg.SigningKey, raw)
			if err != nil {
				cfg.Logger.Debug("session token rejected", "error", err)
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, session)
			return next(ctx)
		}
	}
}

func parseSession(parser *jwt.Parser, key []byte, raw string) (*Session, error) {
	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		return nil, err
	}

	sub, _ := claims.GetSubject()
	if uid, ok := claims["uid"].(string); ok && uid != "" {
		sub = uid
	}
	if sub == "" {
		return nil, ErrMissingSubject
	}
	return &Session{UserID: sub, Claims: claims}, nil
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if len(cfg.SigningKey) == 0 {
		panic("CONNECT: session middleware configuration: SigningKey is required.")
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c router.Context, err error) error {
			if errors.Is(err, ErrJWTMissingOrMalformed) {
				return c.Status(router.StatusBadRequest).SendString(ErrJWTMissingOrMalformed.Error())
			}
			return c.Status(router.StatusUnauthorized).SendString("Invalid or expired token")
		}
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	cfg.Logger = connect.NormalizeLogger(cfg.Logger)
	return cfg
}

func (cfg Config) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return opts
}

func ExtractRawTokenFromContext(ctx router.Context, extractors []JWTExtractor) (string, error) {
	var raw string
	err := ErrJWTMissingOrMalformed

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

// GetExtractors parses a lookup such as "header:Authorization,query:token".
func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	extractors := make([]JWTExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.SplitN(strings.TrimSpace(rootPart), ":", 2)
		if len(parts) != 2 {
			continue
		}
		source, name := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

		switch source {
		case "header":
			extractors = append(extractors, jwtFromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, jwtFromQuery(name))
		case "cookie":
			extractors = append(extractors, jwtFromCookie(name))
		}
	}

	return extractors
}

type JWTExtractor func(c router.Context) (string, error)

func jwtFromHeader(header string, authScheme string) JWTExtractor {
	authScheme = strings.TrimSpace(authScheme)
	return func(c router.Context) (string, error) {
		a := c.Header(header)
		l := len(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}

func jwtFromQuery(param string) JWTExtractor {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

func jwtFromCookie(name string) JWTExtractor {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", fmt.Errorf("%w: cookie %s", ErrJWTMissingOrMalformed, name)
		}
		return token, nil
	}
}
