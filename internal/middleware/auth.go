package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/arubinofaux/woocommerce-bitpay/internal/auth"
	"github.com/arubinofaux/woocommerce-bitpay/internal/logger"
	"github.com/arubinofaux/woocommerce-bitpay/internal/utils"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const TokenClaimsKey contextKey = "jwtClaims"

var errNoToken = errors.New("missing access token")

// AuthMiddleware guards the host-facing payment API. The storefront signs an
// HS256 token with SECRET_KEY; requests without a valid one get 401.
func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := parseClaims(auth.ExtractAccessToken(r), secret)
			if err != nil {
				logger.FromCtx(r.Context()).Warn("unauthorized request",
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				utils.WriteJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), TokenClaimsKey, claims)
			if uid, ok := claims["user_id"].(float64); ok {
				role, _ := claims["role"].(string)
				ctx = utils.SetUserContext(ctx, uint(uid), role)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseClaims(tokenStr string, secret []byte) (jwt.MapClaims, error) {
	if tokenStr == "" {
		return nil, errNoToken
	}
	if len(secret) == 0 {
		return nil, errors.New("token secret not configured")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
