package middleware

import (
	"context"
	"net/http"
	"strings"
)

type UserIDKey struct{}

const TokenCookieName = "token"

type TokenParser interface {
	Parse(accessToken string) (string, error)
}

// Auth accepts a bearer token or the token cookie and puts the user id into
// the request context.
func Auth(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(resp http.ResponseWriter, req *http.Request) {
			accessToken := bearerToken(req.Header.Get("Authorization"))

			if accessToken == "" {
				tokenCookie, err := req.Cookie(TokenCookieName)
				if err != nil {
					if err == http.ErrNoCookie {
						resp.WriteHeader(http.StatusUnauthorized)
						return
					}

					resp.WriteHeader(http.StatusInternalServerError)
					return
				}

				accessToken = tokenCookie.Value
			}

			userID, err := tokens.Parse(accessToken)
			if err != nil {
				resp.WriteHeader(http.StatusUnauthorized)
				return
			}

			req = req.WithContext(context.WithValue(req.Context(), UserIDKey{}, userID))

			next.ServeHTTP(resp, req)
		})
	}
}

func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey{}).(string)
	return userID
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}

	return strings.TrimSpace(token)
}
