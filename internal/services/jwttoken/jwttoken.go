package jwttoken

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const tokenExp = time.Hour * 3

type claims struct {
	jwt.RegisteredClaims
	UserID string
}

// Manager issues and checks session tokens signed with one HMAC secret.
type Manager struct {
	secretKey []byte
}

func NewManager(secretKey string) *Manager {
	return &Manager{secretKey: []byte(secretKey)}
}

func (m *Manager) Parse(accessToken string) (string, error) {
	claims := &claims{}

	token, err := jwt.ParseWithClaims(
		accessToken,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return m.secretKey, nil
		},
	)

	if err != nil {
		return "", err
	}

	if !token.Valid || claims.UserID == "" {
		return "", fmt.Errorf("token is not valid")
	}

	return claims.UserID, nil
}

func (m *Manager) Generate(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenExp)),
		},
		UserID: userID,
	})

	accessToken, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", err
	}

	return accessToken, nil
}
