package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
)

const defaultTokenHourLifespan = 24

type JwtCustomClaim struct {
	UserId string `json:"uid"`
	Role   string `json:"role"`
	jwt.StandardClaims
}

var jwtSecret = []byte(getJwtSecret())

func getJwtSecret() string {
	secret := os.Getenv("API_SECRET")
	if secret == "" {
		return "CardAudit-Secret"
	}
	return secret
}

func tokenLifespan() time.Duration {
	hours, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
	if err != nil || hours <= 0 {
		hours = defaultTokenHourLifespan
	}
	return time.Duration(hours) * time.Hour
}

func JwtGenerate(userId string, role string) (string, error) {
	if userId == "" {
		return "", errors.New("user id is required")
	}
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &JwtCustomClaim{
		UserId: userId,
		Role:   role,
		StandardClaims: jwt.StandardClaims{
			Subject:   userId,
			ExpiresAt: now.Add(tokenLifespan()).Unix(),
			IssuedAt:  now.Unix(),
		},
	})

	return t.SignedString(jwtSecret)
}

func JwtValidate(token string) (*jwt.Token, error) {
	return jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return jwtSecret, nil
	})
}
