package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer = "tinchat-backend"
	tokenTTL    = 72 * time.Hour
)

var errNoIdentity = errors.New("token carries no identity")

// identityClaims binds a stable anonymous identity to its holder. It proves
// continuity between sessions, nothing more.
type identityClaims struct {
	AnonID string `json:"anon_id"`
	jwt.RegisteredClaims
}

func (h *Handler) generateJWT(anonID string) (string, error) {
	now := time.Now()
	claims := identityClaims{
		AnonID: anonID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
}

func (h *Handler) validateAndGetAnonID(tokenString string) (string, error) {
	var claims identityClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return h.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if claims.AnonID == "" {
		return "", errNoIdentity
	}
	return claims.AnonID, nil
}

// GetAnonID issues a new anonymous identity and its token.
func (h *Handler) GetAnonID(c *gin.Context) {
	anonID := uuid.NewString()

	token, err := h.generateJWT(anonID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to sign token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "anon_id": anonID})
}
