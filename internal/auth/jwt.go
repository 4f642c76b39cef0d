package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const RoleAdmin = "admin"

// VendorClaims identify the caller of a protected route. Sessions are issued
// elsewhere; this service only verifies them.
type VendorClaims struct {
	VendorID string `json:"vid"`
	Tier     string `json:"tier"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Actor names the caller for audit records.
func (c *VendorClaims) Actor() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.VendorID
}

func (c *VendorClaims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

type JWTManager struct {
	secret []byte
	issuer string
}

func NewJWTManager(secret, issuer string) *JWTManager {
	return &JWTManager{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// GenerateToken signs a token for vendorID. cmd/token and tests use it.
func (m *JWTManager) GenerateToken(subject, vendorID, tier, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := VendorClaims{
		VendorID: vendorID,
		Tier:     tier,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func (m *JWTManager) ValidateToken(tokenStr string) (*VendorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &VendorClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(*VendorClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.VendorID == "" {
		return nil, fmt.Errorf("token has no vendor id")
	}

	return claims, nil
}
