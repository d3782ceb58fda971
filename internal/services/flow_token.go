package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Назначения flow_token. Токен привязывает зашифрованную Flow-форму к
// контакту и сценарию, который её открыл.
const (
	FlowPurposeSignIn         = "sign_in"
	FlowPurposeSignUp         = "sign_up"
	FlowPurposeForgotPassword = "forgot_password"
)

var ErrBadFlowToken = errors.New("invalid flow token")

type flowTokenClaims struct {
	ContactID string `json:"contact_id"`
	Purpose   string `json:"purpose"`
	jwt.RegisteredClaims
}

// FlowTokenService — подписанные HS256 токены для data-exchange обмена.
type FlowTokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewFlowTokenService(secret string) *FlowTokenService {
	return &FlowTokenService{secret: []byte(secret), ttl: 1 * time.Hour}
}

func (s *FlowTokenService) Issue(contactID, purpose string) (string, error) {
	claims := flowTokenClaims{
		ContactID: contactID,
		Purpose:   purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign flow token: %w", err)
	}
	return signed, nil
}

func (s *FlowTokenService) Validate(raw string) (contactID, purpose string, err error) {
	claims := &flowTokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid || claims.ContactID == "" {
		return "", "", ErrBadFlowToken
	}
	return claims.ContactID, claims.Purpose, nil
}
