package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	authdomain "crm-backend/internal/auth/domain"
	authdto "crm-backend/internal/auth/dto"
	"crm-backend/internal/auth/repository"
	"crm-backend/pkg/config"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrLoginDisabled      = errors.New("owner login is not configured")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// AuthUsecase authenticates the CRM owner and manages device registrations.
type AuthUsecase interface {
	Login(req *authdto.LoginRequest) (*authdto.TokenResponse, error)
	ValidateToken(tokenString string) (*authdomain.Owner, error)
	RegisterFCMToken(ctx context.Context, token, deviceInfo string) error
	UnregisterFCMToken(ctx context.Context, token string) error
}

// authUsecase implements AuthUsecase interface
type authUsecase struct {
	fcmRepo repository.FCMTokenRepository
	config  *config.Config
}

// NewAuthUsecase creates a new instance of authUsecase
func NewAuthUsecase(fcmRepo repository.FCMTokenRepository, cfg *config.Config) AuthUsecase {
	return &authUsecase{
		fcmRepo: fcmRepo,
		config:  cfg,
	}
}

func (u *authUsecase) Login(req *authdto.LoginRequest) (*authdto.TokenResponse, error) {
	if u.config.OwnerPasswordHash == "" || u.config.JWTSecret == "" {
		return nil, ErrLoginDisabled
	}
	if !strings.EqualFold(strings.TrimSpace(req.Email), u.config.OwnerEmail) {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.config.OwnerPasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	expiresAt := time.Now().Add(u.config.JWTAccessExpiry)
	token, err := u.generateAccessToken(expiresAt)
	if err != nil {
		return nil, err
	}

	return &authdto.TokenResponse{
		AccessToken: token,
		ExpiresIn:   int64(u.config.JWTAccessExpiry.Seconds()),
		Owner:       &authdomain.Owner{Email: u.config.OwnerEmail, ExpiresAt: expiresAt},
	}, nil
}

func (u *authUsecase) generateAccessToken(expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":  u.config.OwnerEmail,
		"type": "access",
		"iat":  time.Now().Unix(),
		"exp":  expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(u.config.JWTSecret))
}

func (u *authUsecase) ValidateToken(tokenString string) (*authdomain.Owner, error) {
	if u.config.JWTSecret == "" {
		return nil, ErrLoginDisabled
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(u.config.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if claims["type"] != "access" {
		return nil, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if !strings.EqualFold(sub, u.config.OwnerEmail) {
		return nil, ErrInvalidToken
	}

	owner := &authdomain.Owner{Email: sub}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		owner.ExpiresAt = exp.Time
	}
	return owner, nil
}

func (u *authUsecase) RegisterFCMToken(ctx context.Context, token, deviceInfo string) error {
	return u.fcmRepo.SaveToken(ctx, token, deviceInfo)
}

func (u *authUsecase) UnregisterFCMToken(ctx context.Context, token string) error {
	return u.fcmRepo.DeleteToken(ctx, token)
}
