// Package auth 会话认证：bcrypt 密码 + HS256 JWT
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrInvalidToken       = errors.New("invalid token")
	ErrEmailTaken         = errors.New("user with this email already exists")
)

const accessTokenTTL = 24 * time.Hour

// Service 认证服务
type Service struct {
	users   repository.UserRepository
	tenants repository.TenantRepository
	secret  []byte
	now     func() time.Time
}

// NewService 创建认证服务。secret 为空时生成进程内随机密钥（重启后旧令牌失效）
func NewService(users repository.UserRepository, tenants repository.TenantRepository, secret string) (*Service, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		randomBytes := make([]byte, 32)
		if _, err := rand.Read(randomBytes); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		secret = base64.StdEncoding.EncodeToString(randomBytes)
	}
	return &Service{users: users, tenants: tenants, secret: []byte(secret), now: time.Now}, nil
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Username     string         `json:"username" binding:"required,min=3,max=50"`
	Email        string         `json:"email" binding:"required,email"`
	Password     string         `json:"password" binding:"required,min=6"`
	Role         model.UserRole `json:"role" binding:"omitempty,oneof=consultant client"`
	ConsultantID string         `json:"consultant_id"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// UserInfo 对外暴露的用户信息
type UserInfo struct {
	ID           string         `json:"id"`
	Username     string         `json:"username"`
	Email        string         `json:"email"`
	Role         model.UserRole `json:"role"`
	TenantID     string         `json:"tenant_id"`
	ConsultantID string         `json:"consultant_id,omitempty"`
}

// ToUserInfo 转换为对外信息
func ToUserInfo(u *model.User) *UserInfo {
	return &UserInfo{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		Role:         u.Role,
		TenantID:     u.TenantID,
		ConsultantID: u.ConsultantID,
	}
}

// LoginResponse 登录响应
type LoginResponse struct {
	User      *UserInfo `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Register 注册用户并创建同 ID 的租户。客户租户依附于所属顾问
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*UserInfo, error) {
	if existing, err := s.users.GetByEmail(ctx, req.Email); err == nil && existing != nil {
		return nil, ErrEmailTaken
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	role := req.Role
	if role == "" {
		role = model.UserRoleConsultant
	}
	id := uuid.New().String()
	user := &model.User{
		ID:           id,
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hashedPassword),
		Role:         role,
		TenantID:     id,
		IsActive:     true,
	}
	tenant := &model.Tenant{
		ID:              id,
		Name:            req.Username,
		Kind:            model.TenantKindConsultant,
		Status:          "active",
		SharedPoolOptIn: true,
	}
	if role == model.UserRoleClient {
		if req.ConsultantID == "" {
			return nil, errors.New("consultant_id is required for clients")
		}
		user.ConsultantID = req.ConsultantID
		tenant.Kind = model.TenantKindClient
		tenant.ParentID = req.ConsultantID
	}

	if err := s.tenants.Create(ctx, tenant); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return ToUserInfo(user), nil
}

// Login 用户登录
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.generateToken(user)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{User: ToUserInfo(user), Token: token, ExpiresAt: expiresAt}, nil
}

// ValidateToken 验证令牌并加载用户
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*model.User, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if t, _ := claims["type"].(string); t != "access" {
		return nil, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	return user, nil
}

// generateToken 生成访问令牌
func (s *Service) generateToken(user *model.User) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(accessTokenTTL)
	claims := jwt.MapClaims{
		"user_id":   user.ID,
		"email":     user.Email,
		"role":      string(user.Role),
		"tenant_id": user.TenantID,
		"exp":       expiresAt.Unix(),
		"iat":       now.Unix(),
		"type":      "access",
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}
