package provider

import (
	"context"
	"errors"

	"mining_keeper/internal/model"
)

// Session 一次上游调用所需的账号上下文。显式按值传递，
// 不在请求之间复用任何共享的 header 状态。
type Session struct {
	AccessToken string
	Proxy       string
	UserAgent   string
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// ErrUnauthorized 上游判定令牌失效（HTTP 401 或错误包体），
// 引擎据此触发一次令牌刷新。
var ErrUnauthorized = errors.New("unauthorized")

type Provider interface {
	Name() string

	Refresh(ctx context.Context, sess Session, refreshToken string) (TokenPair, error)
	Profile(ctx context.Context, sess Session, deviceID string) (model.Profile, error)
	Estimate(ctx context.Context, sess Session, deviceID string) (model.EstimateResult, error)
	Claim(ctx context.Context, sess Session, deviceID string) (model.ClaimResult, error)
	Start(ctx context.Context, sess Session, deviceID string) error
}
