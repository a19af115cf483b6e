package standard

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"mining_keeper/internal/config"
	"mining_keeper/internal/logbus"
	"mining_keeper/internal/model"
	"mining_keeper/internal/provider"
)

type StandardProvider struct {
	cfg config.ProviderConfig
	bus *logbus.Bus
}

func New(cfg config.ProviderConfig, bus *logbus.Bus) *StandardProvider {
	return &StandardProvider{
		cfg: cfg,
		bus: bus,
	}
}

func (p *StandardProvider) Name() string { return "standard" }

type apiEnvelope[T any] struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Code    any    `json:"code,omitempty"`
	Data    T      `json:"data"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshData struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type profileData struct {
	Name        string  `json:"name"`
	TotalReward float64 `json:"totalReward"`
}

type estimateData struct {
	Value float64 `json:"value"`
}

type claimReq struct {
	UniqueID string `json:"uniqueId"`
}

type claimData struct {
	Claimed bool    `json:"claimed"`
	Balance float64 `json:"balance"`
}

type startReq struct {
	UniqueID string `json:"uniqueId"`
}

type startData struct {
	Status string `json:"status"`
}

func (p *StandardProvider) Refresh(ctx context.Context, sess provider.Session, refreshToken string) (provider.TokenPair, error) {
	var resp apiEnvelope[refreshData]
	r, err := p.newClient(sess).R().
		SetContext(ctx).
		SetBody(refreshReq{RefreshToken: refreshToken}).
		SetResult(&resp).
		Post("/auth/refresh")
	if err != nil {
		return provider.TokenPair{}, err
	}
	if err := envelopeError(r, resp.Success, resp.Error, resp.Message, "refresh failed"); err != nil {
		return provider.TokenPair{}, err
	}
	if resp.Data.AccessToken == "" {
		return provider.TokenPair{}, errors.New("refresh response missing access token")
	}
	pair := provider.TokenPair{
		AccessToken:  resp.Data.AccessToken,
		RefreshToken: resp.Data.RefreshToken,
	}
	// 上游偶尔不轮换 refresh token，此时沿用旧的。
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

func (p *StandardProvider) Profile(ctx context.Context, sess provider.Session, deviceID string) (model.Profile, error) {
	var resp apiEnvelope[profileData]
	r, err := p.newClient(sess).R().
		SetContext(ctx).
		SetQueryParam("uniqueId", deviceID).
		SetResult(&resp).
		Get("/mining/profile")
	if err != nil {
		return model.Profile{}, err
	}
	if err := envelopeError(r, resp.Success, resp.Error, resp.Message, "profile failed"); err != nil {
		return model.Profile{}, err
	}
	return model.Profile{
		Name:        resp.Data.Name,
		TotalReward: resp.Data.TotalReward,
	}, nil
}

func (p *StandardProvider) Estimate(ctx context.Context, sess provider.Session, deviceID string) (model.EstimateResult, error) {
	var resp apiEnvelope[estimateData]
	r, err := p.newClient(sess).R().
		SetContext(ctx).
		SetQueryParam("uniqueId", deviceID).
		SetResult(&resp).
		Get("/mining/estimate")
	if err != nil {
		return model.EstimateResult{}, err
	}
	if err := envelopeError(r, resp.Success, resp.Error, resp.Message, "estimate failed"); err != nil {
		return model.EstimateResult{}, err
	}
	return model.EstimateResult{Value: resp.Data.Value}, nil
}

func (p *StandardProvider) Claim(ctx context.Context, sess provider.Session, deviceID string) (model.ClaimResult, error) {
	var resp apiEnvelope[claimData]
	r, err := p.newClient(sess).R().
		SetContext(ctx).
		SetBody(claimReq{UniqueID: deviceID}).
		SetResult(&resp).
		Post("/mining/claim")
	if err != nil {
		return model.ClaimResult{}, err
	}
	if err := envelopeError(r, resp.Success, resp.Error, resp.Message, "claim failed"); err != nil {
		return model.ClaimResult{}, err
	}
	if !resp.Data.Claimed {
		return model.ClaimResult{}, errors.New("claim rejected by upstream")
	}
	return model.ClaimResult{Balance: resp.Data.Balance}, nil
}

func (p *StandardProvider) Start(ctx context.Context, sess provider.Session, deviceID string) error {
	var resp apiEnvelope[startData]
	r, err := p.newClient(sess).R().
		SetContext(ctx).
		SetBody(startReq{UniqueID: deviceID}).
		SetResult(&resp).
		Post("/mining/start")
	if err != nil {
		return err
	}
	return envelopeError(r, resp.Success, resp.Error, resp.Message, "start failed")
}

// envelopeError 把上游的错误包体折叠成 error；401 单独映射成 ErrUnauthorized。
func envelopeError(r *resty.Response, success bool, errMsg, message, fallback string) error {
	if r != nil && r.StatusCode() == http.StatusUnauthorized {
		return provider.ErrUnauthorized
	}
	if success {
		return nil
	}
	msg := errMsg
	if msg == "" {
		msg = message
	}
	if msg == "" {
		msg = fallback
	}
	if msg == "unauthorized" || msg == "invalid token" || msg == "token expired" {
		return fmt.Errorf("%w: %s", provider.ErrUnauthorized, msg)
	}
	return errors.New(msg)
}

func (p *StandardProvider) newClient(sess provider.Session) *resty.Client {
	client := resty.New().
		SetBaseURL(p.cfg.BaseURL).
		SetTimeout(p.cfg.Timeout()).
		SetRetryCount(p.cfg.Retry.Count).
		SetRetryWaitTime(p.cfg.Retry.Wait()).
		SetRetryMaxWaitTime(p.cfg.Retry.MaxWait()).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			if r == nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	if sess.Proxy != "" {
		client.SetProxy(sess.Proxy)
	}

	ua := sess.UserAgent
	if ua == "" {
		ua = p.cfg.UserAgent
	}
	client.SetHeader("User-Agent", ua)
	client.SetHeader("Content-Type", "application/json")
	if sess.AccessToken != "" {
		client.SetHeader("Authorization", "Bearer "+sess.AccessToken)
	}

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		req.SetHeader("X-Request-Id", uuid.NewString())
		if p.bus != nil {
			p.bus.Log("debug", "http request", map[string]any{
				"method": req.Method,
				"url":    req.URL,
			})
		}
		return nil
	})

	return client
}
