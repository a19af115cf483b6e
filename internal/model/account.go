package model

import "strings"

// Account 对应 token.txt / unique_id.txt 中按行号配对的一个账号。
// Index 即行号（从 0 开始），刷新令牌后按这个行号写回 token.txt。
type Account struct {
	Index        int      `json:"index"`
	AccessToken  string   `json:"accessToken,omitempty"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	DeviceIDs    []string `json:"deviceIds"`
	Proxy        string   `json:"proxy,omitempty"`
	UserAgent    string   `json:"userAgent,omitempty"`
}

// Redacted 返回用于状态接口展示的脱敏副本，避免令牌明文外泄。
func (a Account) Redacted() Account {
	out := a
	out.AccessToken = maskToken(a.AccessToken)
	out.RefreshToken = maskToken(a.RefreshToken)
	return out
}

func maskToken(tok string) string {
	t := strings.TrimSpace(tok)
	if t == "" {
		return ""
	}
	if len(t) <= 8 {
		return "****"
	}
	return t[:4] + "****" + t[len(t)-4:]
}

type Profile struct {
	Name        string  `json:"name,omitempty"`
	TotalReward float64 `json:"totalReward"`
}

type EstimateResult struct {
	Value float64 `json:"value"`
}

type ClaimResult struct {
	Balance float64 `json:"balance"`
}
