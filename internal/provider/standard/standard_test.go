package standard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mining_keeper/internal/config"
	"mining_keeper/internal/provider"
)

func newTestProvider(baseURL string) *StandardProvider {
	return New(config.ProviderConfig{
		BaseURL:   baseURL,
		TimeoutMs: 2000,
		UserAgent: "test-agent",
	}, nil)
}

func TestProfile_SendsBearerAndRequestID(t *testing.T) {
	var gotAuth, gotReqID, gotUA, gotUniqueID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get("X-Request-Id")
		gotUA = r.Header.Get("User-Agent")
		gotUniqueID = r.URL.Query().Get("uniqueId")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"name": "alice", "totalReward": 99.5},
		})
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	sess := provider.Session{AccessToken: "tok123"}
	prof, err := p.Profile(context.Background(), sess, "dev-1")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}

	if gotAuth != "Bearer tok123" {
		t.Fatalf("Authorization 头不对: %q", gotAuth)
	}
	if gotReqID == "" {
		t.Fatal("缺少 X-Request-Id")
	}
	if gotUA != "test-agent" {
		t.Fatalf("User-Agent 不对: %q", gotUA)
	}
	if gotUniqueID != "dev-1" {
		t.Fatalf("uniqueId 参数不对: %q", gotUniqueID)
	}
	if prof.Name != "alice" || prof.TotalReward != 99.5 {
		t.Fatalf("资料解析不对: %+v", prof)
	}
}

func TestProfile_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "token expired"})
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	_, err := p.Profile(context.Background(), provider.Session{AccessToken: "stale"}, "dev-1")
	if !errors.Is(err, provider.ErrUnauthorized) {
		t.Fatalf("期望 ErrUnauthorized，得到 %v", err)
	}
}

func TestRefresh_KeepsOldRefreshTokenWhenUpstreamOmits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.RefreshToken != "oldR" {
			t.Errorf("refreshToken 请求体不对: %q", body.RefreshToken)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"accessToken": "newA"},
		})
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	pair, err := p.Refresh(context.Background(), provider.Session{}, "oldR")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair.AccessToken != "newA" {
		t.Fatalf("accessToken 不对: %+v", pair)
	}
	// 上游没轮换 refresh token 时沿用旧值。
	if pair.RefreshToken != "oldR" {
		t.Fatalf("refreshToken 应沿用旧值: %+v", pair)
	}
}

func TestClaim_EnvelopeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "cooldown"})
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	_, err := p.Claim(context.Background(), provider.Session{AccessToken: "tok"}, "dev-1")
	if err == nil || err.Error() != "cooldown" {
		t.Fatalf("期望上游错误原样透出，得到 %v", err)
	}
}

func TestStart_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method 不对: %s", r.Method)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"status": "mining"},
		})
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	if err := p.Start(context.Background(), provider.Session{AccessToken: "tok"}, "dev-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
}
