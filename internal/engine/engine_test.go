package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"mining_keeper/internal/config"
	"mining_keeper/internal/model"
	"mining_keeper/internal/provider"
	"mining_keeper/internal/store/file"
	"mining_keeper/internal/store/sqlite"
)

type profileCall struct {
	DeviceID    string
	AccessToken string
	Proxy       string
}

// fakeProvider 按脚本返回结果，并记录调用轨迹供断言。
type fakeProvider struct {
	mu sync.Mutex

	profileFails map[string]int // deviceID -> 还要失败几次
	refreshErr   error
	refreshPair  provider.TokenPair
	estimates    map[string]float64
	estimateErr  map[string]error
	claimErr     error
	startErr     error

	profileCalls []profileCall
	refreshCalls int
	claimCalls   []string
	startCalls   []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Refresh(_ context.Context, _ provider.Session, _ string) (provider.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return provider.TokenPair{}, f.refreshErr
	}
	return f.refreshPair, nil
}

func (f *fakeProvider) Profile(_ context.Context, sess provider.Session, deviceID string) (model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileCalls = append(f.profileCalls, profileCall{
		DeviceID:    deviceID,
		AccessToken: sess.AccessToken,
		Proxy:       sess.Proxy,
	})
	if n := f.profileFails[deviceID]; n > 0 {
		f.profileFails[deviceID] = n - 1
		return model.Profile{}, provider.ErrUnauthorized
	}
	return model.Profile{Name: "miner_" + deviceID, TotalReward: 100}, nil
}

func (f *fakeProvider) Estimate(_ context.Context, _ provider.Session, deviceID string) (model.EstimateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.estimateErr[deviceID]; err != nil {
		return model.EstimateResult{}, err
	}
	return model.EstimateResult{Value: f.estimates[deviceID]}, nil
}

func (f *fakeProvider) Claim(_ context.Context, _ provider.Session, deviceID string) (model.ClaimResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return model.ClaimResult{}, f.claimErr
	}
	f.claimCalls = append(f.claimCalls, deviceID)
	return model.ClaimResult{Balance: 123.45}, nil
}

func (f *fakeProvider) Start(_ context.Context, _ provider.Session, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.startCalls = append(f.startCalls, deviceID)
	return nil
}

func newTestAccounts(t *testing.T, tokens, ids string) *file.Accounts {
	t.Helper()
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token.txt")
	idPath := filepath.Join(dir, "unique_id.txt")
	if err := os.WriteFile(tokenPath, []byte(tokens), 0o644); err != nil {
		t.Fatalf("write tokens: %v", err)
	}
	if err := os.WriteFile(idPath, []byte(ids), 0o644); err != nil {
		t.Fatalf("write ids: %v", err)
	}
	return file.NewAccounts(tokenPath, idPath)
}

func newTestEngine(accounts *file.Accounts, prov provider.Provider, proxies []string) *Engine {
	return New(Options{
		Accounts: accounts,
		Provider: prov,
		Proxies:  proxies,
		Limits:   config.LimitsConfig{GlobalQPS: 10000, GlobalBurst: 10000},
		Claim:    config.ClaimConfig{Threshold: 10},
	})
}

func TestRunPass_ClaimBoundary(t *testing.T) {
	accounts := newTestAccounts(t, "a|r\n", "dev-high|dev-low\n")
	prov := &fakeProvider{
		estimates: map[string]float64{"dev-high": 11, "dev-low": 10},
	}
	e := newTestEngine(accounts, prov, []string{"http://p0"})

	if err := e.runPass(context.Background()); err != nil {
		t.Fatalf("runPass: %v", err)
	}

	// 严格大于 10 才领取：11 领，10 不领。
	if len(prov.claimCalls) != 1 || prov.claimCalls[0] != "dev-high" {
		t.Fatalf("领取调用不对: %v", prov.claimCalls)
	}
	// 领取成功后立刻重启。
	if len(prov.startCalls) != 1 || prov.startCalls[0] != "dev-high" {
		t.Fatalf("重启调用不对: %v", prov.startCalls)
	}
}

func TestRunPass_RefreshOncePersistsAndContinues(t *testing.T) {
	accounts := newTestAccounts(t, "oldA|oldR\nother|tokens\n", "d1|d2\nd3\n")
	prov := &fakeProvider{
		profileFails: map[string]int{"d1": 1},
		refreshPair:  provider.TokenPair{AccessToken: "newA", RefreshToken: "newR"},
		estimates:    map[string]float64{},
	}
	e := newTestEngine(accounts, prov, []string{"http://p0"})

	if err := e.runPass(context.Background()); err != nil {
		t.Fatalf("runPass: %v", err)
	}

	if prov.refreshCalls != 1 {
		t.Fatalf("期望恰好刷新 1 次，实际 %d", prov.refreshCalls)
	}

	// d1 失败一次、刷新后重试一次，d2/d3 各一次。
	if len(prov.profileCalls) != 4 {
		t.Fatalf("profile 调用次数不对: %+v", prov.profileCalls)
	}
	// 刷新后的令牌用于当前设备的重试和后续设备。
	if prov.profileCalls[1].AccessToken != "newA" || prov.profileCalls[2].AccessToken != "newA" {
		t.Fatalf("刷新后的令牌未生效: %+v", prov.profileCalls)
	}

	// 只改写第 0 行，第 1 行保持原样。
	loaded, err := accounts.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded[0].AccessToken != "newA" || loaded[0].RefreshToken != "newR" {
		t.Fatalf("新令牌未写回: %+v", loaded[0])
	}
	if loaded[1].AccessToken != "other" || loaded[1].RefreshToken != "tokens" {
		t.Fatalf("其他行被改动: %+v", loaded[1])
	}
}

func TestRunPass_RefreshFailureAbortsAccount(t *testing.T) {
	accounts := newTestAccounts(t, "a1|r1\na2|r2\n", "d1|d2\nd3\n")
	prov := &fakeProvider{
		profileFails: map[string]int{"d1": 1},
		refreshErr:   errors.New("refresh rejected"),
		estimates:    map[string]float64{},
	}
	e := newTestEngine(accounts, prov, []string{"http://p0"})

	if err := e.runPass(context.Background()); err != nil {
		t.Fatalf("runPass: %v", err)
	}

	// d2 被跳过，但第二个账号的 d3 照常处理。
	var devices []string
	for _, c := range prov.profileCalls {
		devices = append(devices, c.DeviceID)
	}
	want := []string{"d1", "d3"}
	if len(devices) != len(want) {
		t.Fatalf("profile 调用轨迹不对: %v", devices)
	}
	for i := range want {
		if devices[i] != want[i] {
			t.Fatalf("profile 调用轨迹不对: %v", devices)
		}
	}
}

func TestRunPass_EstimateFailureSkipsDevice(t *testing.T) {
	accounts := newTestAccounts(t, "a|r\n", "d1|d2\n")
	prov := &fakeProvider{
		estimates:   map[string]float64{"d2": 50},
		estimateErr: map[string]error{"d1": errors.New("upstream hiccup")},
	}
	e := newTestEngine(accounts, prov, []string{"http://p0"})

	if err := e.runPass(context.Background()); err != nil {
		t.Fatalf("runPass: %v", err)
	}

	// d1 估算失败只跳过自己，d2 正常领取。
	if len(prov.claimCalls) != 1 || prov.claimCalls[0] != "d2" {
		t.Fatalf("领取调用不对: %v", prov.claimCalls)
	}
}

func TestRunPass_ProxyRotationWraps(t *testing.T) {
	accounts := newTestAccounts(t,
		"a1|r1\na2|r2\na3|r3\na4|r4\na5|r5\n",
		"d1\nd2\nd3\nd4\nd5\n")
	prov := &fakeProvider{estimates: map[string]float64{}}
	proxies := []string{"http://p0", "http://p1"}
	e := newTestEngine(accounts, prov, proxies)

	if err := e.runPass(context.Background()); err != nil {
		t.Fatalf("runPass: %v", err)
	}

	if len(prov.profileCalls) != 5 {
		t.Fatalf("profile 调用次数不对: %d", len(prov.profileCalls))
	}
	// 每个账号推进一格，按 2 取模回绕。
	for i, c := range prov.profileCalls {
		want := proxies[i%len(proxies)]
		if c.Proxy != want {
			t.Fatalf("账号 %d 代理不对: 得到 %s 期望 %s", i, c.Proxy, want)
		}
	}
}

func TestRunPass_RecordsClaimHistory(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "keeper.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()

	accounts := newTestAccounts(t, "a|r\n", "d1\n")
	prov := &fakeProvider{estimates: map[string]float64{"d1": 42}}
	e := newTestEngine(accounts, prov, []string{"http://p0"})
	e.history = store

	if err := e.runPass(ctx); err != nil {
		t.Fatalf("runPass: %v", err)
	}

	records, err := store.ListClaims(ctx, 10)
	if err != nil {
		t.Fatalf("ListClaims: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("期望 1 条领取记录，得到 %d", len(records))
	}
	rec := records[0]
	if rec.DeviceID != "d1" || rec.AccountIndex != 0 || rec.Value != 42 || rec.Balance != 123.45 {
		t.Fatalf("领取记录内容不对: %+v", rec)
	}
}

func TestStart_RequiresProxies(t *testing.T) {
	accounts := newTestAccounts(t, "a|r\n", "d1\n")
	e := newTestEngine(accounts, &fakeProvider{}, nil)
	if err := e.Start(context.Background()); err == nil {
		t.Fatal("没有代理时应拒绝启动")
	}
}

func TestStart_RejectsMismatchedAccountFiles(t *testing.T) {
	accounts := newTestAccounts(t, "a1|r1\na2|r2\n", "d1\n")
	e := newTestEngine(accounts, &fakeProvider{}, []string{"http://p0"})
	if err := e.Start(context.Background()); err == nil {
		t.Fatal("行数不一致时应拒绝启动")
	}
	if e.State().Running {
		t.Fatal("启动失败后不应处于运行态")
	}
}

func TestRunPass_StateCounters(t *testing.T) {
	accounts := newTestAccounts(t, "a|r\n", "d1|d2\n")
	prov := &fakeProvider{estimates: map[string]float64{"d1": 20, "d2": 3}}
	e := newTestEngine(accounts, prov, []string{"http://p0"})

	if err := e.runPass(context.Background()); err != nil {
		t.Fatalf("runPass: %v", err)
	}

	st := e.State()
	if st.LastPass.Accounts != 1 || st.LastPass.Devices != 2 || st.LastPass.Claims != 1 {
		t.Fatalf("巡检统计不对: %+v", st.LastPass)
	}
}
