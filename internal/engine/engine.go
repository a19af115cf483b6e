package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"mining_keeper/internal/config"
	"mining_keeper/internal/logbus"
	"mining_keeper/internal/model"
	"mining_keeper/internal/notify"
	"mining_keeper/internal/provider"
	"mining_keeper/internal/store/file"
	"mining_keeper/internal/store/sqlite"
)

type Options struct {
	Accounts *file.Accounts
	History  *sqlite.Store
	Provider provider.Provider
	Bus      *logbus.Bus
	Notifier notify.Notifier
	Limits   config.LimitsConfig
	Task     config.TaskConfig
	Claim    config.ClaimConfig

	// Proxies 启动时整批读入，之后整轮巡检按账号轮转。
	Proxies []string
}

// Engine 守护循环：每轮重新加载账号（拿到最新令牌），逐个账号
// 串行处理其下所有设备，然后休眠到下一轮。
type Engine struct {
	accounts *file.Accounts
	history  *sqlite.Store
	provider provider.Provider
	bus      *logbus.Bus
	notifier notify.Notifier

	limits config.LimitsConfig
	task   config.TaskConfig
	claim  config.ClaimConfig

	proxies []string
	rr      atomic.Uint64

	globalLimiter *rate.Limiter

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	passNum  int64
	lastPass model.PassState
}

func New(opts Options) *Engine {
	globalQPS := opts.Limits.GlobalQPS
	if globalQPS <= 0 {
		globalQPS = 5
	}
	globalBurst := opts.Limits.GlobalBurst
	if globalBurst <= 0 {
		globalBurst = 10
	}

	return &Engine{
		accounts:      opts.Accounts,
		history:       opts.History,
		provider:      opts.Provider,
		bus:           opts.Bus,
		notifier:      opts.Notifier,
		limits:        opts.Limits,
		task:          opts.Task,
		claim:         opts.Claim,
		proxies:       opts.Proxies,
		globalLimiter: rate.NewLimiter(rate.Limit(globalQPS), globalBurst),
	}
}

func (e *Engine) threshold() float64 {
	if e.claim.Threshold > 0 {
		return e.claim.Threshold
	}
	return 10
}

// Start 启动守护循环。代理列表为空直接拒绝启动。
func (e *Engine) Start(ctx context.Context) error {
	if len(e.proxies) == 0 {
		return errors.New("no proxies loaded")
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	e.running = true
	e.cancel = cancel
	e.mu.Unlock()

	// 启动前先确认账号文件可读，行数不一致在这里就报出来。
	accounts, err := e.accounts.Load()
	if err != nil {
		_ = e.Stop(ctx)
		return err
	}
	if len(accounts) == 0 {
		_ = e.Stop(ctx)
		return errors.New("no accounts in storage")
	}

	if e.bus != nil {
		e.bus.Log("info", "守护已启动", map[string]any{
			"provider": e.provider.Name(),
			"accounts": len(accounts),
			"proxies":  len(e.proxies),
			"interval": e.task.PollInterval().String(),
		})
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(runCtx)
	}()
	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	wasRunning := e.running
	e.running = false
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !wasRunning {
		return nil
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if e.bus != nil {
			e.bus.Log("info", "守护已停止", nil)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) State() model.KeeperState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return model.KeeperState{
		Running:  e.running,
		Proxies:  len(e.proxies),
		LastPass: e.lastPass,
	}
}

func (e *Engine) run(ctx context.Context) {
	ticker := time.NewTicker(e.task.PollInterval())
	defer ticker.Stop()

	for {
		if err := e.runPass(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			// 账号数据加载失败是致命的：没有可处理的对象，循环没有意义。
			if e.bus != nil {
				e.bus.Log("error", "巡检中止：账号数据不可用", map[string]any{"error": err.Error()})
			}
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runPass 执行一轮巡检。返回错误表示账号数据不可用，守护应停止。
func (e *Engine) runPass(ctx context.Context) error {
	started := time.Now()
	pass := model.PassState{
		Number:    e.passNum + 1,
		StartedMs: started.UnixMilli(),
	}

	accounts, err := e.accounts.Load()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return errors.New("no accounts in storage")
	}
	pass.Accounts = len(accounts)

	for _, acc := range accounts {
		if ctx.Err() != nil {
			break
		}
		acc.Proxy = e.nextProxy()
		e.processAccount(ctx, acc, &pass)
	}

	pass.DurationMs = time.Since(started).Milliseconds()
	e.mu.Lock()
	e.passNum++
	e.lastPass = pass
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Log("info", "本轮巡检结束", map[string]any{
			"pass":     pass.Number,
			"accounts": pass.Accounts,
			"devices":  pass.Devices,
			"claims":   pass.Claims,
			"errors":   pass.Errors,
			"ms":       pass.DurationMs,
		})
	}
	return nil
}

// nextProxy 每个账号推进一格，按代理数量取模回绕。
func (e *Engine) nextProxy() string {
	if len(e.proxies) == 0 {
		return ""
	}
	n := e.rr.Add(1) - 1
	return e.proxies[int(n%uint64(len(e.proxies)))]
}

// processAccount 逐个设备走一遍状态推进：
// 拉取资料 →（失败则刷新令牌一次并重试）→ 估算 →（超阈值则领取并重启）。
// 刷新失败时放弃该账号剩余设备。
func (e *Engine) processAccount(ctx context.Context, acc model.Account, pass *model.PassState) {
	sess := provider.Session{
		AccessToken: acc.AccessToken,
		Proxy:       acc.Proxy,
		UserAgent:   acc.UserAgent,
	}

	for _, deviceID := range acc.DeviceIDs {
		if ctx.Err() != nil {
			return
		}
		pass.Devices++

		prof, err := e.fetchProfile(ctx, sess, deviceID)
		if err != nil {
			// 资料拉取失败视作令牌问题，只刷新一次。
			pair, rerr := e.refreshTokens(ctx, sess, acc)
			if rerr != nil {
				pass.Errors++
				pass.LastError = rerr.Error()
				if e.bus != nil {
					e.bus.Log("error", "刷新令牌失败，跳过该账号剩余设备", map[string]any{
						"account": acc.Index,
						"device":  deviceID,
						"error":   rerr.Error(),
					})
				}
				return
			}
			pass.Refreshes++
			acc.AccessToken = pair.AccessToken
			acc.RefreshToken = pair.RefreshToken
			sess.AccessToken = pair.AccessToken

			prof, err = e.fetchProfile(ctx, sess, deviceID)
			if err != nil {
				pass.Errors++
				pass.LastError = err.Error()
				if e.bus != nil {
					e.bus.Log("warn", "刷新后资料仍拉取失败，跳过该设备", map[string]any{
						"account": acc.Index,
						"device":  deviceID,
						"error":   err.Error(),
					})
				}
				continue
			}
		}

		if e.bus != nil {
			e.bus.Log("debug", "账号资料", map[string]any{
				"account":     acc.Index,
				"device":      deviceID,
				"name":        prof.Name,
				"totalReward": prof.TotalReward,
			})
		}

		est, err := e.fetchEstimate(ctx, sess, deviceID)
		if err != nil {
			pass.Errors++
			pass.LastError = err.Error()
			if e.bus != nil {
				e.bus.Log("warn", "估算失败，跳过该设备", map[string]any{
					"account": acc.Index,
					"device":  deviceID,
					"error":   err.Error(),
				})
			}
			continue
		}

		if est.Value > e.threshold() {
			e.claimAndRestart(ctx, sess, acc, prof, deviceID, est.Value, pass)
		} else if e.bus != nil {
			e.bus.Log("info", "未到领取阈值，继续挖矿", map[string]any{
				"account":   acc.Index,
				"device":    deviceID,
				"value":     est.Value,
				"threshold": e.threshold(),
			})
		}
	}
}

func (e *Engine) claimAndRestart(ctx context.Context, sess provider.Session, acc model.Account, prof model.Profile, deviceID string, value float64, pass *model.PassState) {
	res, err := e.fetchClaim(ctx, sess, deviceID)
	if err != nil {
		pass.Errors++
		pass.LastError = err.Error()
		if e.bus != nil {
			e.bus.Log("warn", "领取失败", map[string]any{
				"account": acc.Index,
				"device":  deviceID,
				"value":   value,
				"error":   err.Error(),
			})
		}
		return
	}
	pass.Claims++

	restarted := true
	if err := e.callStart(ctx, sess, deviceID); err != nil {
		restarted = false
		pass.Errors++
		pass.LastError = err.Error()
		if e.bus != nil {
			e.bus.Log("warn", "重启挖矿失败", map[string]any{
				"account": acc.Index,
				"device":  deviceID,
				"error":   err.Error(),
			})
		}
	}

	if e.bus != nil {
		e.bus.Log("success", "领取成功", map[string]any{
			"account":   acc.Index,
			"device":    deviceID,
			"value":     value,
			"balance":   res.Balance,
			"restarted": restarted,
		})
	}

	if e.history != nil {
		if _, err := e.history.InsertClaim(ctx, model.ClaimRecord{
			AccountIndex: acc.Index,
			DeviceID:     deviceID,
			Value:        value,
			Balance:      res.Balance,
		}); err != nil && e.bus != nil {
			e.bus.Log("warn", "领取记录落库失败", map[string]any{"error": err.Error()})
		}
	}

	if e.notifier != nil {
		e.notifier.NotifyClaimed(ctx, notify.ClaimEvent{
			At:           time.Now().UnixMilli(),
			AccountIndex: acc.Index,
			AccountName:  prof.Name,
			DeviceID:     deviceID,
			Value:        value,
			Balance:      res.Balance,
			Restarted:    restarted,
		})
	}
}

// refreshTokens 调上游刷新一次，并立刻把新令牌写回 token.txt，
// 保证下一轮重新加载时拿到的是新值。
func (e *Engine) refreshTokens(ctx context.Context, sess provider.Session, acc model.Account) (provider.TokenPair, error) {
	if err := e.globalLimiter.Wait(ctx); err != nil {
		return provider.TokenPair{}, err
	}
	pair, err := e.provider.Refresh(ctx, sess, acc.RefreshToken)
	if err != nil {
		return provider.TokenPair{}, err
	}
	if err := e.accounts.UpdateTokens(acc.Index, pair.AccessToken, pair.RefreshToken); err != nil {
		// 写回失败不致命：内存里的新令牌本轮仍然可用。
		if e.bus != nil {
			e.bus.Log("warn", "令牌写回失败", map[string]any{
				"account": acc.Index,
				"error":   err.Error(),
			})
		}
	} else if e.bus != nil {
		e.bus.Log("info", "令牌已刷新并写回", map[string]any{"account": acc.Index})
	}
	return pair, nil
}

func (e *Engine) fetchProfile(ctx context.Context, sess provider.Session, deviceID string) (model.Profile, error) {
	if err := e.globalLimiter.Wait(ctx); err != nil {
		return model.Profile{}, err
	}
	return e.provider.Profile(ctx, sess, deviceID)
}

func (e *Engine) fetchEstimate(ctx context.Context, sess provider.Session, deviceID string) (model.EstimateResult, error) {
	if err := e.globalLimiter.Wait(ctx); err != nil {
		return model.EstimateResult{}, err
	}
	return e.provider.Estimate(ctx, sess, deviceID)
}

func (e *Engine) fetchClaim(ctx context.Context, sess provider.Session, deviceID string) (model.ClaimResult, error) {
	if err := e.globalLimiter.Wait(ctx); err != nil {
		return model.ClaimResult{}, err
	}
	return e.provider.Claim(ctx, sess, deviceID)
}

func (e *Engine) callStart(ctx context.Context, sess provider.Session, deviceID string) error {
	if err := e.globalLimiter.Wait(ctx); err != nil {
		return err
	}
	return e.provider.Start(ctx, sess, deviceID)
}
