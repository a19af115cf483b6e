package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"mining_keeper/internal/logbus"
	"mining_keeper/internal/model"
	"mining_keeper/internal/store/sqlite"
)

type EmailNotifier struct {
	store *sqlite.Store
	bus   *logbus.Bus

	mu     sync.Mutex
	queue  chan ClaimEvent
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup

	summaryWindow time.Duration
	maxBatch      int
}

func NewEmailNotifier(store *sqlite.Store, bus *logbus.Bus) *EmailNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		store:         store,
		bus:           bus,
		queue:         make(chan ClaimEvent, 200),
		ctx:           ctx,
		cancel:        cancel,
		summaryWindow: emailSummaryWindow(),
		maxBatch:      80,
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

// emailSummaryWindow 汇总窗口：窗口内的多次领取合并成一封邮件。
func emailSummaryWindow() time.Duration {
	if v := strings.TrimSpace(os.Getenv("MINING_KEEPER_EMAIL_WINDOW_MS")); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return time.Minute
}

func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *EmailNotifier) NotifyClaimed(_ context.Context, evt ClaimEvent) {
	select {
	case n.queue <- evt:
	default:
		if n.bus != nil {
			n.bus.Log("warn", "邮件通知丢弃：队列已满", map[string]any{
				"accountIndex": evt.AccountIndex,
				"deviceId":     evt.DeviceID,
			})
		}
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()

	var (
		pending []ClaimEvent
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
		timerCh = nil
	}

	resetTimer := func() {
		if n.summaryWindow <= 0 {
			return
		}
		if timer == nil {
			timer = time.NewTimer(n.summaryWindow)
			timerCh = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(n.summaryWindow)
	}

	flush := func(reason string) {
		if len(pending) == 0 {
			stopTimer()
			return
		}
		events := append([]ClaimEvent(nil), pending...)
		pending = pending[:0]
		stopTimer()
		n.handleBatch(reason, events)
	}

	for {
		select {
		case <-n.ctx.Done():
			flush("shutdown")
			return
		case evt := <-n.queue:
			pending = append(pending, evt)
			if n.maxBatch > 0 && len(pending) >= n.maxBatch {
				flush("max")
				continue
			}
			if n.summaryWindow <= 0 {
				flush("immediate")
				continue
			}
			resetTimer()
		case <-timerCh:
			flush("idle")
		}
	}
}

func (n *EmailNotifier) handleBatch(reason string, events []ClaimEvent) {
	if n.store == nil {
		return
	}

	settings, ok, err := n.store.GetEmailSettings(n.ctx)
	if err != nil {
		if n.bus != nil {
			n.bus.Log("warn", "读取邮件配置失败", map[string]any{"error": err.Error()})
		}
		return
	}
	if !ok || !settings.Enabled {
		if n.bus != nil {
			n.bus.Log("info", "邮件通知未启用", map[string]any{
				"count":  len(events),
				"reason": reason,
			})
		}
		return
	}

	if err := validateEmailSettings(settings); err != nil {
		if n.bus != nil {
			n.bus.Log("warn", "邮件配置无效", map[string]any{"error": err.Error()})
		}
		return
	}

	if err := SendClaimSummaryEmail(n.ctx, settings, events); err != nil {
		if n.bus != nil {
			n.bus.Log("warn", "邮件发送失败", map[string]any{
				"error":  err.Error(),
				"count":  len(events),
				"reason": reason,
			})
		}
		return
	}

	if n.bus != nil {
		n.bus.Log("info", "通知邮件已发送", map[string]any{
			"count":  len(events),
			"reason": reason,
			"to":     strings.TrimSpace(settings.Email),
		})
	}
}

func validateEmailSettings(s model.EmailSettings) error {
	email := strings.TrimSpace(s.Email)
	if email == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errors.New("invalid email")
	}
	if strings.TrimSpace(s.AuthCode) == "" {
		return errors.New("authCode is required")
	}
	return nil
}

// SendTestEmail 配置页「发送测试邮件」用。
func SendTestEmail(ctx context.Context, settings model.EmailSettings) error {
	evt := ClaimEvent{
		At:           time.Now().UnixMilli(),
		AccountIndex: 0,
		AccountName:  "测试账号",
		DeviceID:     "test-device",
		Value:        12.34,
		Balance:      56.78,
		Restarted:    true,
	}
	return SendClaimSummaryEmail(ctx, settings, []ClaimEvent{evt})
}

func SendClaimSummaryEmail(ctx context.Context, settings model.EmailSettings, events []ClaimEvent) error {
	if err := validateEmailSettings(settings); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return errors.New("no events")
	}

	email := strings.TrimSpace(settings.Email)
	host, port, useSSL, err := smtpConfigForEmail(email)
	if err != nil {
		return err
	}
	subject := buildSummarySubject(events)
	htmlBody, textBody, err := buildSummaryEmailBody(events)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(email, "挖矿守护"))
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)

	d := gomail.NewDialer(host, port, email, strings.TrimSpace(settings.AuthCode))
	d.SSL = useSSL
	return d.DialAndSend(msg)
}

func smtpConfigForEmail(email string) (host string, port int, useSSL bool, err error) {
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return "", 0, false, errors.New("invalid email format")
	}
	domain := strings.ToLower(strings.TrimSpace(parts[1]))

	switch {
	case domain == "qq.com" || strings.HasSuffix(domain, ".qq.com") || domain == "foxmail.com" || strings.HasSuffix(domain, ".foxmail.com"):
		return "smtp.qq.com", 465, true, nil
	case domain == "163.com" || strings.HasSuffix(domain, ".163.com") ||
		domain == "126.com" || strings.HasSuffix(domain, ".126.com") ||
		domain == "yeah.net" || strings.HasSuffix(domain, ".yeah.net"):
		return "smtp.163.com", 465, true, nil
	case domain == "gmail.com" || strings.HasSuffix(domain, ".gmail.com"):
		return "smtp.gmail.com", 587, false, nil
	case domain == "outlook.com" || strings.HasSuffix(domain, ".outlook.com") ||
		domain == "hotmail.com" || strings.HasSuffix(domain, ".hotmail.com") ||
		domain == "live.com" || strings.HasSuffix(domain, ".live.com"):
		return "smtp.office365.com", 587, false, nil
	case domain == "aliyun.com" || strings.HasSuffix(domain, ".aliyun.com"):
		return "smtp.aliyun.com", 465, true, nil
	default:
		return "smtp." + domain, 465, true, nil
	}
}

func buildSummarySubject(events []ClaimEvent) string {
	total := 0.0
	for _, e := range events {
		total += e.Value
	}
	return fmt.Sprintf("领取结果汇总（%d 次，共 %.2f）", len(events), total)
}

var summaryHTMLTpl = template.Must(template.New("summary").Parse(`
<!doctype html>
<html lang="zh-CN">
  <head>
    <meta charset="utf-8" />
    <title>领取结果汇总</title>
  </head>
  <body style="margin:0;padding:0;background:#f6f8fb;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Arial,'PingFang SC','Microsoft YaHei',sans-serif;">
    <div style="max-width:720px;margin:0 auto;padding:24px;">
      <div style="background:#ffffff;border:1px solid #e6e8ef;border-radius:14px;overflow:hidden;">
        <div style="padding:18px 22px;background:linear-gradient(135deg,#0ea5e9,#6366f1);color:#ffffff;">
          <div style="font-size:16px;font-weight:700;">领取结果汇总</div>
          <div style="margin-top:6px;font-size:12px;opacity:.95;">挖矿守护通知</div>
        </div>
        <div style="padding:22px;">
          <table style="width:100%;border-collapse:collapse;font-size:13px;color:#111827;">
            <tr style="color:#6b7280;text-align:left;">
              <th style="padding:6px 8px;border-bottom:1px solid #e6e8ef;">时间</th>
              <th style="padding:6px 8px;border-bottom:1px solid #e6e8ef;">账号</th>
              <th style="padding:6px 8px;border-bottom:1px solid #e6e8ef;">设备</th>
              <th style="padding:6px 8px;border-bottom:1px solid #e6e8ef;">领取</th>
              <th style="padding:6px 8px;border-bottom:1px solid #e6e8ef;">余额</th>
              <th style="padding:6px 8px;border-bottom:1px solid #e6e8ef;">已重启</th>
            </tr>
            {{ range .Rows }}
            <tr>
              <td style="padding:6px 8px;border-bottom:1px solid #f0f2f7;">{{ .Time }}</td>
              <td style="padding:6px 8px;border-bottom:1px solid #f0f2f7;">{{ .Account }}</td>
              <td style="padding:6px 8px;border-bottom:1px solid #f0f2f7;">{{ .Device }}</td>
              <td style="padding:6px 8px;border-bottom:1px solid #f0f2f7;">{{ .Value }}</td>
              <td style="padding:6px 8px;border-bottom:1px solid #f0f2f7;">{{ .Balance }}</td>
              <td style="padding:6px 8px;border-bottom:1px solid #f0f2f7;">{{ .Restarted }}</td>
            </tr>
            {{ end }}
          </table>
        </div>
      </div>
    </div>
  </body>
</html>
`))

type summaryRow struct {
	Time      string
	Account   string
	Device    string
	Value     string
	Balance   string
	Restarted string
}

func buildSummaryEmailBody(events []ClaimEvent) (htmlBody, textBody string, err error) {
	rows := make([]summaryRow, 0, len(events))
	var text strings.Builder
	for _, e := range events {
		ts := time.UnixMilli(e.At).Format("01-02 15:04:05")
		account := strings.TrimSpace(e.AccountName)
		if account == "" {
			account = fmt.Sprintf("#%d", e.AccountIndex)
		}
		restarted := "否"
		if e.Restarted {
			restarted = "是"
		}
		rows = append(rows, summaryRow{
			Time:      ts,
			Account:   account,
			Device:    e.DeviceID,
			Value:     fmt.Sprintf("%.4f", e.Value),
			Balance:   fmt.Sprintf("%.4f", e.Balance),
			Restarted: restarted,
		})
		fmt.Fprintf(&text, "[%s] %s %s 领取 %.4f 余额 %.4f 重启:%s\n",
			ts, account, e.DeviceID, e.Value, e.Balance, restarted)
	}

	var buf bytes.Buffer
	if err := summaryHTMLTpl.Execute(&buf, map[string]any{"Rows": rows}); err != nil {
		return "", "", err
	}
	return buf.String(), text.String(), nil
}
