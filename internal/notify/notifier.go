package notify

import "context"

// ClaimEvent 一次成功领取（以及随后的重启挖矿）产生的通知事件。
type ClaimEvent struct {
	At           int64   `json:"atMs"`
	AccountIndex int     `json:"accountIndex"`
	AccountName  string  `json:"accountName,omitempty"`
	DeviceID     string  `json:"deviceId"`
	Value        float64 `json:"value"`
	Balance      float64 `json:"balance"`
	Restarted    bool    `json:"restarted"`
}

type Notifier interface {
	NotifyClaimed(ctx context.Context, evt ClaimEvent)
}
