package model

import "time"

// ClaimRecord 一次成功领取的历史记录，落在 sqlite 里。
type ClaimRecord struct {
	ID           string    `json:"id"`
	AccountIndex int       `json:"accountIndex"`
	DeviceID     string    `json:"deviceId"`
	Value        float64   `json:"value"`
	Balance      float64   `json:"balance"`
	ClaimedAt    time.Time `json:"claimedAt"`
}
