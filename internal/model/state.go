package model

// PassState 记录最近一轮巡检的汇总数据。
type PassState struct {
	Number     int64  `json:"number"`
	StartedMs  int64  `json:"startedMs,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	Accounts   int    `json:"accounts"`
	Devices    int    `json:"devices"`
	Claims     int    `json:"claims"`
	Refreshes  int    `json:"refreshes"`
	Errors     int    `json:"errors"`
	LastError  string `json:"lastError,omitempty"`
}

type KeeperState struct {
	Running  bool      `json:"running"`
	Proxies  int       `json:"proxies"`
	LastPass PassState `json:"lastPass"`
}
