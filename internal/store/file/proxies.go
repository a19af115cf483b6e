package file

import (
	"os"
	"strings"

	"mining_keeper/internal/logbus"
)

// LoadProxies 读取每行一个代理地址的列表文件，跳过空行。
// 读取失败或文件为空时返回空切片并打日志，由调用方决定是否视为致命。
func LoadProxies(path string, bus *logbus.Bus) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		if bus != nil {
			bus.Log("error", "读取代理文件失败", map[string]any{
				"path":  path,
				"error": err.Error(),
			})
		}
		return nil
	}

	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if len(out) == 0 && bus != nil {
		bus.Log("error", "代理文件为空", map[string]any{"path": path})
	}
	return out
}
