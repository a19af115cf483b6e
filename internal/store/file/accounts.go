package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"mining_keeper/internal/model"
)

// Accounts 基于 token.txt / unique_id.txt 的账号存储。
// 两个文件按行号对齐：token.txt 每行 "access|refresh"，
// unique_id.txt 每行用 "|" 连接该账号的若干设备 ID。
type Accounts struct {
	tokenPath    string
	uniqueIDPath string

	// 刷新令牌会改写 token.txt 单行，与 Load 串行化以免互相踩。
	mu sync.Mutex
}

func NewAccounts(tokenPath, uniqueIDPath string) *Accounts {
	return &Accounts{
		tokenPath:    tokenPath,
		uniqueIDPath: uniqueIDPath,
	}
}

var ErrLineCountMismatch = errors.New("token/unique_id line count mismatch")

// Load 把两个文件按行号拼成账号列表。文件读不到或行数不一致时
// 返回错误且不给出部分结果，避免令牌配到别人的设备上。
func (s *Accounts) Load() ([]model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokenLines, err := readLines(s.tokenPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.tokenPath, err)
	}
	idLines, err := readLines(s.uniqueIDPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.uniqueIDPath, err)
	}
	if len(tokenLines) != len(idLines) {
		return nil, fmt.Errorf("%w: %d token lines vs %d id lines",
			ErrLineCountMismatch, len(tokenLines), len(idLines))
	}

	out := make([]model.Account, 0, len(tokenLines))
	for i, line := range tokenLines {
		access, refresh, _ := strings.Cut(line, "|")

		var ids []string
		for _, id := range strings.Split(idLines[i], "|") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			ids = append(ids, id)
		}

		out = append(out, model.Account{
			Index:        i,
			AccessToken:  strings.TrimSpace(access),
			RefreshToken: strings.TrimSpace(refresh),
			DeviceIDs:    ids,
		})
	}
	return out, nil
}

// UpdateTokens 只改写 token.txt 中 index 对应的一行，其余行保持原样。
// 先写临时文件再 rename，崩溃时不会留下半截文件。
func (s *Accounts) UpdateTokens(index int, accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := readLines(s.tokenPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.tokenPath, err)
	}
	if index < 0 || index >= len(lines) {
		return fmt.Errorf("token line index %d out of range (%d lines)", index, len(lines))
	}

	lines[index] = strings.TrimSpace(accessToken) + "|" + strings.TrimSpace(refreshToken)

	tmp, err := os.CreateTemp(filepath.Dir(s.tokenPath), ".token-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.tokenPath)
}

// readLines 返回去掉行尾空白的非空行。
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r\n \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}
