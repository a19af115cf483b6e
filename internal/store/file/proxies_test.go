package file

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadProxies_SkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.txt")
	content := "socks5://127.0.0.1:1080\n\n  \nhttp://127.0.0.1:8888\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	proxies := LoadProxies(path, nil)
	if len(proxies) != 2 {
		t.Fatalf("期望 2 个代理，得到 %v", proxies)
	}
	if proxies[0] != "socks5://127.0.0.1:1080" || proxies[1] != "http://127.0.0.1:8888" {
		t.Fatalf("代理内容不对: %v", proxies)
	}
}

func TestLoadProxies_MissingOrEmpty(t *testing.T) {
	if got := LoadProxies(filepath.Join(t.TempDir(), "nope.txt"), nil); len(got) != 0 {
		t.Fatalf("文件缺失应返回空: %v", got)
	}

	path := filepath.Join(t.TempDir(), "proxy.txt")
	if err := os.WriteFile(path, []byte("\n\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := LoadProxies(path, nil); len(got) != 0 {
		t.Fatalf("空文件应返回空: %v", got)
	}
}
