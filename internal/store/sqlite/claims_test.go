package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mining_keeper/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "keeper.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndListClaims(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.InsertClaim(ctx, model.ClaimRecord{
		AccountIndex: 0,
		DeviceID:     "d1",
		Value:        11.5,
		Balance:      100.5,
		ClaimedAt:    time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("InsertClaim: %v", err)
	}
	if first.ID == "" {
		t.Fatal("应自动生成记录 ID")
	}

	second, err := s.InsertClaim(ctx, model.ClaimRecord{
		AccountIndex: 1,
		DeviceID:     "d2",
		Value:        42,
		Balance:      142,
	})
	if err != nil {
		t.Fatalf("InsertClaim: %v", err)
	}

	records, err := s.ListClaims(ctx, 10)
	if err != nil {
		t.Fatalf("ListClaims: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("期望 2 条记录，得到 %d", len(records))
	}
	// 按领取时间倒序。
	if records[0].ID != second.ID || records[1].ID != first.ID {
		t.Fatalf("排序不对: %+v", records)
	}
	if records[1].DeviceID != "d1" || records[1].Value != 11.5 {
		t.Fatalf("记录内容不对: %+v", records[1])
	}
}

func TestInsertClaim_RequiresDeviceID(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.InsertClaim(context.Background(), model.ClaimRecord{AccountIndex: 0}); err == nil {
		t.Fatal("缺少设备 ID 应报错")
	}
}

func TestEmailSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, ok, err := s.GetEmailSettings(ctx); err != nil || ok {
		t.Fatalf("初始应为未配置: ok=%v err=%v", ok, err)
	}

	saved, err := s.UpsertEmailSettings(ctx, model.EmailSettings{
		Enabled:  true,
		Email:    "keeper@example.com",
		AuthCode: "secret",
	})
	if err != nil {
		t.Fatalf("UpsertEmailSettings: %v", err)
	}
	if !saved.Enabled {
		t.Fatalf("保存结果不对: %+v", saved)
	}

	got, ok, err := s.GetEmailSettings(ctx)
	if err != nil || !ok {
		t.Fatalf("GetEmailSettings: ok=%v err=%v", ok, err)
	}
	if got.Email != "keeper@example.com" || got.AuthCode != "secret" {
		t.Fatalf("读回内容不对: %+v", got)
	}
}
