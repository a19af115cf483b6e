package logbus

import "testing"

func TestSnapshotKeepsMostRecent(t *testing.T) {
	b := New(3)
	defer b.Close()

	for i := 0; i < 5; i++ {
		b.Log("info", "msg", map[string]any{"i": i})
	}

	snap := b.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("期望保留 3 条，得到 %d", len(snap))
	}
	// 环形缓冲只留最新的 3 条。
	first := snap[0].Data.(LogData)
	last := snap[2].Data.(LogData)
	if first.Fields["i"] != 2 || last.Fields["i"] != 4 {
		t.Fatalf("保留的内容不对: %v ... %v", first.Fields, last.Fields)
	}
}

func TestSubscribeReceivesPublished(t *testing.T) {
	b := New(10)
	defer b.Close()

	ch, cancel := b.Subscribe(4)
	defer cancel()

	b.Log("warn", "hello", nil)

	msg := <-ch
	data, ok := msg.Data.(LogData)
	if !ok || data.Msg != "hello" || data.Level != "warn" {
		t.Fatalf("订阅收到的消息不对: %+v", msg)
	}
}

func TestSubscribeAfterCloseIsClosed(t *testing.T) {
	b := New(10)
	b.Close()

	ch, cancel := b.Subscribe(1)
	defer cancel()
	if _, ok := <-ch; ok {
		t.Fatal("Close 之后订阅通道应已关闭")
	}
}
