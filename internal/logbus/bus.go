package logbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/fatih/color"
)

type Message struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
	Data any    `json:"data"`
}

type LogData struct {
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Bus 进程内日志总线：保留最近 N 条供快照回放，同时广播给订阅者
// （websocket 推流）和可选的控制台输出。
type Bus struct {
	mu      sync.RWMutex
	buf     []Message
	cap     int
	subs    map[chan Message]struct{}
	closed  bool
	console bool
}

func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 200
	}
	return &Bus{
		cap:  capacity,
		buf:  make([]Message, 0, capacity),
		subs: make(map[chan Message]struct{}),
	}
}

// EnableConsole 让日志同时打到标准输出，守护进程没接前端时也能看到过程。
func (b *Bus) EnableConsole() {
	b.mu.Lock()
	b.console = true
	b.mu.Unlock()
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.buf = nil
}

func (b *Bus) Snapshot() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.buf))
	copy(out, b.buf)
	return out
}

func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if b.subs != nil {
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Bus) Publish(typ string, data any) {
	msg := Message{
		Type: typ,
		Time: time.Now().UnixMilli(),
		Data: data,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.buf) < b.cap {
		b.buf = append(b.buf, msg)
	} else if b.cap > 0 {
		copy(b.buf, b.buf[1:])
		b.buf[b.cap-1] = msg
	}
	console := b.console
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	b.mu.Unlock()

	if console {
		if data, ok := msg.Data.(LogData); ok {
			printConsole(msg.Time, data)
		}
	}
}

func (b *Bus) Log(level, message string, fields map[string]any) {
	b.Publish("log", LogData{Level: level, Msg: message, Fields: fields})
}

var (
	consoleMu   sync.Mutex
	grayPrint   = color.New(color.FgHiBlack).SprintFunc()
	levelColors = map[string]func(a ...interface{}) string{
		"debug": color.New(color.FgHiBlack).SprintFunc(),
		"info":  color.New(color.FgCyan).SprintFunc(),
		"warn":  color.New(color.FgYellow).SprintFunc(),
		"error": color.New(color.FgRed).SprintFunc(),
	}
	successPrint = color.New(color.FgGreen).SprintFunc()
)

func printConsole(atMs int64, data LogData) {
	paint, ok := levelColors[data.Level]
	if !ok {
		paint = levelColors["info"]
	}
	// 领取成功之类的关键事件统一用绿色，方便在滚屏里一眼找到。
	if data.Level == "success" {
		paint = successPrint
	}

	ts := time.UnixMilli(atMs).Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%s] %s", grayPrint(ts), paint(data.Msg))
	if len(data.Fields) > 0 {
		line += " " + grayPrint(fmt.Sprintf("%v", data.Fields))
	}

	consoleMu.Lock()
	fmt.Println(line)
	consoleMu.Unlock()
}
