package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"pushbot/internal/push"
	"pushbot/internal/task/engine"
	logx "pushbot/pkg/logx"
)

type sent struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSender) Send(to tele.Recipient, what any, _ ...any) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	chat := to.(*tele.Chat)
	f.sent = append(f.sent, sent{chatID: chat.ID, text: what.(string)})
	return &tele.Message{ID: len(f.sent)}, nil
}

func (f *fakeSender) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func newTestActor(t *testing.T, opts ...Option) (*Actor, *fakeSender) {
	t.Helper()
	a, err := New(Config{Name: "test", Token: "4242:secret", RatePerSec: 1000, Burst: 10, ProbeInterval: 10 * time.Millisecond}, logx.Nop(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fs := &fakeSender{}
	a.send = fs
	return a, fs
}

func TestBotIDFromToken(t *testing.T) {
	t.Parallel()
	tests := []struct {
		token   string
		want    int64
		wantErr bool
	}{
		{"123456:ABC-def", 123456, false},
		{"  77:x ", 77, false},
		{"nocolon", 0, true},
		{"abc:def", 0, true},
		{"-5:def", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := BotIDFromToken(tt.token)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("BotIDFromToken(%q) = %d, %v", tt.token, got, err)
		}
	}
}

func TestSendTextSplitsLongMessages(t *testing.T) {
	t.Parallel()
	a, fs := newTestActor(t)
	if a.ID() != 4242 {
		t.Fatalf("ID = %d", a.ID())
	}

	line := strings.Repeat("z", 1000)
	text := strings.Repeat(line+"\n", 9)
	if err := a.SendText(context.Background(), -100, text); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	msgs := fs.messages()
	if len(msgs) < 3 {
		t.Fatalf("sent %d chunks, want at least 3", len(msgs))
	}
	for _, m := range msgs {
		if m.chatID != -100 {
			t.Fatalf("chat = %d", m.chatID)
		}
		if len([]rune(m.text)) > 4000 {
			t.Fatalf("chunk has %d runes", len([]rune(m.text)))
		}
	}
}

func TestSendTextClassifiesErrors(t *testing.T) {
	t.Parallel()
	a, fs := newTestActor(t)

	fs.err = tele.ErrChatNotFound
	err := a.SendText(context.Background(), 1, "hi")
	if !engine.IsNoRetry(err) || !errors.Is(err, tele.ErrChatNotFound) {
		t.Fatalf("chat not found: %v", err)
	}

	fs.err = errors.New("connection reset")
	err = a.SendText(context.Background(), 1, "hi")
	if err == nil || engine.IsNoRetry(err) {
		t.Fatalf("transient error: %v", err)
	}
}

func TestProbeReportsStatus(t *testing.T) {
	t.Parallel()
	type report struct {
		online bool
		err    error
	}
	var (
		mu      sync.Mutex
		reports []report
	)
	a, _ := newTestActor(t, WithStatus(func(id int64, online bool, err error) {
		if id != 4242 {
			t.Errorf("status for %d", id)
		}
		mu.Lock()
		reports = append(reports, report{online, err})
		mu.Unlock()
	}))

	var calls int
	a.probe = func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 2 {
			return errors.New("getMe failed")
		}
		return nil
	}

	a.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(reports)
		mu.Unlock()
		if n >= 3 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	a.Stop(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(reports) < 4 {
		t.Fatalf("reports = %+v", reports)
	}
	if !reports[0].online || reports[1].online || !reports[2].online {
		t.Fatalf("reports = %+v", reports)
	}
	if last := reports[len(reports)-1]; last.online {
		t.Fatalf("Stop did not report offline: %+v", last)
	}
}

func TestHandleCommandRepliesInChat(t *testing.T) {
	t.Parallel()
	var got Message
	a, fs := newTestActor(t, WithCommands(func(_ context.Context, m Message) (string, error) {
		got = m
		return "<b>ok</b>", nil
	}))

	c := a.bot.NewContext(tele.Update{Message: &tele.Message{
		Text:   "/push list",
		Chat:   &tele.Chat{ID: -500, Type: tele.ChatSuperGroup},
		Sender: &tele.User{ID: 9},
	}})
	if err := a.handleCommand(c); err != nil {
		t.Fatalf("handleCommand: %v", err)
	}
	want := Message{ActorID: 4242, ChatID: -500, TargetType: push.TargetGroup, FromID: 9, Text: "/push list"}
	if got != want {
		t.Fatalf("message = %+v, want %+v", got, want)
	}
	msgs := fs.messages()
	if len(msgs) != 1 || msgs[0].chatID != -500 || msgs[0].text != "<b>ok</b>" {
		t.Fatalf("sent = %+v", msgs)
	}
}

func TestHandleCommandIgnoresChannels(t *testing.T) {
	t.Parallel()
	called := false
	a, _ := newTestActor(t, WithCommands(func(context.Context, Message) (string, error) {
		called = true
		return "", nil
	}))
	c := a.bot.NewContext(tele.Update{Message: &tele.Message{
		Text:   "/push list",
		Chat:   &tele.Chat{ID: -1, Type: tele.ChatChannel},
		Sender: &tele.User{ID: 9},
	}})
	if err := a.handleCommand(c); err != nil || called {
		t.Fatalf("channel handled: err=%v called=%v", err, called)
	}
}
