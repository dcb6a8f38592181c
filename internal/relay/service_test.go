package relay

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lk2023060901/privchat-go/internal/json"
	network "github.com/lk2023060901/privchat-go/internal/network"
	"github.com/lk2023060901/privchat-go/internal/network/session"
	"github.com/lk2023060901/privchat-go/internal/store"
	"github.com/lk2023060901/privchat-go/pkg/log"
	"github.com/lk2023060901/privchat-go/pkg/util/merr"
)

type sent struct {
	event   string
	payload any
}

// recordingSession 记录全部下行事件。
type recordingSession struct {
	id     uint64
	ctx    context.Context
	remote net.Addr

	mu     sync.Mutex
	events []sent
}

func newRecordingSession() *recordingSession {
	id := session.NextID()
	return &recordingSession{
		id:     id,
		ctx:    context.Background(),
		remote: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000 + int(id%20000)},
	}
}

func (s *recordingSession) ID() uint64               { return s.id }
func (s *recordingSession) Context() context.Context { return s.ctx }
func (s *recordingSession) RemoteAddr() net.Addr     { return s.remote }
func (s *recordingSession) LocalAddr() net.Addr      { return nil }
func (s *recordingSession) Close() error             { return nil }
func (s *recordingSession) OnConnected()             {}
func (s *recordingSession) OnDisconnected(error)     {}
func (s *recordingSession) Send(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sent{event: event, payload: payload})
	return nil
}

// take 返回并清空已记录的事件。
func (s *recordingSession) take() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

func (s *recordingSession) takeEvent(event string) []any {
	var out []any
	for _, e := range s.take() {
		if e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

type fixture struct {
	svc      *Service
	sessions *session.BaseSessionManager
	store    store.Store
}

func newFixture(t *testing.T, st store.Store, cfg Config) *fixture {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore()
	}
	sm := session.NewBaseSessionManager()
	svc, err := NewService(cfg, st, sm)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return &fixture{svc: svc, sessions: sm, store: st}
}

func (f *fixture) connect(t *testing.T) *recordingSession {
	t.Helper()
	sess := newRecordingSession()
	require.NoError(t, f.sessions.Register(sess))
	f.svc.OnConnected(sess)
	return sess
}

func (f *fixture) disconnect(t *testing.T, sess *recordingSession) {
	t.Helper()
	require.NoError(t, f.sessions.Unregister(sess.ID()))
	f.svc.OnClosed(sess, nil)
}

func (f *fixture) emit(sess session.Session, event string, data string) {
	var raw json.RawMessage
	if data != "" {
		raw = json.RawMessage(data)
	}
	f.svc.OnMessage(sess, &network.Envelope{Event: event, Data: raw})
}

func TestJoinBroadcastsPresence(t *testing.T) {
	f := newFixture(t, nil, Config{})
	anon := f.connect(t)
	alice := f.connect(t)

	f.emit(alice, EventJoin, `"alice"`)
	assert.Equal(t, []any{[]string{"alice"}}, anon.takeEvent(EventUpdateUserStatus))
	assert.Equal(t, []any{[]string{"alice"}}, alice.takeEvent(EventUpdateUserStatus))

	bob := f.connect(t)
	f.emit(bob, EventJoin, `{"username":"bob"}`)
	assert.Equal(t, []any{[]string{"alice", "bob"}}, alice.takeEvent(EventUpdateUserStatus))

	// 同一连接重复 join 只广播，不重复计数。
	f.emit(bob, EventJoin, `"bob"`)
	assert.Equal(t, []any{[]string{"alice", "bob"}}, alice.takeEvent(EventUpdateUserStatus))
	assert.Equal(t, 1, f.svc.Presence().Refs("bob"))
}

func TestRejoinUnderNewNameMovesGroup(t *testing.T) {
	f := newFixture(t, nil, Config{})
	a := f.connect(t)
	b := f.connect(t)
	f.emit(a, EventJoin, `"alice"`)
	f.emit(b, EventJoin, `"bob"`)
	a.take()
	b.take()

	f.emit(a, EventJoin, `"carol"`)
	assert.Equal(t, []any{[]string{"bob", "carol"}}, b.takeEvent(EventUpdateUserStatus))
	a.take()

	f.emit(b, EventPrivateMessage, `{"from":"bob","to":"alice","text":"anyone?"}`)
	assert.Empty(t, a.takeEvent(EventPrivateMessage))

	f.emit(b, EventPrivateMessage, `{"from":"bob","to":"carol","text":"hi carol"}`)
	assert.Len(t, a.takeEvent(EventPrivateMessage), 1)
}

func TestPrivateMessageFanout(t *testing.T) {
	f := newFixture(t, nil, Config{})
	aliceTab1 := f.connect(t)
	aliceTab2 := f.connect(t)
	bob := f.connect(t)
	carol := f.connect(t)
	f.emit(aliceTab1, EventJoin, `"alice"`)
	f.emit(aliceTab2, EventJoin, `"alice"`)
	f.emit(bob, EventJoin, `"bob"`)
	f.emit(carol, EventJoin, `"carol"`)
	for _, s := range []*recordingSession{aliceTab1, aliceTab2, bob, carol} {
		s.take()
	}

	f.emit(aliceTab1, EventPrivateMessage, `{"from":"alice","to":"bob","text":"hi"}`)

	assert.Empty(t, aliceTab1.take(), "originating session does not receive its own message")
	assert.Empty(t, carol.take())

	got := bob.takeEvent(EventPrivateMessage)
	require.Len(t, got, 1)
	msg := got[0].(*store.Message)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "hi", msg.Text)
	assert.False(t, msg.Seen)
	assert.Len(t, aliceTab2.takeEvent(EventPrivateMessage), 1)

	history, err := f.store.FindMessages(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
}

func TestMessageToSelfReachesOriginator(t *testing.T) {
	f := newFixture(t, nil, Config{})
	tab1 := f.connect(t)
	tab2 := f.connect(t)
	f.emit(tab1, EventJoin, `"alice"`)
	f.emit(tab2, EventJoin, `"alice"`)
	tab1.take()
	tab2.take()

	// 发给自己时接收方分组包含发送连接，originator 也会收到一次。
	f.emit(tab1, EventPrivateMessage, `{"from":"alice","to":"alice","text":"note to self"}`)

	got := tab1.takeEvent(EventPrivateMessage)
	require.Len(t, got, 1)
	assert.Equal(t, "note to self", got[0].(*store.Message).Text)
	assert.Len(t, tab2.takeEvent(EventPrivateMessage), 1)
}

func TestConnectWithoutRemoteAddr(t *testing.T) {
	f := newFixture(t, nil, Config{})
	core, logs := observer.New(zapcore.DebugLevel)
	f.svc.SetLogger(&log.MLogger{Logger: zap.New(core)})

	sess := newRecordingSession()
	sess.remote = nil
	require.NoError(t, f.sessions.Register(sess))
	f.svc.OnConnected(sess)

	entries := logs.FilterMessage("session connected").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.NotContains(t, fields, "remote")
	assert.NotContains(t, fields, "remoteError")

	other := f.connect(t)
	entries = logs.FilterMessage("session connected").All()
	require.Len(t, entries, 2)
	assert.Equal(t, other.remote.String(), entries[1].ContextMap()["remote"])
}

func TestMessageToOfflineRecipientIsPersisted(t *testing.T) {
	f := newFixture(t, nil, Config{})
	alice := f.connect(t)
	f.emit(alice, EventJoin, `"alice"`)

	f.emit(alice, EventPrivateMessage, `{"from":"alice","to":"bob","text":"later"}`)

	bob := f.connect(t)
	f.emit(bob, EventJoin, `"bob"`)
	history, err := f.store.FindMessages(context.Background(), "bob", "alice")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "later", history[0].Text)
}

func TestMarkAsSeen(t *testing.T) {
	f := newFixture(t, nil, Config{})
	alice := f.connect(t)
	bob := f.connect(t)
	f.emit(alice, EventJoin, `"alice"`)
	f.emit(bob, EventJoin, `"bob"`)

	f.emit(alice, EventPrivateMessage, `{"from":"alice","to":"bob","text":"1"}`)
	f.emit(bob, EventPrivateMessage, `{"from":"bob","to":"alice","text":"2"}`)
	alice.take()
	bob.take()

	f.emit(bob, EventMarkAsSeen, `{"from":"alice","to":"bob"}`)
	want := []any{SeenPayload{From: "alice", To: "bob"}}
	assert.Equal(t, want, alice.takeEvent(EventMessagesSeen))
	assert.Equal(t, want, bob.takeEvent(EventMessagesSeen))

	history, err := f.store.FindMessages(context.Background(), "alice", "bob")
	require.NoError(t, err)
	for _, m := range history {
		assert.Equal(t, m.From == "alice", m.Seen, m.Text)
	}
}

func TestDisconnectBroadcastsPresence(t *testing.T) {
	f := newFixture(t, nil, Config{})
	u1 := f.connect(t)
	u2 := f.connect(t)
	u3 := f.connect(t)
	f.emit(u1, EventJoin, `"u1"`)
	f.emit(u2, EventJoin, `"u2"`)
	f.emit(u3, EventJoin, `"u3"`)
	u1.take()
	u3.take()

	f.disconnect(t, u2)
	assert.Equal(t, []any{[]string{"u1", "u3"}}, u1.takeEvent(EventUpdateUserStatus))
	assert.Equal(t, []any{[]string{"u1", "u3"}}, u3.takeEvent(EventUpdateUserStatus))

	// 未 join 的连接断开同样广播。
	anon := f.connect(t)
	f.disconnect(t, anon)
	assert.Equal(t, []any{[]string{"u1", "u3"}}, u1.takeEvent(EventUpdateUserStatus))
}

func TestPresencePolicies(t *testing.T) {
	for _, tc := range []struct {
		policy string
		want   []string
	}{
		{policy: "refcount", want: []string{"alice"}},
		{policy: "legacy", want: []string{}},
	} {
		t.Run(tc.policy, func(t *testing.T) {
			f := newFixture(t, nil, Config{PresencePolicy: tc.policy})
			tab1 := f.connect(t)
			tab2 := f.connect(t)
			f.emit(tab1, EventJoin, `"alice"`)
			f.emit(tab2, EventJoin, `"alice"`)
			tab2.take()

			f.disconnect(t, tab1)
			assert.Equal(t, []any{tc.want}, tab2.takeEvent(EventUpdateUserStatus))
		})
	}
}

func TestInputErrorsAreReportedToOriginator(t *testing.T) {
	f := newFixture(t, nil, Config{})
	alice := f.connect(t)
	other := f.connect(t)

	cases := []struct {
		name  string
		event string
		data  string
		code  int32
	}{
		{"unknown event", "typing", `{}`, merr.Code(merr.ErrProtocolUnknownEvent)},
		{"malformed payload", EventPrivateMessage, `[1,2]`, merr.Code(merr.ErrProtocolMalformed)},
		{"missing username", EventJoin, `""`, merr.Code(merr.ErrParameterMissing)},
		{"missing text", EventPrivateMessage, `{"from":"a","to":"b"}`, merr.Code(merr.ErrParameterMissing)},
		{"missing to", EventMarkAsSeen, `{"from":"a"}`, merr.Code(merr.ErrParameterMissing)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.emit(alice, tc.event, tc.data)
			got := alice.takeEvent(EventError)
			require.Len(t, got, 1)
			payload := got[0].(ErrorPayload)
			assert.Equal(t, tc.event, payload.Event)
			assert.Equal(t, tc.code, payload.Code)
			assert.NotEmpty(t, payload.Message)
			assert.Empty(t, other.take())
		})
	}

	f.svc.OnError(alice, network.StageDecode, network.ErrDecodeFailed)
	got := alice.takeEvent(EventError)
	require.Len(t, got, 1)
	assert.Equal(t, merr.Code(merr.ErrProtocolMalformed), got[0].(ErrorPayload).Code)
}

func TestTextTooLarge(t *testing.T) {
	f := newFixture(t, nil, Config{})
	alice := f.connect(t)

	text := make([]byte, 4097)
	for i := range text {
		text[i] = 'x'
	}
	data, err := json.Marshal(PrivateMessageRequest{From: "a", To: "b", Text: string(text)})
	require.NoError(t, err)
	f.emit(alice, EventPrivateMessage, string(data))

	got := alice.takeEvent(EventError)
	require.Len(t, got, 1)
	assert.Equal(t, merr.Code(merr.ErrParameterTooLarge), got[0].(ErrorPayload).Code)
}

// failingStore 使用 testify/mock 模拟存储失败。
type failingStore struct {
	mock.Mock
	store.Store
}

func (m *failingStore) InsertMessage(ctx context.Context, from, to, text string, ts time.Time) (*store.Message, error) {
	args := m.Called(ctx, from, to, text, ts)
	msg, _ := args.Get(0).(*store.Message)
	return msg, args.Error(1)
}

func (m *failingStore) MarkSeen(ctx context.Context, from, to string) (int64, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).(int64), args.Error(1)
}

func TestStoreFailureAbortsDelivery(t *testing.T) {
	st := &failingStore{}
	st.On("InsertMessage", mock.Anything, "alice", "bob", "hi", mock.Anything).
		Return(nil, merr.WrapErrStoreFailed("insert_message", assert.AnError)).Once()
	st.On("MarkSeen", mock.Anything, "alice", "bob").
		Return(int64(0), merr.WrapErrStoreFailed("mark_seen", assert.AnError)).Once()

	f := newFixture(t, st, Config{})
	alice := f.connect(t)
	bob := f.connect(t)
	f.emit(alice, EventJoin, `"alice"`)
	f.emit(bob, EventJoin, `"bob"`)
	alice.take()
	bob.take()

	f.emit(alice, EventPrivateMessage, `{"from":"alice","to":"bob","text":"hi"}`)
	f.emit(bob, EventMarkAsSeen, `{"from":"alice","to":"bob"}`)

	// 持久化失败：不投递，也不向发送方回送 error 事件。
	assert.Empty(t, alice.take())
	assert.Empty(t, bob.take())
	st.AssertExpectations(t)
}

func TestNewServiceValidation(t *testing.T) {
	sm := session.NewBaseSessionManager()
	_, err := NewService(Config{}, nil, sm)
	assert.Error(t, err)
	_, err = NewService(Config{}, store.NewMemoryStore(), nil)
	assert.Error(t, err)
	_, err = NewService(Config{PresencePolicy: "bogus"}, store.NewMemoryStore(), sm)
	assert.Error(t, err)
}
