package subscriber

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/k-nuth/network/pkg/errcode"
	"github.com/k-nuth/network/pkg/payload"
	"github.com/stretchr/testify/require"
)

func TestStopBusFiresOncePerSubscriber(t *testing.T) {
	b := NewStopBus()
	var calls int
	var code error
	b.Subscribe(func(c error) { calls++; code = c })

	want := errors.New("boom")
	b.StopWith(want)
	b.StopWith(errors.New("second"))

	require.Equal(t, 1, calls)
	require.Equal(t, want, code)
}

func TestStopBusLateSubscribeReplaysCode(t *testing.T) {
	b := NewStopBus()
	want := errors.New("done")
	b.StopWith(want)

	var got error
	b.Subscribe(func(c error) { got = c })
	require.Equal(t, want, got)
}

func TestResubscriberFalseRemovesHandler(t *testing.T) {
	r := NewResubscriber[int]()
	calls := 0
	r.Subscribe(func(code error, p int) bool {
		calls++
		return false
	}, nil, 0)
	r.Publish(nil, 1)
	r.Publish(nil, 2)
	require.Equal(t, 1, calls)
}

func TestResubscriberTrueKeepsHandler(t *testing.T) {
	r := NewResubscriber[int]()
	calls := 0
	r.Subscribe(func(code error, p int) bool {
		calls++
		return true
	}, nil, 0)
	r.Publish(nil, 1)
	r.Publish(nil, 2)
	require.Equal(t, 2, calls)
}

func TestResubscriberStopFiresRemainingOnce(t *testing.T) {
	r := NewResubscriber[int]()
	var got error
	r.Subscribe(func(code error, p int) bool {
		got = code
		return true
	}, nil, 0)
	want := errors.New("stopped")
	r.Stop(want, 0)
	r.Stop(errors.New("again"), 0)
	require.Equal(t, want, got)
}

func TestMessageSubscriberLoadUnknownKindIsNotFound(t *testing.T) {
	m := NewMessageSubscriber(nil)
	err := m.Load(payload.Kind("bogus"), 70002, nil)
	require.ErrorIs(t, err, errcode.New(errcode.NotFound))
}

func TestMessageSubscriberLoadBadBytesIsBadStream(t *testing.T) {
	m := NewMessageSubscriber(nil)
	err := m.Load(payload.KindAddress, 70002, []byte{0xff})
	require.ErrorIs(t, err, errcode.New(errcode.BadStream))
}

func TestMessageSubscriberInvokeModeIsSynchronous(t *testing.T) {
	m := NewMessageSubscriber(nil)
	var mu sync.Mutex
	seen := false
	m.Subscribe(payload.KindVerack, func(code error, msg payload.Message) bool {
		mu.Lock()
		seen = true
		mu.Unlock()
		return true
	})

	framed, err := payload.Frame(1, 70002, &payload.Verack{})
	require.NoError(t, err)
	require.NoError(t, m.Load(payload.KindVerack, 70002, framed[payload.HeadingSize:]))

	mu.Lock()
	defer mu.Unlock()
	require.True(t, seen)
}

func TestMessageSubscriberRelayModeIsAsynchronous(t *testing.T) {
	m := NewMessageSubscriber(nil)
	done := make(chan struct{})
	m.Subscribe(payload.KindPing, func(code error, msg payload.Message) bool {
		close(done)
		return true
	})

	framed, err := payload.Frame(1, 31402, &payload.Ping{})
	require.NoError(t, err)
	require.NoError(t, m.Load(payload.KindPing, 31402, framed[payload.HeadingSize:]))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay handler never fired")
	}
}

func TestMessageSubscriberBroadcastStopsAllKinds(t *testing.T) {
	m := NewMessageSubscriber(nil)
	var got error
	m.Subscribe(payload.KindPing, func(code error, msg payload.Message) bool {
		got = code
		return true
	})
	m.Broadcast(errors.New("channel-stopped"))
	time.Sleep(10 * time.Millisecond)
	require.Error(t, got)
}
