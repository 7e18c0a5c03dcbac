package room

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const testRoom = 31025025

func newTestSupervisor(t *testing.T, factory *fakeFactory, opts ...SupervisorOptionFunc) *Supervisor {
	sv := NewSupervisor(factory.build, append([]SupervisorOptionFunc{WithConfig(testConfig())}, opts...)...)
	t.Cleanup(sv.Close)
	return sv
}

func waitEvents(t *testing.T, s *recordSink, n int) []event.Event {
	require.Eventually(t, func() bool {
		return len(s.received()) >= n
	}, time.Second*2, time.Millisecond*5)
	return s.received()
}

func TestDanmakuFanOut(t *testing.T) {
	factory := &fakeFactory{}
	sv := newTestSupervisor(t, factory)
	ctx := context.Background()

	status, err := sv.Connect(ctx, testRoom, StartOptions{})
	require.NoError(t, err)
	require.True(t, status.Connected)
	require.Equal(t, StateConnected, status.State)
	require.NotNil(t, status.ConnectTime)

	a, b := newRecordSink("a"), newRecordSink("b")
	require.NoError(t, sv.Attach(ctx, testRoom, a, StartOptions{}))
	require.NoError(t, sv.Attach(ctx, testRoom, b, StartOptions{}))

	factory.last().emit("DANMU_MSG", danmakuBody("hi"))
	for _, s := range []*recordSink{a, b} {
		events := waitEvents(t, s, 1)
		require.Len(t, events, 1)
		require.Equal(t, event.KindDanmaku, events[0].Kind)
		require.Equal(t, uint64(testRoom), events[0].RoomID)
		d := events[0].Payload.(event.Danmaku)
		require.Equal(t, uint64(123), d.UID)
		require.Equal(t, "alice", d.Uname)
		require.Equal(t, "hi", d.Content)
	}

	status, err = sv.Status(testRoom)
	require.NoError(t, err)
	require.Equal(t, uint64(1), status.DanmakuCount)
	require.Equal(t, 2, status.Subscribers)
}

func TestConcurrentConnectSharesSession(t *testing.T) {
	factory := &fakeFactory{delay: time.Millisecond * 50}
	sv := newTestSupervisor(t, factory)

	wg := sync.WaitGroup{}
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = sv.Connect(context.Background(), testRoom, StartOptions{})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, factory.count())
	require.Len(t, sv.List(), 1)
}

func TestRoomsAreIsolated(t *testing.T) {
	factory := &fakeFactory{}
	sv := newTestSupervisor(t, factory)
	ctx := context.Background()

	one, two := newRecordSink("one"), newRecordSink("two")
	require.NoError(t, sv.Attach(ctx, 1, one, StartOptions{}))
	up1 := factory.last()
	require.NoError(t, sv.Attach(ctx, 2, two, StartOptions{}))
	require.Equal(t, 2, factory.count())

	up1.emit("DANMU_MSG", danmakuBody("only room one"))
	waitEvents(t, one, 1)
	time.Sleep(time.Millisecond * 50)
	require.Empty(t, two.received())

	st, err := sv.Status(2)
	require.NoError(t, err)
	require.Zero(t, st.DanmakuCount)
	require.Equal(t, []uint64{1, 2}, []uint64{sv.List()[0].RoomID, sv.List()[1].RoomID})
}

func TestDeliveryKeepsUpstreamOrder(t *testing.T) {
	factory := &fakeFactory{}
	sv := newTestSupervisor(t, factory)
	s := newRecordSink("ordered")
	require.NoError(t, sv.Attach(context.Background(), testRoom, s, StartOptions{}))

	up := factory.last()
	for i := 0; i < 50; i++ {
		up.emit("DANMU_MSG", danmakuBody(fmt.Sprintf("%d", i)))
	}
	events := waitEvents(t, s, 50)
	for i, evt := range events {
		require.Equal(t, fmt.Sprintf("%d", i), evt.Payload.(event.Danmaku).Content)
	}
}

func TestStopKeepsCountersAndSubscribers(t *testing.T) {
	factory := &fakeFactory{}
	sv := newTestSupervisor(t, factory)
	ctx := context.Background()
	s := newRecordSink("keep")
	require.NoError(t, sv.Attach(ctx, testRoom, s, StartOptions{Cookie: "SESSDATA=x"}))
	first := factory.last()
	require.Equal(t, "SESSDATA=x", first.cookie)
	first.emit("DANMU_MSG", danmakuBody("before"))
	first.emit("SEND_GIFT", `{"cmd":"SEND_GIFT","data":{"uid":1,"giftName":"花","num":1,"price":100}}`)
	waitEvents(t, s, 2)

	sess, ok := sv.Get(testRoom)
	require.True(t, ok)
	require.True(t, sess.Stop())
	require.False(t, sess.Stop())
	require.Equal(t, int32(1), first.stopped.Load())

	st := sess.Status()
	require.False(t, st.Connected)
	require.Nil(t, st.ConnectTime)
	require.Equal(t, uint64(1), st.DanmakuCount)
	require.Equal(t, uint64(1), st.GiftCount)
	require.Equal(t, 1, st.Subscribers)

	// a stopped connection ignores late messages
	first.emit("DANMU_MSG", danmakuBody("late"))
	require.Equal(t, uint64(1), sess.Status().DanmakuCount)

	require.NoError(t, sess.Start(ctx, StartOptions{}))
	require.Equal(t, 2, factory.count())
	factory.last().emit("DANMU_MSG", danmakuBody("after"))
	events := waitEvents(t, s, 3)
	require.Equal(t, "after", events[2].Payload.(event.Danmaku).Content)
	require.Equal(t, uint64(2), sess.Status().DanmakuCount)
	require.Zero(t, s.closed.Load())
}

func TestAttachDetachIdempotent(t *testing.T) {
	factory := &fakeFactory{}
	sv := newTestSupervisor(t, factory)
	ctx := context.Background()
	s := newRecordSink("twice")

	require.NoError(t, sv.Attach(ctx, testRoom, s, StartOptions{}))
	require.NoError(t, sv.Attach(ctx, testRoom, s, StartOptions{}))
	st, _ := sv.Status(testRoom)
	require.Equal(t, 1, st.Subscribers)
	require.Equal(t, 1, factory.count())

	require.True(t, sv.Detach(testRoom, s))
	require.False(t, sv.Detach(testRoom, s))
	require.False(t, sv.Detach(404, s))
	require.Equal(t, int32(1), s.closed.Load())

	// the session outlives its last subscriber
	st, err := sv.Status(testRoom)
	require.NoError(t, err)
	require.True(t, st.Connected)
	require.Zero(t, st.Subscribers)
}

func TestDisconnectClosesSubscribers(t *testing.T) {
	factory := &fakeFactory{}
	sv := newTestSupervisor(t, factory)
	ctx := context.Background()
	a, b := newRecordSink("a"), newRecordSink("b")
	require.NoError(t, sv.Attach(ctx, testRoom, a, StartOptions{}))
	require.NoError(t, sv.Attach(ctx, testRoom, b, StartOptions{}))

	require.True(t, sv.Disconnect(testRoom))
	require.Equal(t, int32(1), a.closed.Load())
	require.Equal(t, int32(1), b.closed.Load())
	require.Equal(t, int32(1), factory.last().stopped.Load())

	_, err := sv.Status(testRoom)
	require.ErrorIs(t, err, ErrRoomNotFound)
	require.False(t, sv.Disconnect(testRoom))
	require.Empty(t, sv.List())
}

func TestAttachFailedConnect(t *testing.T) {
	factory := &fakeFactory{}
	factory.failNext.Store(1)
	sv := newTestSupervisor(t, factory)
	s := newRecordSink("late")

	err := sv.Attach(context.Background(), testRoom, s, StartOptions{})
	require.ErrorIs(t, err, ErrUpstreamConnect)
	require.Empty(t, sv.List())
	_, err = sv.Status(testRoom)
	require.ErrorIs(t, err, ErrRoomNotFound)
	require.Equal(t, int32(1), factory.last().stopped.Load())

	// next attempt gets a fresh session
	require.NoError(t, sv.Attach(context.Background(), testRoom, s, StartOptions{}))
	st, err := sv.Status(testRoom)
	require.NoError(t, err)
	require.Equal(t, 1, st.Subscribers)
}

func TestSessionVisibleWhileConnecting(t *testing.T) {
	factory := &fakeFactory{delay: time.Millisecond * 300}
	sv := newTestSupervisor(t, factory)
	done := make(chan error, 1)
	go func() {
		_, err := sv.Connect(context.Background(), testRoom, StartOptions{})
		done <- err
	}()
	require.Eventually(t, func() bool {
		list := sv.List()
		return len(list) == 1 && list[0].State == StateConnecting && !list[0].Connected
	}, time.Second, time.Millisecond*5)
	require.NoError(t, <-done)
	st, _ := sv.Status(testRoom)
	require.Equal(t, StateConnected, st.State)
}

func TestFailedDeliveryRemovesSubscriber(t *testing.T) {
	factory := &fakeFactory{}
	sv := newTestSupervisor(t, factory)
	ctx := context.Background()
	good, broken, stalled := newRecordSink("good"), newRecordSink("broken"), newRecordSink("stalled")
	broken.fail = true
	stalled.stall = true
	for _, s := range []*recordSink{good, broken, stalled} {
		require.NoError(t, sv.Attach(ctx, testRoom, s, StartOptions{}))
	}

	up := factory.last()
	for i := 0; i < 3; i++ {
		up.emit("DANMU_MSG", danmakuBody(fmt.Sprintf("%d", i)))
	}
	require.Len(t, waitEvents(t, good, 3), 3)
	require.Eventually(t, func() bool {
		return broken.closed.Load() == 1 && stalled.closed.Load() == 1
	}, time.Second, time.Millisecond*5)
	st, _ := sv.Status(testRoom)
	require.Equal(t, 1, st.Subscribers)
	require.Zero(t, good.closed.Load())
}

func TestAutoReconnect(t *testing.T) {
	factory := &fakeFactory{}
	metrics := NewMetrics(prometheus.NewRegistry())
	sv := newTestSupervisor(t, factory, WithMetrics(metrics))
	s := newRecordSink("persist")
	require.NoError(t, sv.Attach(context.Background(), testRoom, s, StartOptions{AutoReconnect: true}))

	// one failed retry before the upstream comes back
	factory.failNext.Store(1)
	first := factory.last()
	first.lose()
	first.lose()
	require.Eventually(t, func() bool {
		st, err := sv.Status(testRoom)
		return err == nil && st.Connected && factory.count() == 3
	}, time.Second*3, time.Millisecond*10)
	require.Equal(t, int32(1), first.stopped.Load())
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.mReconnects.WithLabelValues("31025025")))

	factory.last().emit("DANMU_MSG", danmakuBody("back"))
	require.Equal(t, "back", waitEvents(t, s, 1)[0].Payload.(event.Danmaku).Content)
	require.Zero(t, s.closed.Load())
}

func TestLostWithoutAutoReconnect(t *testing.T) {
	factory := &fakeFactory{}
	sv := newTestSupervisor(t, factory)
	_, err := sv.Connect(context.Background(), testRoom, StartOptions{})
	require.NoError(t, err)
	factory.last().lose()
	time.Sleep(time.Millisecond * 50)
	require.Equal(t, 1, factory.count())
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	factory := &fakeFactory{}
	cfg := testConfig()
	cfg.Reconnect.Initial = time.Second
	cfg.Reconnect.Max = time.Second
	sv := NewSupervisor(factory.build, WithConfig(cfg))
	defer sv.Close()
	_, err := sv.Connect(context.Background(), testRoom, StartOptions{AutoReconnect: true})
	require.NoError(t, err)

	factory.failNext.Store(100)
	factory.last().lose()
	require.Eventually(t, func() bool {
		return factory.count() == 2
	}, time.Second, time.Millisecond*5)
	require.True(t, sv.Disconnect(testRoom))
	time.Sleep(time.Millisecond * 1500)
	require.Equal(t, 2, factory.count())
	require.Empty(t, sv.List())
}

func TestRelayReceivesEvents(t *testing.T) {
	factory := &fakeFactory{}
	relay := &recordRelay{}
	sv := newTestSupervisor(t, factory, WithRelay(relay))
	_, err := sv.Connect(context.Background(), testRoom, StartOptions{})
	require.NoError(t, err)
	factory.last().emit("_HEARTBEAT", `{"popularity":12}`)
	factory.last().emit("SOME_NEW_CMD", `{"cmd":"SOME_NEW_CMD","data":{}}`)
	require.Eventually(t, func() bool {
		return relay.len() == 2
	}, time.Second, time.Millisecond*5)
	st, _ := sv.Status(testRoom)
	require.NotNil(t, st.LastHeartbeat)
}

func TestRoomInfo(t *testing.T) {
	factory := &fakeFactory{}
	fetcher := &fakeFetcher{}
	sv := newTestSupervisor(t, factory, WithMetadataFetcher(fetcher))
	ctx := context.Background()

	info, err := sv.RoomInfo(ctx, testRoom, StartOptions{})
	require.NoError(t, err)
	require.Equal(t, "room 31025025", info.Title)
	require.Equal(t, 1, factory.count())

	// served from the session cache
	_, err = sv.RoomInfo(ctx, testRoom, StartOptions{})
	require.NoError(t, err)
	require.Equal(t, int32(1), fetcher.calls.Load())

	// a failed refresh keeps the stale copy
	fetcher.fail.Store(true)
	_, err = sv.Refresh(ctx, testRoom)
	require.ErrorIs(t, err, ErrMetadataFetch)
	sess, _ := sv.Get(testRoom)
	require.Same(t, info, sess.RoomInfo())

	_, err = sv.Refresh(ctx, 404)
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomInfoWithoutFetcher(t *testing.T) {
	sv := newTestSupervisor(t, &fakeFactory{})
	_, err := sv.RoomInfo(context.Background(), testRoom, StartOptions{})
	require.ErrorIs(t, err, ErrMetadataFetch)
}

func TestClosedSupervisor(t *testing.T) {
	factory := &fakeFactory{}
	sv := NewSupervisor(factory.build, WithConfig(testConfig()))
	s := newRecordSink("s")
	require.NoError(t, sv.Attach(context.Background(), testRoom, s, StartOptions{}))
	sv.Close()
	require.Equal(t, int32(1), s.closed.Load())
	require.Empty(t, sv.List())
	_, err := sv.Connect(context.Background(), testRoom, StartOptions{})
	require.ErrorIs(t, err, ErrSupervisorClosed)
	require.ErrorIs(t, sv.Attach(context.Background(), testRoom, s, StartOptions{}), ErrSupervisorClosed)
}
