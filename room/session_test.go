package room

import (
	"context"
	"testing"
	"time"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/event"
	"github.com/stretchr/testify/require"
)

func slowDrainConfig() Config {
	cfg := testConfig()
	cfg.DeliveryTimeout = time.Second
	cfg.DrainTimeout = time.Millisecond * 100
	return cfg
}

func TestStopDrainTimeoutKeepsSlowSubscriber(t *testing.T) {
	factory := &fakeFactory{}
	sv := NewSupervisor(factory.build, WithConfig(slowDrainConfig()))
	defer sv.Close()
	slow := newRecordSink("slow")
	slow.delay = time.Millisecond * 30
	require.NoError(t, sv.Attach(context.Background(), testRoom, slow, StartOptions{}))

	up := factory.last()
	for i := 0; i < 20; i++ {
		up.emit("DANMU_MSG", danmakuBody("backlog"))
	}
	sess, ok := sv.Get(testRoom)
	require.True(t, ok)
	require.True(t, sess.Stop())

	// give an in-flight broadcast time to settle after the drain gave up
	time.Sleep(time.Millisecond * 100)
	require.Equal(t, 1, sess.Status().Subscribers)
	require.Zero(t, slow.closed.Load())
	require.Less(t, len(slow.received()), 20)

	require.NoError(t, sess.Start(context.Background(), StartOptions{}))
	factory.last().emit("DANMU_MSG", danmakuBody("after"))
	require.Eventually(t, func() bool {
		events := slow.received()
		return len(events) > 0 && events[len(events)-1].Payload.(event.Danmaku).Content == "after"
	}, time.Second*2, time.Millisecond*10)
}

func TestReconnectUnderBacklogKeepsSubscribers(t *testing.T) {
	factory := &fakeFactory{}
	sv := NewSupervisor(factory.build, WithConfig(slowDrainConfig()))
	defer sv.Close()
	slow := newRecordSink("slow")
	slow.delay = time.Millisecond * 30
	require.NoError(t, sv.Attach(context.Background(), testRoom, slow, StartOptions{AutoReconnect: true}))

	first := factory.last()
	for i := 0; i < 20; i++ {
		first.emit("DANMU_MSG", danmakuBody("backlog"))
	}
	first.lose()
	require.Eventually(t, func() bool {
		st, err := sv.Status(testRoom)
		return err == nil && st.Connected && factory.count() == 2
	}, time.Second*3, time.Millisecond*10)
	time.Sleep(time.Millisecond * 100)
	st, err := sv.Status(testRoom)
	require.NoError(t, err)
	require.Equal(t, 1, st.Subscribers)
	require.Zero(t, slow.closed.Load())
}
