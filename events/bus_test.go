package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(TopicModuleChanged)
	defer unsub()

	b.Publish(TopicModuleChanged, ModuleChanged{UserID: 7, Module: "general"})

	select {
	case got := <-ch:
		mc, ok := got.(ModuleChanged)
		if !ok {
			t.Fatalf("payload type %T", got)
		}
		if mc.UserID != 7 || mc.Module != "general" {
			t.Fatalf("payload = %+v", mc)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestPublishToOtherTopicNotDelivered(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(TopicModuleChanged)
	defer unsub()

	b.Publish(TopicStreamStatus, StreamStatus{UserID: 1, Live: true})

	select {
	case got := <-ch:
		t.Fatalf("unexpected message %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(TopicUserAuthorized)
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(TopicUserAuthorized, UserAuthorized{UserID: 1})
}

func TestPublishRacingUnsubscribe(t *testing.T) {
	b := NewBus()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_, unsub := b.Subscribe(TopicModuleChanged)
			unsub()
		}
	}()
	for i := 0; i < 1000; i++ {
		b.Publish(TopicModuleChanged, ModuleChanged{UserID: int64(i)})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subscribe/unsubscribe loop did not finish")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBus()
	_, unsub := b.Subscribe(TopicStreamStatus)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBufferSize+10; i++ {
			b.Publish(TopicStreamStatus, StreamStatus{UserID: int64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}
