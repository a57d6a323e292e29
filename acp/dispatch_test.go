package acp

import (
	"sync"
	"testing"

	"github.com/zhubert/acp-bridge/logger"
)

func TestDispatcher_OrderAndDrain(t *testing.T) {
	var mu sync.Mutex
	var got []string
	d := newDispatcher(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.(MessageChunk).Text)
	}, logger.WithComponent("acp"))
	defer d.close()

	for _, s := range []string{"a", "b", "c", "d"} {
		d.deliver(MessageChunk{Text: s})
	}
	d.drain()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 4 || got[0] != "a" || got[3] != "d" {
		t.Errorf("got %v, want in-order delivery of 4 events", got)
	}
}

func TestDispatcher_RecoversHandlerPanic(t *testing.T) {
	count := 0
	d := newDispatcher(func(ev Event) {
		count++
		if count == 1 {
			panic("handler bug")
		}
	}, logger.WithComponent("acp"))

	d.deliver(MessageChunk{Text: "first"})
	d.deliver(MessageChunk{Text: "second"})
	d.drain()
	d.close()

	if count != 2 {
		t.Errorf("handler ran %d times, want 2", count)
	}
}

func TestDispatcher_CloseIdempotent(t *testing.T) {
	d := newDispatcher(func(Event) {}, logger.WithComponent("acp"))
	d.close()
	d.close()
	d.deliver(MessageChunk{Text: "late"})
	d.drain()
}
