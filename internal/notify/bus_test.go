package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rolodex/internal/contact"
)

type collector struct {
	mu   sync.Mutex
	seen []string
}

func (c *collector) handle(cs contact.ChangeSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, cs.ID)
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.seen...)
}

type failingSink struct{ calls int }

func (s *failingSink) Send(context.Context, contact.ChangeSet) error {
	s.calls++
	return errors.New("unreachable")
}

func changeSet(id string) contact.ChangeSet {
	return contact.ChangeSet{ID: id, Added: []contact.ID{1}}
}

func TestBus_DeliversInOrder(t *testing.T) {
	b := NewBus()
	c := &collector{}
	b.Subscribe(c.handle)

	for _, id := range []string{"cs-1", "cs-2", "cs-3"} {
		b.Publish(changeSet(id))
	}
	b.Close()

	assert.Equal(t, []string{"cs-1", "cs-2", "cs-3"}, c.ids())
}

func TestBus_DropsEmptyAndLate(t *testing.T) {
	b := NewBus()
	c := &collector{}
	b.Subscribe(c.handle)

	b.Publish(contact.ChangeSet{ID: "empty"})
	b.Close()
	b.Publish(changeSet("late"))
	b.Close()

	assert.Empty(t, c.ids())
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	kept, dropped := &collector{}, &collector{}
	b.Subscribe(kept.handle)
	unsubscribe := b.Subscribe(dropped.handle)

	b.Publish(changeSet("cs-1"))
	require.Eventually(t, func() bool { return len(dropped.ids()) == 1 }, time.Second, time.Millisecond)

	unsubscribe()
	b.Publish(changeSet("cs-2"))
	b.Close()

	assert.Equal(t, []string{"cs-1", "cs-2"}, kept.ids())
	assert.Equal(t, []string{"cs-1"}, dropped.ids())
}

func TestBus_SinkErrorsDoNotStopDelivery(t *testing.T) {
	sink := &failingSink{}
	b := NewBus(WithSink(sink), WithSendTimeout(time.Second))
	c := &collector{}
	b.Subscribe(c.handle)

	b.Publish(changeSet("cs-1"))
	b.Publish(changeSet("cs-2"))
	b.Close()

	assert.Equal(t, 2, sink.calls)
	assert.Equal(t, []string{"cs-1", "cs-2"}, c.ids())
}
