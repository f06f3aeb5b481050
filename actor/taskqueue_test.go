package actor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskQueueOrder(t *testing.T) {
	q := newTaskQueue()

	var ran []int
	for i := 0; i < 10; i++ {
		n := i
		assert.True(t, q.push(func() { ran = append(ran, n) }))
	}

	for _, fn := range q.take() {
		fn()
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, ran)
	assert.Nil(t, q.take())
}

func TestTaskQueueClose(t *testing.T) {
	q := newTaskQueue()

	assert.True(t, q.push(func() {}))
	q.close()
	assert.False(t, q.push(func() {}), "push after close is rejected")
	assert.True(t, q.isClosed())

	// Already-queued tasks survive the close
	assert.Len(t, q.take(), 1)

	// close signals the wake channel so a parked consumer can exit
	select {
	case <-q.wake:
	default:
		t.Fatal("close did not signal the consumer")
	}
}
