package lifecycle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyLocks_SerializesSameKey(t *testing.T) {
	locks := newKeyLocks()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("K")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, locks.size(), "entries are released")
}

func TestKeyLocks_IndependentKeys(t *testing.T) {
	locks := newKeyLocks()
	unlockA := locks.lock("A")
	done := make(chan struct{})
	go func() {
		unlock := locks.lock("B")
		unlock()
		close(done)
	}()
	<-done
	unlockA()
}
