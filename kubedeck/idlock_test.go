package kubedeck

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIDLockSerializesSameID(t *testing.T) {
	locks := newIDLock()
	count := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.lock("cluster-1")
			defer release()
			count++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, count)
}

func TestIDLockKeepsIDsIndependent(t *testing.T) {
	locks := newIDLock()
	release := locks.lock("cluster-1")
	defer release()

	acquired := make(chan struct{})
	go func() {
		releaseOther := locks.lock("cluster-2")
		defer releaseOther()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock on a different id must not block")
	}
}
