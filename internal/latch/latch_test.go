package latch

import (
	"sync"
	"testing"
)

func TestLatchInitiallyClear(t *testing.T) {
	var l Latch
	if l.ConsumeAndClear() {
		t.Error("new latch should consume as false")
	}
}

func TestLatchRecordConsume(t *testing.T) {
	var l Latch
	l.Record()

	if !l.ConsumeAndClear() {
		t.Error("expected true from first consume")
	}
	if l.ConsumeAndClear() {
		t.Error("expected false from second consume")
	}
}

func TestLatchCoalescesRecords(t *testing.T) {
	var l Latch
	for i := 0; i < 5; i++ {
		l.Record()
	}

	if !l.ConsumeAndClear() {
		t.Fatal("expected true after several records")
	}
	if l.ConsumeAndClear() {
		t.Error("several records should be observed as a single true")
	}
}

func TestLatchConcurrentRecord(t *testing.T) {
	var l Latch
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record()
		}()
	}
	wg.Wait()

	if !l.ConsumeAndClear() {
		t.Error("expected true after concurrent records")
	}
	if l.ConsumeAndClear() {
		t.Error("expected clear after consume")
	}
}

func TestLatchConcurrentProducerConsumer(t *testing.T) {
	var l Latch
	const n = 1000

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			l.Record()
		}
	}()

	seen := 0
	for {
		select {
		case <-done:
			if l.ConsumeAndClear() {
				seen++
			}
			if seen == 0 {
				t.Error("consumer never observed a record")
			}
			return
		default:
			if l.ConsumeAndClear() {
				seen++
			}
		}
	}
}
