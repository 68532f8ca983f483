package main

import (
	"sync"
	"testing"
	"time"
)

func TestQuitSignal_TriggerTwice(t *testing.T) {
	q := newQuitSignal()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Trigger()
		}()
	}
	wg.Wait()
	q.Trigger()

	select {
	case <-q.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not closed after Trigger")
	}
}

func TestQuitSignal_OpenUntilTriggered(t *testing.T) {
	q := newQuitSignal()
	select {
	case <-q.Done():
		t.Fatal("Done() closed before Trigger")
	default:
	}
}
