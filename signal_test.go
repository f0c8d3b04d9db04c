package main

import (
	"context"
	"log/slog"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestSyncInterrupt_SignalCancelsWalkAndIsRecorded(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	defer cancelParent()

	si := newSyncInterruptWith(parent, discardLogger(), func(int) {
		t.Error("exit called on first signal")
	})
	defer si.Stop()

	go si.watch(parent)

	assert.Nil(t, si.Signal())

	si.sigCh <- syscall.SIGTERM

	select {
	case <-si.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sync context not cancelled within 2 seconds of SIGTERM")
	}

	assert.Equal(t, syscall.SIGTERM, si.Signal())
}

func TestSyncInterrupt_SecondSignalExits(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	defer cancelParent()

	exited := make(chan int, 1)
	si := newSyncInterruptWith(parent, discardLogger(), func(code int) { exited <- code })
	defer si.Stop()

	go si.watch(parent)

	si.sigCh <- syscall.SIGINT
	<-si.Context().Done()
	si.sigCh <- syscall.SIGINT

	select {
	case code := <-exited:
		assert.Equal(t, 1, code)
	case <-time.After(2 * time.Second):
		t.Fatal("second signal did not exit")
	}
}

func TestSyncInterrupt_ParentCancelPropagates(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())

	si := newSyncInterruptWith(parent, discardLogger(), func(int) { t.Error("unexpected exit") })
	defer si.Stop()

	go si.watch(parent)

	cancelParent()

	select {
	case <-si.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sync context not cancelled within 2 seconds of parent cancel")
	}

	assert.Nil(t, si.Signal())
}

func TestSyncInterrupt_ProcessSignal(t *testing.T) {
	si := newSyncInterrupt(context.Background(), discardLogger())
	defer si.Stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))

	select {
	case <-si.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sync context not cancelled within 2 seconds of SIGINT")
	}

	assert.Equal(t, syscall.SIGINT, si.Signal())
}
