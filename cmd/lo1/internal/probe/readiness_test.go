// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForReady_ImmediateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := WaitForReady(context.Background(), Options{
		URL:         srv.URL,
		ServiceName: "api",
		Timeout:     2 * time.Second,
		Interval:    10 * time.Millisecond,
	})
	require.NoError(t, err)
}

func TestWaitForReady_EventualSuccess(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var attempts []Attempt
	err := WaitForReady(context.Background(), Options{
		URL:         srv.URL,
		ServiceName: "api",
		Timeout:     5 * time.Second,
		Interval:    5 * time.Millisecond,
		OnAttempt:   func(a Attempt) { attempts = append(attempts, a) },
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(attempts), 3)
	assert.Equal(t, http.StatusNoContent, attempts[len(attempts)-1].StatusCode)
}

func TestWaitForReady_TimeoutOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	start := time.Now()
	err := WaitForReady(context.Background(), Options{
		URL:         srv.URL,
		ServiceName: "api",
		Timeout:     150 * time.Millisecond,
		Interval:    20 * time.Millisecond,
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	var probeErr *Error
	require.True(t, errors.As(err, &probeErr))
	assert.Equal(t, "api", probeErr.Service)
	assert.Equal(t, srv.URL, probeErr.URL)
	assert.Greater(t, probeErr.Attempts, 0)
	assert.Less(t, elapsed, 2*time.Second, "probe must respect its total timeout")
}

func TestWaitForReady_UnreachableHost(t *testing.T) {
	// Port 1 is essentially never listening locally.
	err := WaitForReady(context.Background(), Options{
		URL:         "http://localhost:1/unused",
		ServiceName: "api",
		Timeout:     100 * time.Millisecond,
		Interval:    10 * time.Millisecond,
	})

	var probeErr *Error
	require.True(t, errors.As(err, &probeErr))
	assert.Equal(t, "http://localhost:1/unused", probeErr.URL)
}

func TestWaitForReady_Cancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := WaitForReady(ctx, Options{
		URL:         srv.URL,
		ServiceName: "api",
		Timeout:     30 * time.Second,
		Interval:    10 * time.Millisecond,
	})

	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must end the probe promptly")

	var probeErr *Error
	require.True(t, errors.As(err, &probeErr))
	assert.True(t, errors.Is(probeErr.Wrapped, context.Canceled))
}

func TestNextInterval_BackoffAndClamp(t *testing.T) {
	interval := time.Second
	max := 5 * time.Second

	interval = nextInterval(interval, max, 1.5)
	assert.Equal(t, 1500*time.Millisecond, interval)

	for i := 0; i < 10; i++ {
		interval = nextInterval(interval, max, 1.5)
	}
	assert.Equal(t, max, interval, "interval must clamp at MaxInterval")
}

func TestWaitForReady_2xxBoundary(t *testing.T) {
	tests := []struct {
		status int
		ready  bool
	}{
		{200, true},
		{204, true},
		{299, true},
		{300, false},
		{404, false},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))

		err := WaitForReady(context.Background(), Options{
			URL:         srv.URL,
			ServiceName: "api",
			Timeout:     80 * time.Millisecond,
			Interval:    10 * time.Millisecond,
		})
		srv.Close()

		if tt.ready {
			assert.NoError(t, err, "status %d should be ready", tt.status)
		} else {
			assert.Error(t, err, "status %d should not be ready", tt.status)
		}
	}
}
