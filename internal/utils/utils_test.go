package utils

import (
	"context"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientPlatform(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		want      string
	}{
		{"empty", "", PlatformUnknown},
		{"android app", "okhttp/4.12.0", PlatformAndroid},
		{"ios app", "SmartTransit/112 CFNetwork/1410.0.3 Darwin/22.6.0", PlatformIOS},
		{"desktop chrome", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36", PlatformWeb},
		{"android browser", "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Mobile Safari/537.36", PlatformAndroid},
		{"iphone browser", "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1", PlatformIOS},
		{"crawler", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", PlatformAPI},
		{"go client", "Go-http-client/1.1", PlatformAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseClientPlatform(tt.userAgent))
		})
	}
}

func TestClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newContext := func(headers map[string]string) *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "203.0.113.9:5555"
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		c.Request = req
		return c
	}

	t.Run("real ip header", func(t *testing.T) {
		c := newContext(map[string]string{"X-Real-IP": "198.51.100.7"})
		assert.Equal(t, "198.51.100.7", ClientIP(c))
	})

	t.Run("skips private forwarded hops", func(t *testing.T) {
		c := newContext(map[string]string{"X-Forwarded-For": "10.0.0.4, 127.0.0.1, 198.51.100.20"})
		assert.Equal(t, "198.51.100.20", ClientIP(c))
	})

	t.Run("falls back to remote address", func(t *testing.T) {
		c := newContext(nil)
		assert.Equal(t, "203.0.113.9", ClientIP(c))
	})
}

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)
	assert.Equal(t, start, clock.Now())

	clock.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), clock.Now())

	later := start.Add(24 * time.Hour)
	clock.Set(later)
	assert.Equal(t, later, clock.Now())

	assert.Equal(t, time.UTC, SystemClock{}.Now().Location())
}

func TestKeyedMutex_SerialisesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "trip:T1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				old := atomic.LoadInt32(&maxInside)
				if n <= old || atomic.CompareAndSwapInt32(&maxInside, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, m.locks)
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	unlockA, err := m.Lock(ctx, "trip:A")
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := m.Lock(ctx, "trip:B")
		if err == nil {
			unlockB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.Lock(context.Background(), "booking:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "booking:1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// double release is harmless
	unlock()
	unlock()

	again, err := m.Lock(context.Background(), "booking:1")
	require.NoError(t, err)
	again()
	assert.Empty(t, m.locks)
}

func TestGenerateSecrets(t *testing.T) {
	secret, err := GenerateSecret(16)
	require.NoError(t, err)
	assert.Len(t, secret, 32)

	secrets, err := GenerateSecrets("JWT_SECRET", "MOBILE_MONEY_WEBHOOK_SECRET")
	require.NoError(t, err)
	require.Len(t, secrets, 2)
	assert.Len(t, secrets["JWT_SECRET"], 64)
	assert.NotEqual(t, secrets["JWT_SECRET"], secrets["MOBILE_MONEY_WEBHOOK_SECRET"])
}
