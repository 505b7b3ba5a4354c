package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestOneShotResolvesOnce(t *testing.T) {
	shot := NewOneShot()

	first := RequestEvent{URL: "https://example.com/a"}
	second := RequestEvent{URL: "https://example.com/b"}

	assert.True(t, shot.Offer(first))
	assert.False(t, shot.Offer(second), "a resolved OneShot must reject later events")

	got, err := shot.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, first.URL, got.URL)
}

func TestOneShotConcurrentOffers(t *testing.T) {
	shot := NewOneShot()

	var wg sync.WaitGroup
	resolved := make(chan string, 10)
	for i := 0; i < 10; i++ {
		url := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if shot.Offer(RequestEvent{URL: url}) {
				resolved <- url
			}
		}()
	}
	wg.Wait()
	close(resolved)

	var winners []string
	for url := range resolved {
		winners = append(winners, url)
	}
	require.Len(t, winners, 1, "exactly one offer must win")

	got, err := shot.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.URL)
}

func TestOneShotTimeout(t *testing.T) {
	shot := NewOneShot()

	_, err := shot.Await(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrCaptureTimedOut)
}

func TestOneShotContextCancel(t *testing.T) {
	shot := NewOneShot()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := shot.Await(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSignatureMatches(t *testing.T) {
	sig := Signature{URLFragment: "/manager/graphql", BodyMarker: "ordersV2"}

	assert.True(t, sig.Matches(RequestEvent{
		URL:  "https://merchants.ubereats.com/manager/graphql",
		Body: `{"query":"query ordersV2(...)"}`,
	}))
	assert.False(t, sig.Matches(RequestEvent{
		URL:  "https://merchants.ubereats.com/manager/graphql",
		Body: `{"query":"query feedback(...)"}`,
	}), "body marker must match")
	assert.False(t, sig.Matches(RequestEvent{
		URL:  "https://merchants.ubereats.com/api/other",
		Body: "ordersV2",
	}), "url fragment must match")

	urlOnly := Signature{URLFragment: "merchant-analytics-service"}
	assert.True(t, urlOnly.Matches(RequestEvent{
		URL: "https://merchant-analytics-service.doordash.com/api/v1/metric_breakdown",
	}))
}

func TestParseCookieHeader(t *testing.T) {
	cookies := parseCookieHeader("sid=abc; jwt-session=x%3D%3D; flag; empty=")

	assert.Equal(t, "abc", cookies["sid"])
	assert.Equal(t, "x%3D%3D", cookies["jwt-session"])
	assert.Equal(t, "", cookies["empty"])
	_, hasFlag := cookies["flag"]
	assert.False(t, hasFlag, "pairs without '=' are dropped")
}

func TestHeaderLookupIsCaseInsensitive(t *testing.T) {
	headers := map[string]string{"X-Csrf-Token": "tok", "cookie": "sid=abc"}

	assert.Equal(t, "tok", headerLookup(headers, "x-csrf-token"))
	assert.Equal(t, "sid=abc", headerLookup(headers, "Cookie"))
	assert.Equal(t, "", headerLookup(headers, "authorization"))
}
