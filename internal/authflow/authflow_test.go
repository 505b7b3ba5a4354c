package authflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTimeoutsWithDefaults(t *testing.T) {
	filled := Timeouts{}.withDefaults()
	assert.Equal(t, DefaultTimeouts(), filled)

	partial := Timeouts{Element: 5 * time.Second}.withDefaults()
	assert.Equal(t, 5*time.Second, partial.Element)
	assert.Equal(t, 30*time.Second, partial.Navigation)
	assert.Equal(t, 120*time.Second, partial.CodeEntry)
}

func TestNavigationWatchAwait(t *testing.T) {
	w := &navigationWatch{fired: make(chan struct{}, 1), stop: func() {}}
	w.fired <- struct{}{}
	require.NoError(t, w.await(context.Background(), time.Second))
}

func TestNavigationWatchTimeout(t *testing.T) {
	w := &navigationWatch{fired: make(chan struct{}, 1), stop: func() {}}
	assert.ErrorIs(t, w.await(context.Background(), 10*time.Millisecond), ErrLoginTimedOut)
}

func TestNavigationWatchContextCancel(t *testing.T) {
	w := &navigationWatch{fired: make(chan struct{}, 1), stop: func() {}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.await(ctx, time.Second), context.Canceled)
}

func TestDoorDashLoginRequiresCredentials(t *testing.T) {
	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"missing password", "ops@example.com", ""},
		{"missing email", "", "hunter2"},
		{"missing both", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			flow := NewDoorDashFlow(tc.email, tc.password, DefaultTimeouts(), zap.NewNop())
			err := flow.Login(context.Background(), context.Background())
			assert.ErrorIs(t, err, ErrMissingCredentials, "must fail before touching the browser")
		})
	}
}

func TestUberEatsLoginRequiresUsername(t *testing.T) {
	flow := NewUberEatsFlow("", DefaultTimeouts(), zap.NewNop())
	err := flow.Login(context.Background(), context.Background())
	assert.ErrorIs(t, err, ErrMissingCredentials)
}
