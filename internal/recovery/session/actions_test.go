package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/relink/internal/core/domain"
	"github.com/vietddude/relink/internal/recovery/breaker"
	"github.com/vietddude/relink/internal/recovery/strategy"
)

func TestRunAttempt_ActionsRunInOrder(t *testing.T) {
	tr := &mockTransport{}
	sess, _ := newTestSession(t, tr)

	st := fastStrategy("s", 1)
	st.Actions = []domain.Action{
		{Type: domain.ActionClearCache, Timeout: time.Second, Retryable: true},
		{Type: domain.ActionResetConnection, Timeout: time.Second, Retryable: true},
	}

	rec := sess.Run(context.Background(), st)

	if rec.State != domain.SessionSucceeded {
		t.Fatalf("state = %s, want succeeded", rec.State)
	}
	want := []string{"clear_cache", "reset_connection", "reconnect"}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", tr.calls, want)
	}
	for i, w := range want {
		if tr.calls[i] != w {
			t.Errorf("call %d = %s, want %s", i, tr.calls[i], w)
		}
	}
}

func TestRunAttempt_SuccessStopsRemainingActions(t *testing.T) {
	tr := &mockTransport{}
	sess, _ := newTestSession(t, tr)

	st := fastStrategy("s", 1)
	st.Actions = []domain.Action{
		{Type: domain.ActionReconnect, Timeout: time.Second, Retryable: true},
		{Type: domain.ActionRestartService, Timeout: time.Second, Retryable: true},
	}

	rec := sess.Run(context.Background(), st)

	if rec.State != domain.SessionSucceeded {
		t.Fatalf("state = %s, want succeeded", rec.State)
	}
	if n := tr.callCount("restart_service"); n != 0 {
		t.Errorf("restart_service ran %d times after connectivity was confirmed", n)
	}
}

func TestRunAttempt_RetryableFailureSkipsRestOfAttempt(t *testing.T) {
	tr := &mockTransport{
		resetFn: func(ctx context.Context, deviceID string) error {
			return errors.New("reset refused")
		},
	}
	sess, _ := newTestSession(t, tr)

	st := fastStrategy("s", 2)
	st.Actions = []domain.Action{
		{Type: domain.ActionResetConnection, Timeout: time.Second, Retryable: true},
		{Type: domain.ActionRestartService, Timeout: time.Second, Retryable: true},
	}

	rec := sess.Run(context.Background(), st)

	if rec.State != domain.SessionFailed {
		t.Fatalf("state = %s, want failed", rec.State)
	}
	if n := tr.callCount("restart_service"); n != 0 {
		t.Errorf("restart_service ran %d times after an earlier action failed", n)
	}
	if n := tr.callCount("reset_connection"); n != 2 {
		t.Errorf("reset_connection ran %d times, want one per attempt", n)
	}
}

func TestExecAction_TimeoutFailsAction(t *testing.T) {
	tr := &mockTransport{
		reconnectFn: func(ctx context.Context, deviceID string) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		},
	}
	sess, _ := newTestSession(t, tr)

	st := fastStrategy("s", 1)
	st.Actions[0].Timeout = 20 * time.Millisecond

	rec := sess.Run(context.Background(), st)

	if rec.State != domain.SessionFailed {
		t.Fatalf("state = %s, want failed", rec.State)
	}
	if len(rec.Metrics.Errors) == 0 {
		t.Fatal("no error recorded for the timed-out action")
	}
}

func TestExecAction_BreakerFailsFastAfterThreshold(t *testing.T) {
	tr := &mockTransport{
		reconnectFn: func(ctx context.Context, deviceID string) (bool, error) {
			return false, errors.New("peer unreachable")
		},
	}
	reg := strategy.NewRegistry(nil)
	sess := New("dev-1", testFctx("dev-1"), tr, reg, breaker.New(nil), nil)

	// One more attempt than the per-action breaker threshold: the last
	// attempt must be rejected by the breaker, not reach the transport.
	st := fastStrategy("s", actionBreakerThreshold+1)

	rec := sess.Run(context.Background(), st)

	if rec.State != domain.SessionFailed {
		t.Fatalf("state = %s, want failed", rec.State)
	}
	if rec.Attempts != actionBreakerThreshold+1 {
		t.Errorf("attempts = %d, want %d", rec.Attempts, actionBreakerThreshold+1)
	}
	if n := tr.callCount("reconnect"); n != actionBreakerThreshold {
		t.Errorf("transport reconnect calls = %d, want %d (last attempt behind open circuit)",
			n, actionBreakerThreshold)
	}
}

func TestWaitAction_DoesNotConfirm(t *testing.T) {
	tr := &mockTransport{}
	sess, _ := newTestSession(t, tr)

	st := fastStrategy("s", 1)
	st.Actions = []domain.Action{
		{Type: domain.ActionWait, Params: map[string]any{"duration": 1}, Timeout: time.Second, Retryable: true},
		{Type: domain.ActionReconnect, Timeout: time.Second, Retryable: true},
	}

	rec := sess.Run(context.Background(), st)

	if rec.State != domain.SessionSucceeded {
		t.Fatalf("state = %s, want succeeded via reconnect after wait", rec.State)
	}
	if n := tr.callCount("reconnect"); n != 1 {
		t.Errorf("reconnect calls = %d, want 1", n)
	}
}

func TestSwitchAdapter_MissingParamIsFatalWhenNotRetryable(t *testing.T) {
	tr := &mockTransport{}
	sess, _ := newTestSession(t, tr)

	st := fastStrategy("s", 3)
	st.Actions = []domain.Action{
		{Type: domain.ActionSwitchAdapter, Timeout: time.Second, Retryable: false},
	}

	rec := sess.Run(context.Background(), st)

	if rec.State != domain.SessionFailed {
		t.Fatalf("state = %s, want failed", rec.State)
	}
	if rec.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", rec.Attempts)
	}
	if n := tr.callCount("switch_adapter"); n != 0 {
		t.Errorf("switch_adapter reached the transport %d times without an adapter_id", n)
	}
}

func TestWaitDuration(t *testing.T) {
	tr := &mockTransport{}
	sess, _ := newTestSession(t, tr)

	st := &domain.RecoveryStrategy{
		ID:                "s",
		MaxAttempts:       5,
		BaseDelay:         100 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	cases := []struct {
		name    string
		attempt int
		params  map[string]any
		want    time.Duration
	}{
		{"milliseconds int", 1, map[string]any{"duration": 250}, 250 * time.Millisecond},
		{"milliseconds float", 1, map[string]any{"duration": 250.0}, 250 * time.Millisecond},
		{"duration string", 1, map[string]any{"duration": "1.5s"}, 1500 * time.Millisecond},
		{"calculated first attempt", 1, map[string]any{"duration": "calculated"}, 100 * time.Millisecond},
		{"calculated grows with attempts", 2, map[string]any{"duration": "calculated"}, 200 * time.Millisecond},
		{"missing param uses base delay", 1, nil, 100 * time.Millisecond},
		{"garbage string uses base delay", 1, map[string]any{"duration": "soon"}, 100 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := domain.Action{Type: domain.ActionWait, Params: tc.params}
			if got := sess.waitDuration(st, tc.attempt, a); got != tc.want {
				t.Errorf("waitDuration = %v, want %v", got, tc.want)
			}
		})
	}
}
