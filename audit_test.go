package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/deskflow/authcore/identity/memstore"
)

func newAuditEnv(t *testing.T, sink AuditSink) *testEnv {
	t.Helper()
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 64
	cfg.Audit.DropIfFull = false

	env := &testEnv{store: memstore.New(), clock: newTestClock(), box: &outbox{}}
	engine, err := New().
		WithConfig(cfg).
		WithStore(env.store).
		WithNotifier(env.box).
		WithAuditSink(sink).
		WithLogger(zaptest.NewLogger(t)).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	env.engine = engine
	return env
}

func drainEvents(sink *ChannelSink) []AuditEvent {
	var out []AuditEvent
	for {
		select {
		case ev := <-sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestAuditLoginEvents(t *testing.T) {
	sink := NewChannelSink(64)
	env := newAuditEnv(t, sink)
	id := env.seed(t, "alice@example.com")
	ctx := context.Background()
	client := ClientInfo{UserAgent: "ua", IP: "203.0.113.9"}

	_, _ = env.engine.Login(ctx, "alice@example.com", "wrong-password", false, client)
	res, err := env.engine.Login(ctx, "alice@example.com", testPassword, true, client)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	env.engine.Close()

	events := drainEvents(sink)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	fail, ok := events[0], events[1]
	if fail.EventType != auditEventLoginFailure || fail.Success || fail.Error != string(auditErrInvalidCredentials) {
		t.Fatalf("unexpected failure event: %+v", fail)
	}
	if fail.Metadata["reason"] != "bad_password" || fail.IdentityID != id || fail.IP != client.IP {
		t.Fatalf("unexpected failure metadata: %+v", fail)
	}
	if ok.EventType != auditEventLoginSuccess || !ok.Success || ok.SessionID != res.SessionID {
		t.Fatalf("unexpected success event: %+v", ok)
	}
	if ok.Metadata["remember_me"] != "true" {
		t.Fatalf("expected remember_me metadata, got %v", ok.Metadata)
	}
	if !ok.Timestamp.Equal(env.clock.Now()) {
		t.Fatalf("expected engine clock timestamp, got %v", ok.Timestamp)
	}
}

func TestAuditNeverCarriesSecrets(t *testing.T) {
	var buf bytes.Buffer
	env := newAuditEnv(t, NewJSONWriterSink(&buf))
	env.seed(t, "alice@example.com")
	ctx := context.Background()

	res := env.login(t, "alice@example.com", false)
	if err := env.engine.RequestPasswordReset(ctx, "alice@example.com", ClientInfo{}); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	token := env.box.last(t, DeliveryPasswordReset).Token
	if err := env.engine.ResetPassword(ctx, token, "brand-new-password"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	env.engine.Close()

	out := buf.String()
	for _, secret := range []string{testPassword, "brand-new-password", token, res.RefreshToken, res.AccessToken} {
		if strings.Contains(out, secret) {
			t.Fatalf("audit output leaked a secret: %q", secret)
		}
	}

	dec := json.NewDecoder(strings.NewReader(out))
	types := map[string]bool{}
	for dec.More() {
		var ev AuditEvent
		if err := dec.Decode(&ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		types[ev.EventType] = true
	}
	for _, want := range []string{auditEventLoginSuccess, auditEventPasswordResetRequest, auditEventPasswordResetConfirm, auditEventAccountStatusChange} {
		if !types[want] {
			t.Fatalf("missing %s event, got %v", want, types)
		}
	}
}

func TestAuditErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{&AuthError{Err: ErrInvalidCredentials, AttemptsRemaining: 3}, auditErrInvalidCredentials},
		{&AuthError{Err: ErrAccountLocked}, auditErrAccountLocked},
		{ErrSingleUseTokenInvalid, auditErrSingleUseInvalid},
		{ErrDeliveryFailed, auditErrDeliveryFailed},
		{ErrUnavailable, auditErrUnavailable},
		{context.Canceled, auditErrInternal},
	}
	for _, tt := range tests {
		if got := auditErrorCode(tt.err); got != tt.want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
