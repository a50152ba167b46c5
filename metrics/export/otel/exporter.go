package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/deskflow/authcore"
	"github.com/deskflow/authcore/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is satisfied by *authcore.Engine.
type MetricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// flowOutcome places an engine counter on the instrument for its flow,
// distinguished by the outcome attribute.
type flowOutcome struct {
	id      authcore.MetricID
	flow    string
	outcome string
}

var flowOutcomes = []flowOutcome{
	{authcore.MetricLoginSuccess, "login", "success"},
	{authcore.MetricLoginFailure, "login", "bad_credentials"},
	{authcore.MetricLoginLockedOut, "login", "locked"},
	{authcore.MetricLoginInactive, "login", "inactive"},
	{authcore.MetricAccountLocked, "lockout", "locked"},
	{authcore.MetricRefreshSuccess, "refresh", "success"},
	{authcore.MetricRefreshFailure, "refresh", "failure"},
	{authcore.MetricRefreshRevoked, "refresh", "revoked"},
	{authcore.MetricSessionCreated, "session", "created"},
	{authcore.MetricSessionEvicted, "session", "evicted"},
	{authcore.MetricLogout, "session", "logout"},
	{authcore.MetricLogoutAll, "session", "logout_all"},
	{authcore.MetricPasswordResetRequest, "password_reset", "requested"},
	{authcore.MetricPasswordResetSuccess, "password_reset", "success"},
	{authcore.MetricPasswordResetFailure, "password_reset", "invalid_token"},
	{authcore.MetricPasswordChangeSuccess, "password_change", "success"},
	{authcore.MetricPasswordChangeFailure, "password_change", "bad_credentials"},
	{authcore.MetricPasswordChangeReuseRejected, "password_change", "reuse"},
	{authcore.MetricPasswordRehash, "password_rehash", "success"},
	{authcore.MetricEmailVerificationRequest, "email_verification", "requested"},
	{authcore.MetricEmailVerificationSuccess, "email_verification", "success"},
	{authcore.MetricEmailVerificationFailure, "email_verification", "invalid_token"},
	{authcore.MetricExternalLoginSuccess, "external_login", "success"},
	{authcore.MetricExternalLoginFailure, "external_login", "failure"},
	{authcore.MetricExternalProvisioned, "external_login", "provisioned"},
	{authcore.MetricAccountCreated, "account", "created"},
	{authcore.MetricAccountCreationDuplicate, "account", "duplicate"},
	{authcore.MetricAccountDisabled, "account", "disabled"},
	{authcore.MetricAccountEnabled, "account", "enabled"},
	{authcore.MetricDeliveryFailure, "delivery", "failure"},
	{authcore.MetricRateLimitHit, "throttle", "limited"},
	{authcore.MetricStoreConflict, "store", "conflict"},
}

var latencyOps = []struct {
	id authcore.MetricID
	op string
}{
	{authcore.MetricLoginLatency, "login"},
	{authcore.MetricValidateLatency, "validate"},
}

type counterObservation struct {
	id  authcore.MetricID
	ins metric.Int64ObservableCounter
	opt metric.ObserveOption
}

type bucketObservation struct {
	id  authcore.MetricID
	opt [8]metric.ObserveOption
}

// Exporter reports engine counters to an OTel meter. Each flow (login,
// refresh, password_reset, ...) is one counter named authcore.<flow> with an
// outcome attribute. Latency histograms become the cumulative counter
// authcore.latency.bucket with op and le attributes; le="+Inf" is the total.
type Exporter struct {
	registration metric.Registration
}

// New registers instruments on meter and a callback reading source. Close
// unregisters the callback.
func New(meter metric.Meter, source MetricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	var observables []metric.Observable
	flows := make(map[string]metric.Int64ObservableCounter)
	counters := make([]counterObservation, 0, len(flowOutcomes))
	for _, fo := range flowOutcomes {
		ins, ok := flows[fo.flow]
		if !ok {
			var err error
			ins, err = meter.Int64ObservableCounter("authcore."+fo.flow,
				metric.WithDescription("Engine "+fo.flow+" events by outcome."),
				metric.WithUnit("{event}"),
			)
			if err != nil {
				return nil, fmt.Errorf("create %s counter: %w", fo.flow, err)
			}
			flows[fo.flow] = ins
			observables = append(observables, ins)
		}
		counters = append(counters, counterObservation{
			id:  fo.id,
			ins: ins,
			opt: metric.WithAttributeSet(attribute.NewSet(attribute.String("outcome", fo.outcome))),
		})
	}

	latency, err := meter.Int64ObservableCounter("authcore.latency.bucket",
		metric.WithDescription("Cumulative count of operations at or under the le bound in seconds."),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create latency counter: %w", err)
	}
	observables = append(observables, latency)
	buckets := make([]bucketObservation, 0, len(latencyOps))
	for _, l := range latencyOps {
		b := bucketObservation{id: l.id}
		for i := range b.opt {
			b.opt[i] = metric.WithAttributeSet(attribute.NewSet(
				attribute.String("op", l.op),
				attribute.String("le", bucketBound(i)),
			))
		}
		buckets = append(buckets, b)
	}

	dropped, err := meter.Int64ObservableCounter("authcore.audit.dropped",
		metric.WithDescription(internaldefs.AuditDroppedHelp),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	observables = append(observables, dropped)

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := source.MetricsSnapshot()
		for _, c := range counters {
			if v, ok := snap.Counters[c.id]; ok {
				o.ObserveInt64(c.ins, int64(v), c.opt)
			}
		}
		for _, b := range buckets {
			raw, ok := snap.Histograms[b.id]
			if !ok {
				continue
			}
			cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
			for i, v := range cumulative {
				o.ObserveInt64(latency, int64(v), b.opt[i])
			}
		}
		o.ObserveInt64(dropped, int64(source.AuditDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return &Exporter{registration: reg}, nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

func bucketBound(i int) string {
	if i >= len(internaldefs.UpperBounds) {
		return "+Inf"
	}
	return strconv.FormatFloat(internaldefs.UpperBounds[i], 'g', -1, 64)
}
