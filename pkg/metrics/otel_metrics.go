package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics OpenTelemetry 指标集合
type OTelMetrics struct {
	// 扫描相关指标
	SweepRunsTotal     metric.Int64Counter
	SweepDuration      metric.Float64Histogram
	SweepSwitchesTotal metric.Int64Counter
	SweepFailuresTotal metric.Int64Counter

	// 状态机相关指标
	TransitionsTotal metric.Int64Counter
	CheckInsTotal    metric.Int64Counter

	// 通知相关指标
	NotificationsRecordedTotal metric.Int64Counter
	DeliveriesTotal            metric.Int64Counter
	DeliveryDuration           metric.Float64Histogram
}

var (
	// 全局指标实例
	metrics *OTelMetrics
	// meter 用于创建指标
	meter = otel.Meter("deadmanswitch")
)

// InitMetrics 初始化 OpenTelemetry 指标
func InitMetrics() error {
	var err error

	m := &OTelMetrics{}

	if m.SweepRunsTotal, err = meter.Int64Counter(
		"switch_sweep_runs_total",
		metric.WithDescription("Total number of reconciliation sweep runs"),
		metric.WithUnit("{run}"),
	); err != nil {
		return err
	}

	if m.SweepDuration, err = meter.Float64Histogram(
		"switch_sweep_duration_seconds",
		metric.WithDescription("Wall-clock time of a reconciliation sweep run"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}

	if m.SweepSwitchesTotal, err = meter.Int64Counter(
		"switch_sweep_switches_total",
		metric.WithDescription("Switches scanned by reconciliation sweeps"),
		metric.WithUnit("{switch}"),
	); err != nil {
		return err
	}

	if m.SweepFailuresTotal, err = meter.Int64Counter(
		"switch_sweep_failures_total",
		metric.WithDescription("Per-switch failures isolated during sweeps"),
		metric.WithUnit("{error}"),
	); err != nil {
		return err
	}

	if m.TransitionsTotal, err = meter.Int64Counter(
		"switch_transitions_total",
		metric.WithDescription("Switch state transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return err
	}

	if m.CheckInsTotal, err = meter.Int64Counter(
		"switch_check_ins_total",
		metric.WithDescription("Accepted check-ins"),
		metric.WithUnit("{check_in}"),
	); err != nil {
		return err
	}

	if m.NotificationsRecordedTotal, err = meter.Int64Counter(
		"switch_notifications_recorded_total",
		metric.WithDescription("Notification ledger entries written"),
		metric.WithUnit("{notification}"),
	); err != nil {
		return err
	}

	if m.DeliveriesTotal, err = meter.Int64Counter(
		"switch_notification_deliveries_total",
		metric.WithDescription("Notification delivery attempts by outcome"),
		metric.WithUnit("{delivery}"),
	); err != nil {
		return err
	}

	if m.DeliveryDuration, err = meter.Float64Histogram(
		"switch_notification_delivery_duration_seconds",
		metric.WithDescription("Time spent in a delivery channel"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}

	metrics = m
	return nil
}

// GetMetrics 获取全局指标实例，未初始化时为 nil
func GetMetrics() *OTelMetrics {
	return metrics
}

func (m *OTelMetrics) RecordSweep(ctx context.Context, sweep string, seconds float64, scanned, failed int64, completed bool) {
	attrs := metric.WithAttributes(
		attribute.String("sweep", sweep),
		attribute.Bool("completed", completed),
	)
	m.SweepRunsTotal.Add(ctx, 1, attrs)
	m.SweepDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("sweep", sweep)))
	m.SweepSwitchesTotal.Add(ctx, scanned, metric.WithAttributes(attribute.String("sweep", sweep)))
	if failed > 0 {
		m.SweepFailuresTotal.Add(ctx, failed, metric.WithAttributes(attribute.String("sweep", sweep)))
	}
}

func (m *OTelMetrics) RecordTransition(ctx context.Context, from, to string) {
	m.TransitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *OTelMetrics) RecordCheckIn(ctx context.Context, method string) {
	m.CheckInsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

func (m *OTelMetrics) RecordNotification(ctx context.Context, notificationType, channel string) {
	m.NotificationsRecordedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", notificationType),
		attribute.String("channel", channel),
	))
}

func (m *OTelMetrics) RecordDelivery(ctx context.Context, channel, status string, seconds float64) {
	m.DeliveriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("status", status),
	))
	m.DeliveryDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("channel", channel)))
}
