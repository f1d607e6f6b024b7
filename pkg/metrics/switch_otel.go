package metrics

import (
	"context"
)

// 以下包级函数在 InitMetrics 之前调用是安全的（直接忽略）

// RecordSweep 记录一次扫描
func RecordSweep(ctx context.Context, sweep string, seconds float64, scanned, failed int, completed bool) {
	if m := GetMetrics(); m != nil {
		m.RecordSweep(ctx, sweep, seconds, int64(scanned), int64(failed), completed)
	}
}

// RecordTransition 记录状态迁移
func RecordTransition(ctx context.Context, from, to string) {
	if m := GetMetrics(); m != nil {
		m.RecordTransition(ctx, from, to)
	}
}

// RecordCheckIn 记录签到
func RecordCheckIn(ctx context.Context, method string) {
	if m := GetMetrics(); m != nil {
		m.RecordCheckIn(ctx, method)
	}
}

// RecordNotification 记录台账写入
func RecordNotification(ctx context.Context, notificationType, channel string) {
	if m := GetMetrics(); m != nil {
		m.RecordNotification(ctx, notificationType, channel)
	}
}

// RecordDelivery 记录投递结果
func RecordDelivery(ctx context.Context, channel, status string, seconds float64) {
	if m := GetMetrics(); m != nil {
		m.RecordDelivery(ctx, channel, status, seconds)
	}
}
