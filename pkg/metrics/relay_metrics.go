package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	relaySubsystem = "relay"
	storeSubsystem = "store"
	httpSubsystem  = "http"
)

var (
	ConnectedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: privchatNamespace,
		Subsystem: relaySubsystem,
		Name:      "sessions",
		Help:      "当前在线的 WebSocket 会话数",
	})

	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: privchatNamespace,
		Subsystem: relaySubsystem,
		Name:      "online_users",
		Help:      "当前在线的用户名数量（同名多连接只计一次）",
	})

	InboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: privchatNamespace,
		Subsystem: relaySubsystem,
		Name:      "inbound_events_total",
		Help:      "客户端上行事件数，按事件与处理结果区分",
	}, []string{eventLabelName, resultLabelName})

	OutboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: privchatNamespace,
		Subsystem: relaySubsystem,
		Name:      "outbound_events_total",
		Help:      "成功投递到会话发送队列的下行事件数",
	}, []string{eventLabelName})

	DroppedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: privchatNamespace,
		Subsystem: relaySubsystem,
		Name:      "dropped_events_total",
		Help:      "因会话发送队列已满或会话已关闭而丢弃的下行事件数",
	}, []string{eventLabelName})

	EventLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: privchatNamespace,
		Subsystem: relaySubsystem,
		Name:      "event_latency_ms",
		Help:      "单个上行事件从解码到扇出完成的耗时（毫秒）",
		Buckets:   buckets,
	}, []string{eventLabelName})

	NetworkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: privchatNamespace,
		Subsystem: relaySubsystem,
		Name:      "network_errors_total",
		Help:      "网络收发链路各阶段的错误数",
	}, []string{stageLabelName})

	StoreLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: privchatNamespace,
		Subsystem: storeSubsystem,
		Name:      "op_latency_ms",
		Help:      "存储操作耗时（毫秒）",
		Buckets:   buckets,
	}, []string{backendLabel, opLabelName, resultLabelName})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: privchatNamespace,
		Subsystem: httpSubsystem,
		Name:      "requests_total",
		Help:      "HTTP 请求数",
	}, []string{methodLabelName, routeLabelName, codeLabelName})

	HTTPLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: privchatNamespace,
		Subsystem: httpSubsystem,
		Name:      "request_latency_ms",
		Help:      "HTTP 请求耗时（毫秒）",
		Buckets:   buckets,
	}, []string{methodLabelName, routeLabelName})
)
