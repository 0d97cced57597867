package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal 按路由与状态码统计请求数。
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_http_requests_total",
			Help: "Total HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration 请求耗时分布。
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskmanager_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// CacheOperationsTotal 缓存操作结果统计。
	//
	// op: get / set / delete; result: hit / miss / ok / error
	CacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_cache_operations_total",
			Help: "Cache operations by operation and result.",
		},
		[]string{"op", "result"},
	)

	// AuthFailuresTotal 鉴权失败原因统计。
	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_auth_failures_total",
			Help: "Rejected requests by authentication/authorization failure reason.",
		},
		[]string{"reason"},
	)

	// LoginAttemptsTotal 登录尝试统计。
	LoginAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_login_attempts_total",
			Help: "Login attempts by result.",
		},
		[]string{"result"},
	)

	// TaskMutationsTotal 任务写操作统计。
	TaskMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmanager_task_mutations_total",
			Help: "Committed task writes by operation.",
		},
		[]string{"op"},
	)

	RateLimitRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskmanager_ratelimit_rejected_total",
		Help: "Requests rejected by the login rate limiter.",
	})

	RateLimitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskmanager_ratelimit_errors_total",
		Help: "Rate limiter backend errors (requests were allowed).",
	})
)

var initOnce sync.Once

// InitMetrics 向默认 Registry 注册所有指标，重复调用是安全的。
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			CacheOperationsTotal,
			AuthFailuresTotal,
			LoginAttemptsTotal,
			TaskMutationsTotal,
			RateLimitRejectedTotal,
			RateLimitErrorsTotal,
		)
	})
}
