package reconcile

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"timewarp/world"
)

const (
	// DefaultMaxLead 客户端步编号领先服务端的上限
	DefaultMaxLead = 64
	// DefaultReduceLag 压缩时在最小确认步之前保留的步数
	DefaultReduceLag = 16
)

type settings struct {
	config

	napSet     bool
	maxLead    uint64
	reduceLag  uint64
	maxHistory int
	limit      rate.Limit
	burst      int
}

// Option 配置 Server 或 Client；仅对服务端有意义的选项在客户端上被忽略
type Option func(*settings)

func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWorldOptions 透传给世界模型
func WithWorldOptions(opts ...world.Option) Option {
	return func(s *settings) { s.worldOpts = append(s.worldOpts, opts...) }
}

// WithNAP 是否由本节点的定时器结束动画。服务端默认开启，客户端默认关闭。
func WithNAP(enabled bool) Option {
	return func(s *settings) { s.nap, s.napSet = enabled, true }
}

func WithMetrics(m Metrics) Option {
	return func(s *settings) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithMaxLead 服务端：超过当前步 n 以上的意图被丢弃
func WithMaxLead(n uint64) Option {
	return func(s *settings) { s.maxLead = n }
}

// WithReduceLag 服务端：压缩目标 = 最小确认步 - n
func WithReduceLag(n uint64) Option {
	return func(s *settings) { s.reduceLag = n }
}

// WithMaxHistory 服务端：历史超过 n 步时无视确认强制压缩，0 表示不限制
func WithMaxHistory(n int) Option {
	return func(s *settings) { s.maxHistory = n }
}

// WithRateLimit 服务端：每个客户端的意图速率限制
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(s *settings) { s.limit, s.burst = limit, burst }
}

func newSettings(napDefault bool, opts []Option) settings {
	s := settings{
		config: config{
			log:     zap.NewNop(),
			now:     time.Now,
			metrics: nopMetrics{},
		},
		maxLead:   DefaultMaxLead,
		reduceLag: DefaultReduceLag,
		limit:     rate.Inf,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if !s.napSet {
		s.nap = napDefault
	}
	return s
}
