package reconcile

import "time"

// Metrics 协议事件计数，由宿主实现（如房间统计）
type Metrics interface {
	IntentAccepted()
	IntentRewritten()
	IntentDropped()
	RateLimited()
	SpliceSent()
	Reduced()
	Synced()
	NapStep()
	Applied(d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) IntentAccepted()       {}
func (nopMetrics) IntentRewritten()      {}
func (nopMetrics) IntentDropped()        {}
func (nopMetrics) RateLimited()          {}
func (nopMetrics) SpliceSent()           {}
func (nopMetrics) Reduced()              {}
func (nopMetrics) Synced()               {}
func (nopMetrics) NapStep()              {}
func (nopMetrics) Applied(time.Duration) {}
