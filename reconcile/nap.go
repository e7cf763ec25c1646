package reconcile

import (
	"regexp"
	"strings"
	"time"

	"timewarp/anim"
)

var (
	animationPathRe = regexp.MustCompile(`^/entities/([^/]+)/position/animation/(x|y)$`)
	// 动画路径的祖先容器：整体替换它们会改变实体上的动画集合
	animationParentRe = regexp.MustCompile(`^/entities/([^/]+)(/position(/animation)?)?$`)
	alivePathRe       = regexp.MustCompile(`^/entities/([^/]+)/isAlive$`)
)

type napTimer struct {
	timer *time.Timer
	token uint64
}

// nap 动画结束定时器，按动画路径索引。所有方法在节点锁内调用。
type nap struct {
	now    func() time.Time
	fire   func(path string, token uint64)
	timers map[string]napTimer
	seq    uint64
}

func newNap(now func() time.Time, fire func(path string, token uint64)) *nap {
	return &nap{now: now, fire: fire, timers: make(map[string]napTimer)}
}

// arm 为动画设置单次定时器，同一路径上已有的定时器先取消
func (n *nap) arm(path string, a anim.Animation) {
	n.cancel(path)
	n.seq++
	token := n.seq
	t := time.AfterFunc(anim.Remaining(a, n.now()), func() { n.fire(path, token) })
	n.timers[path] = napTimer{timer: t, token: token}
}

// cancel 幂等：路径不存在或已触发时什么也不做
func (n *nap) cancel(path string) {
	if t, ok := n.timers[path]; ok {
		t.timer.Stop()
		delete(n.timers, path)
	}
}

func (n *nap) cancelEntity(id string) {
	prefix := "/entities/" + id + "/"
	for path := range n.timers {
		if strings.HasPrefix(path, prefix) {
			n.cancel(path)
		}
	}
}

func (n *nap) cancelAll() {
	for path := range n.timers {
		n.cancel(path)
	}
}

// take 校验触发的定时器仍然有效，并将其移除
func (n *nap) take(path string, token uint64) bool {
	t, ok := n.timers[path]
	if !ok || t.token != token {
		return false
	}
	delete(n.timers, path)
	return true
}

func (n *nap) pending() int { return len(n.timers) }
