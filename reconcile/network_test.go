package reconcile_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"timewarp/reconcile"
)

type packet struct {
	from string
	data []byte
}

// memNet 内存网络：每个方向按 FIFO 排队，由测试显式投递
type memNet struct {
	mu      sync.Mutex
	server  *reconcile.Server
	clients map[string]*reconcile.Client
	order   []string
	up      []packet
	down    map[string][][]byte
}

func newMemNet(opts ...reconcile.Option) *memNet {
	n := &memNet{
		clients: make(map[string]*reconcile.Client),
		down:    make(map[string][][]byte),
	}
	n.server = reconcile.NewServer(n, opts...)
	return n
}

func (n *memNet) Send(clientID string, data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[clientID] = append(n.down[clientID], data)
}

func (n *memNet) Clients() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.order...)
}

type uplink struct {
	net *memNet
	id  string
}

func (u uplink) Send(data []byte) {
	u.net.mu.Lock()
	defer u.net.mu.Unlock()
	u.net.up = append(u.net.up, packet{from: u.id, data: data})
}

func (n *memNet) join(id string, opts ...reconcile.Option) *reconcile.Client {
	c := reconcile.NewClient(id, uplink{net: n, id: id}, opts...)
	n.mu.Lock()
	n.clients[id] = c
	n.order = append(n.order, id)
	n.mu.Unlock()
	c.Sync()
	return c
}

func (n *memNet) deliverUp() int {
	n.mu.Lock()
	pending := n.up
	n.up = nil
	n.mu.Unlock()
	for _, p := range pending {
		_ = n.server.HandleMessage(p.from, p.data)
	}
	return len(pending)
}

func (n *memNet) deliverDown() int {
	n.mu.Lock()
	pending := n.down
	n.down = make(map[string][][]byte)
	order := append([]string(nil), n.order...)
	n.mu.Unlock()
	count := 0
	for _, id := range order {
		for _, data := range pending[id] {
			_ = n.clients[id].HandleMessage(data)
			count++
		}
	}
	return count
}

func (n *memNet) flush() {
	for n.deliverUp()+n.deliverDown() > 0 {
	}
}

func (n *memNet) requireConverged(t *testing.T) {
	t.Helper()
	want := n.server.View()
	for _, id := range n.order {
		c := n.clients[id]
		got := c.View()
		require.Equal(t, want.CurrentStep, got.CurrentStep, "client %s", id)
		require.Equal(t, want.Steps, got.Steps, "client %s", id)
		require.Equal(t, n.server.World().Snapshot(), c.World().Snapshot(), "client %s", id)
	}
}
