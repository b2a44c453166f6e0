package memberlist

import (
    "encoding/json"
    "fmt"
    "sync"
    "time"

    "github.com/hashicorp/memberlist"

    base "github.com/amirimatin/go-readiness/pkg/membership"
)

// eventDelegate forwards memberlist callbacks to the node's event channel.
// NotifyLeave fires for graceful leaves and detected failures alike.
type eventDelegate struct{ node *Node }

func (d *eventDelegate) NotifyJoin(m *memberlist.Node)   { d.forward(base.EventJoin, m) }
func (d *eventDelegate) NotifyLeave(m *memberlist.Node)  { d.forward(base.EventLeave, m) }
func (d *eventDelegate) NotifyUpdate(m *memberlist.Node) { d.forward(base.EventUpdate, m) }

func (d *eventDelegate) forward(t base.EventType, m *memberlist.Node) {
    if m == nil { return }
    d.node.publish(base.Event{Type: t, Member: toMember(m), At: time.Now()})
}

// metaDelegate serves the local node metadata as JSON.
type metaDelegate struct {
    mu   sync.RWMutex
    meta []byte
}

func withRoles(extra map[string]string, roles base.RoleSet) map[string]string {
    meta := make(map[string]string, len(extra)+1)
    for k, v := range extra { meta[k] = v }
    meta[base.MetaRoles] = roles.String()
    return meta
}

func decodeMeta(b []byte) map[string]string {
    meta := map[string]string{}
    if len(b) > 0 { _ = json.Unmarshal(b, &meta) }
    return meta
}

// set rejects metadata memberlist would refuse to gossip.
func (d *metaDelegate) set(meta map[string]string) error {
    b, err := json.Marshal(meta)
    if err != nil { return err }
    if len(b) > memberlist.MetaMaxSize {
        return fmt.Errorf("memberlist: node metadata is %d bytes, limit %d", len(b), memberlist.MetaMaxSize)
    }
    d.mu.Lock()
    d.meta = b
    d.mu.Unlock()
    return nil
}

func (d *metaDelegate) NodeMeta(limit int) []byte {
    d.mu.RLock()
    defer d.mu.RUnlock()
    if len(d.meta) > limit { return nil }
    return d.meta
}

func (d *metaDelegate) NotifyMsg([]byte)                {}
func (d *metaDelegate) GetBroadcasts(int, int) [][]byte { return nil }
func (d *metaDelegate) LocalState(bool) []byte          { return nil }
func (d *metaDelegate) MergeRemoteState([]byte, bool)   {}
