package peer

import (
	"clocksync/datamodel/peer"
	"slices"
	"strings"
	"sync/atomic"
)

// Table is the peer's copy of the coordinator's last snapshot, keyed by
// display name. Readers never block: a snapshot swaps in a whole new map.
type Table struct {
	records atomic.Pointer[map[string]peer.Record]
}

// Replace discards the current contents in favour of records. Entries sharing
// a name alias each other and the last one wins.
func (t *Table) Replace(records []peer.Record) {
	m := make(map[string]peer.Record, len(records))
	for _, r := range records {
		m[r.Name] = r
	}
	t.records.Store(&m)
}

func (t *Table) Get(name string) (peer.Record, bool) {
	p := t.records.Load()
	if p == nil {
		return peer.Record{}, false
	}
	r, ok := (*p)[name]
	return r, ok
}

// All returns every record sorted by name.
func (t *Table) All() []peer.Record {
	p := t.records.Load()
	if p == nil {
		return nil
	}
	out := make([]peer.Record, 0, len(*p))
	for _, r := range *p {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b peer.Record) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

func (t *Table) Len() int {
	if p := t.records.Load(); p != nil {
		return len(*p)
	}
	return 0
}
