package commands

import (
	"clocksync/config"
	"clocksync/datastore/leveldb"
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// RunInfo lists every peer recorded in the coordinator's peer index. The
// coordinator must not be running, LevelDB allows a single process only.
func RunInfo(ctx context.Context, cfg *config.Config) {
	if cfg.Coordinator.PeerIndexPath == "" {
		log.Fatal("coordinator.peer_index is not set, nothing to show")
	}

	pidx, err := leveldb.NewPeerIndex(cfg.Coordinator.PeerIndexPath)
	if err != nil {
		log.Fatalf("Failed to open peer index: %v", err)
	}
	defer pidx.Close()

	peers, err := pidx.Enumerate()
	if err != nil {
		log.Errorf("Failed to enumerate peer index: %v", err)
		return
	}

	log.Infof("Peer index: %d peers known", len(peers))
	for _, md := range peers {
		log.Infof("Peer: %q @ %s, updates: %d, first seen: %s, last seen: %v ago, latency: %.1fms, offset: %.1fms, rate: %g",
			md.Record.Name, md.Address, md.Updates,
			md.FirstSeen.Format(time.RFC3339), time.Since(md.LastSeen).Round(time.Second),
			md.Record.Latency.Milliseconds(), md.Record.Offset.Milliseconds(), md.Record.Rate)
	}
}
