package commands

import (
	"clocksync/config"
	"clocksync/datastore/leveldb"
	"clocksync/discovery"
	"clocksync/net/dgram"
	"clocksync/swarm/coordinator"
	"clocksync/telemetry"
	"context"
	"net"
	"os"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

// coordinatorStatus feeds the status server.
type coordinatorStatus struct {
	c *coordinator.Coordinator
}

func (s coordinatorStatus) Health() any {
	return map[string]any{
		"role":  telemetry.RoleCoordinator,
		"id":    s.c.ID.String(),
		"addr":  s.c.LocalAddr().String(),
		"peers": s.c.Registry.Len(),
	}
}

func (s coordinatorStatus) Peers() any {
	return s.c.Registry.Snapshot()
}

func RunCoordinator(ctx context.Context, cfg *config.Config, version string) {
	telemetry.SetBuildInfo(version, telemetry.RoleCoordinator)

	conn, err := dgram.Listen(cfg.Coordinator.Listen)
	if err != nil {
		log.Fatalf("Failed to create coordinator socket: %v", err)
	}

	var opts []coordinator.Option
	if cfg.Coordinator.PeerIndexPath != "" {
		pidx, err := leveldb.NewPeerIndex(cfg.Coordinator.PeerIndexPath)
		if err != nil {
			log.Fatalf("Failed to open peer index: %v", err)
		}
		defer pidx.Close()
		opts = append(opts, coordinator.WithPeerIndex(pidx))
	}

	c := coordinator.New(cfg, conn, opts...)

	wg, cctx := errgroup.WithContext(ctx)

	if cfg.Coordinator.StatusListen != "" {
		status := telemetry.NewStatusServer(cfg.Coordinator.StatusListen, coordinatorStatus{c: c})
		c.AddSnapshotListener(func(live []coordinator.Member) {
			status.Publish(live)
		})
		wg.Go(func() error {
			return status.Serve(cctx)
		})
	}

	if cfg.Coordinator.AdvertiseMDNS {
		instance, err := os.Hostname()
		if err != nil {
			instance = "clocksync"
		}
		port := conn.LocalAddr().(*net.UDPAddr).Port
		if err := discovery.Advertise(cctx, instance, c.ID.String(), port); err != nil {
			log.Errorf("mDNS advertisement disabled: %v", err)
		}
	}

	wg.Go(func() error {
		return c.Run(cctx)
	})

	if err := wg.Wait(); err != nil {
		log.Fatalf("Coordinator failed: %v", err)
	}
	log.Info("Coordinator stopped")
}
