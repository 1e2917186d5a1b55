package commands

import (
	"clocksync/config"
	"clocksync/discovery"
	"clocksync/net/dgram"
	"clocksync/protocol"
	"clocksync/swarm/peer"
	"clocksync/telemetry"
	"clocksync/ui"
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

const browseTimeout = 5 * time.Second

// peerStatus feeds the status server.
type peerStatus struct {
	p *peer.Peer
}

func (s peerStatus) Health() any {
	return s.p.Status()
}

func (s peerStatus) Peers() any {
	return s.p.Table.All()
}

// coordinatorAddress returns host:port for the configured coordinator, adding
// the default port if none is given, or browses for one.
func coordinatorAddress(ctx context.Context, configured string) (string, error) {
	if configured == "" {
		found, err := discovery.Browse(ctx, browseTimeout)
		if err != nil {
			return "", err
		}
		return found.Address, nil
	}

	if _, _, err := net.SplitHostPort(configured); err != nil {
		return net.JoinHostPort(configured, strconv.Itoa(protocol.Port)), nil
	}
	return configured, nil
}

func RunPeer(ctx context.Context, cfg *config.Config, tui bool, version string) {
	telemetry.SetBuildInfo(version, telemetry.RolePeer)

	address, err := coordinatorAddress(ctx, cfg.Peer.Coordinator)
	if err != nil {
		log.Fatalf("No coordinator: %v", err)
	}

	udpConns, err := dgram.DialDualStack(ctx, address)
	if err != nil {
		log.Fatalf("Failed to connect to coordinator: %v", err)
	}
	conns := make([]peer.Conn, len(udpConns))
	for i, c := range udpConns {
		conns[i] = c
	}

	name := cfg.Peer.Name
	if name == "" {
		name, _ = os.Hostname()
	}
	rate := peer.ConstantRate(cfg.Peer.Rate)
	host := peer.NewWallClockHost(name, rate)

	p := peer.New(cfg, host, rate, conns)
	log.Infof("Peer %q syncing with %s every %v", host.DisplayName(), address, cfg.Peer.SyncInterval)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wg, cctx := errgroup.WithContext(ctx)

	if cfg.Peer.StatusListen != "" {
		status := telemetry.NewStatusServer(cfg.Peer.StatusListen, peerStatus{p: p})
		p.AddDriftListener(func(reports []peer.DriftReport) {
			status.Publish(reports)
		})
		wg.Go(func() error {
			return status.Serve(cctx)
		})
	}

	if tui {
		// Log lines would tear up the screen
		log.SetOutput(io.Discard)

		prog := ui.NewProgram()
		p.AddDriftListener(ui.Feed(prog, p))

		wg.Go(func() error {
			// Quitting the TUI stops the peer
			defer cancel()
			_, err := prog.Run()
			return err
		})
		go func() {
			<-cctx.Done()
			prog.Quit()
		}()
	}

	wg.Go(func() error {
		return p.Run(cctx)
	})

	if err := wg.Wait(); err != nil {
		log.SetOutput(os.Stderr)
		log.Fatalf("Peer failed: %v", err)
	}
	log.Info("Peer stopped")
}
