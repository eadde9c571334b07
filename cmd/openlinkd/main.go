/*
Copyright 2024 Raywonder, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command openlinkd is the signaling server and domain broker process:
// it wires every package under lib/ into one HTTP listener and runs
// the background reapers that keep sessions, domains, and peers from
// accumulating state forever.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/raywonder/openlink/lib/api"
	"github.com/raywonder/openlink/lib/config"
	"github.com/raywonder/openlink/lib/defaults"
	"github.com/raywonder/openlink/lib/domainbroker"
	"github.com/raywonder/openlink/lib/execchannel"
	"github.com/raywonder/openlink/lib/existence"
	"github.com/raywonder/openlink/lib/identity"
	"github.com/raywonder/openlink/lib/metrics"
	"github.com/raywonder/openlink/lib/monitor"
	"github.com/raywonder/openlink/lib/peer"
	"github.com/raywonder/openlink/lib/portalloc"
	"github.com/raywonder/openlink/lib/proxyconfig"
	"github.com/raywonder/openlink/lib/session"
	"github.com/raywonder/openlink/lib/signaling"
	"github.com/raywonder/openlink/lib/utils"
)

func main() {
	app := utils.InitCLIParser("openlinkd", "Remote-desktop rendezvous signaling server and domain broker.")
	configPath := app.Flag("config", "Path to the YAML configuration file.").Short('c').Default("/etc/openlink/openlinkd.yaml").String()
	debug := app.Flag("debug", "Enable debug-level logging.").Short('d').Bool()

	if _, err := app.Parse(os.Args[1:]); err != nil {
		utils.FatalError(trace.Wrap(err))
	}

	level := logrus.InfoLevel
	if *debug {
		level = logrus.DebugLevel
	}
	utils.InitLogger(utils.LoggingForDaemon, level)
	log := logrus.WithField(trace.Component, "openlinkd")

	cfg, err := config.Load(*configPath)
	if err != nil {
		utils.FatalError(trace.Wrap(err, "loading configuration"))
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil && !*debug {
		logrus.SetLevel(lvl)
	}

	if err := run(cfg, log); err != nil {
		utils.FatalError(err)
	}
}

// run wires every component and blocks until the process receives a
// termination signal or the listener fails permanently.
func run(cfg *config.Config, log logrus.FieldLogger) error {
	rec, err := identity.Load(cfg.IdentityFilePath)
	if err != nil {
		return trace.Wrap(err, "loading identity record")
	}
	log.Infof("identity machine_id=%s", rec.MachineID)

	localChannel, remoteChannel, err := buildExecChannels(cfg, log)
	if err != nil {
		return trace.Wrap(err)
	}

	writer, err := proxyconfig.New(proxyconfig.Config{
		Paths: proxyconfig.Paths{
			Local:  cfg.Proxy.LocalConfigPath,
			Remote: cfg.Proxy.RemoteConfigPath,
		},
		ReloadCommand: cfg.Proxy.ReloadCommand,
		TestCommand:   cfg.Proxy.TestCommand,
		Local:         localChannel,
		Remote:        remoteChannel,
		Log:           log,
	})
	if err != nil {
		return trace.Wrap(err, "constructing proxy config writer")
	}

	allocator, err := portalloc.New(cfg.PortRangeMin, cfg.PortRangeMax)
	if err != nil {
		return trace.Wrap(err, "constructing port allocator")
	}

	// existence.Checker's Registry wants the domain broker's HasFullName,
	// but the broker's own Config requires an existence.Checker: the
	// same forward-reference trick used for the signaling/peer cycle
	// below breaks it here too.
	var broker *domainbroker.Broker
	checker, err := existence.New(existence.Config{
		Registry: brokerLookup{&broker},
		Exec:     localChannel,
		Proxy:    writer,
		Log:      log,
	})
	if err != nil {
		return trace.Wrap(err, "constructing existence checker")
	}

	broker, err = domainbroker.New(domainbroker.Config{
		Allocator:   allocator,
		Proxy:       writer,
		Existence:   checker,
		BaseDomains: cfg.BaseDomains,
		Log:         log,
	})
	if err != nil {
		return trace.Wrap(err, "constructing domain broker")
	}

	registry := session.NewRegistry(cfg.SessionTTL)
	inbox := monitor.New(nil)
	collectors := metrics.New(prometheus.DefaultRegisterer)

	// The signaling dispatcher needs a PeerSource to resolve connection
	// IDs, but the peer manager needs the dispatcher as its
	// InboundHandler: mgrLookup breaks the cycle by resolving the
	// manager pointer lazily, after both are constructed.
	var mgr *peer.Manager
	dispatcher, err := signaling.New(signaling.Config{
		Registry: registry,
		Peers:    mgrLookup{&mgr},
		Log:      log,
	})
	if err != nil {
		return trace.Wrap(err, "constructing signaling dispatcher")
	}

	mgr, err = peer.NewManager(peer.Config{
		BaseDomains: cfg.BaseDomains,
		Handler:     dispatcher,
		Log:         log,
	})
	if err != nil {
		return trace.Wrap(err, "constructing peer manager")
	}

	handler, err := api.NewHandler(api.Config{
		Sessions: registry,
		Peers:    mgr,
		Domains:  broker,
		Monitor:  inbox,
		Log:      log,
	})
	if err != nil {
		return trace.Wrap(err, "constructing control API handler")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startReapers(ctx, cfg.CleanupCadence, registry, broker, mgr, inbox, collectors, log)

	return serveWithRecovery(ctx, cfg, localChannel, mux, log)
}

// buildExecChannels constructs the local and, if configured, remote
// privileged exec channels, per spec §4.A's local/remote execution
// split.
func buildExecChannels(cfg *config.Config, log logrus.FieldLogger) (execchannel.Channel, execchannel.Channel, error) {
	var sudoSecret string
	if cfg.SudoSecretPath != "" {
		data, err := os.ReadFile(cfg.SudoSecretPath)
		if err != nil {
			return nil, nil, trace.Wrap(err, "reading sudo secret file")
		}
		sudoSecret = string(data)
	}
	local, err := execchannel.NewLocalSudoChannel(execchannel.LocalConfig{
		SudoSecret: sudoSecret,
		Log:        log,
	})
	if err != nil {
		return nil, nil, trace.Wrap(err, "constructing local exec channel")
	}

	if cfg.ExecMode != config.ExecModeRemote {
		return local, nil, nil
	}

	remote, err := execchannel.NewRemoteShellChannel(execchannel.RemoteConfig{
		Host:           cfg.Remote.Host,
		Port:           cfg.Remote.Port,
		User:           cfg.Remote.User,
		PrivateKeyPath: cfg.Remote.PrivateKey,
		Log:            log,
	})
	if err != nil {
		return nil, nil, trace.Wrap(err, "constructing remote exec channel")
	}
	return local, remote, nil
}

// startReapers launches the background sweeps that cap the lifetime of
// every in-memory record the process keeps.
func startReapers(ctx context.Context, domainReapPeriod time.Duration, registry *session.Registry, broker *domainbroker.Broker, mgr *peer.Manager, inbox *monitor.Inbox, collectors *metrics.Collectors, log logrus.FieldLogger) {
	go func() {
		ticker := time.NewTicker(defaults.SessionReapPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				for _, s := range registry.ReapExpired(now) {
					log.Debugf("reaped expired session %s", s.ID)
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(domainReapPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				broker.GC(ctx)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(defaults.MonitorStaleAfter)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				inbox.CleanupStale()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(defaults.PeerPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, connID := range mgr.EvictStale(defaults.PeerPingInterval * 3) {
					log.Debugf("evicted stale peer %s", connID)
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collectors.ConnectedPeers.Set(float64(mgr.Count()))
				collectors.ActiveSessions.Set(float64(registry.Len()))
				domains := broker.Snapshot()
				collectors.ActiveDomains.Set(float64(len(domains)))
			}
		}
	}()
}

// serveWithRecovery implements the fatal-recovery ladder from spec §7:
// if the configured bind address is already in use, terminate any
// holder of the port via the privileged exec channel (component A) and
// retry, then fall back to the next port in the configured range, and
// finally run in a client-only degraded mode with no inbound acceptor
// rather than exiting.
func serveWithRecovery(ctx context.Context, cfg *config.Config, exec execchannel.Channel, mux *http.ServeMux, log logrus.FieldLogger) error {
	addr := cfg.BindAddr
	srv := &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.WithError(err).Warnf("bind to %s failed, attempting recovery", addr)
		ln, err = recoverListener(ctx, cfg, exec, log)
	}
	if err != nil {
		log.WithError(err).Error("no bind address available after recovery; running in client-only degraded mode with no inbound acceptor")
		<-ctx.Done()
		return nil
	}
	log.Infof("listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return trace.Wrap(srv.Shutdown(shutdownCtx))
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return trace.Wrap(err)
		}
		return nil
	}
}

// recoverListener first tries to terminate whatever process holds the
// configured bind address via the privileged exec channel and retries
// once, then walks the configured port range looking for a free port on
// the same host.
func recoverListener(ctx context.Context, cfg *config.Config, exec execchannel.Channel, log logrus.FieldLogger) (net.Listener, error) {
	if ln, err := terminateHolderAndRetry(ctx, cfg.BindAddr, exec, log); err == nil {
		return ln, nil
	}

	host, _, err := net.SplitHostPort(cfg.BindAddr)
	if err != nil {
		return nil, trace.Wrap(err, "parsing bind address %v", cfg.BindAddr)
	}
	for port := cfg.PortRangeMin; port <= cfg.PortRangeMax; port++ {
		addr := fmt.Sprintf("%s:%d", host, port)
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			log.Warnf("falling back to %s after original bind address %s was unavailable", addr, cfg.BindAddr)
			return ln, nil
		}
	}
	return nil, trace.ConnectionProblem(nil, "no free port in range %d-%d", cfg.PortRangeMin, cfg.PortRangeMax)
}

// terminateHolderAndRetry asks the privileged exec channel to kill
// whatever process currently holds addr's port, then retries the bind
// once the signal has had a moment to take effect.
func terminateHolderAndRetry(ctx context.Context, addr string, exec execchannel.Channel, log logrus.FieldLogger) (net.Listener, error) {
	_, port, splitErr := net.SplitHostPort(addr)
	if splitErr == nil && exec != nil {
		command := fmt.Sprintf("fuser -k %s/tcp", port)
		if _, execErr := exec.ExecuteLocalPrivileged(ctx, command); execErr != nil {
			log.WithError(execErr).Debugf("failed to signal existing holder of %s", addr)
		}
	}

	time.Sleep(time.Second)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	log.Infof("recovered original bind address %s after terminating prior holder", addr)
	return ln, nil
}

// mgrLookup breaks the construction cycle between the dispatcher, which
// needs a signaling.PeerSource, and the peer manager, which needs the
// dispatcher as its InboundHandler. The same indirection is used by
// lib/signaling and lib/api's own tests.
type mgrLookup struct {
	mgr **peer.Manager
}

func (l mgrLookup) Get(connID string) (*peer.Peer, bool) {
	if *l.mgr == nil {
		return nil, false
	}
	return (*l.mgr).Get(connID)
}

// brokerLookup defers to the domain broker for existence.Registry,
// once it exists; see the comment in run().
type brokerLookup struct {
	broker **domainbroker.Broker
}

func (l brokerLookup) HasFullName(fullName string) (string, bool) {
	if *l.broker == nil {
		return "", false
	}
	return (*l.broker).HasFullName(fullName)
}
