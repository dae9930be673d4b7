// Package orchestrator wires one scan run together: parses targets
// and blocklist/allowlist into an iterator+oracle, builds one shard
// per sender thread, starts the receiver, runs every sender to
// completion, then drains the receiver through its cooldown window
// (spec.md §2 "Lifecycle", §5 "Concurrency model").
package orchestrator

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"zscan/internal/config"
	"zscan/internal/core/blocklist"
	"zscan/internal/core/iterator"
	"zscan/internal/core/monitor"
	"zscan/internal/core/prf"
	"zscan/internal/core/probe"
	"zscan/internal/core/ratecontrol"
	"zscan/internal/core/receiver"
	"zscan/internal/core/sender"
	"zscan/internal/core/shard"
	"zscan/internal/core/statusserver"
	"zscan/internal/output"
	"zscan/internal/pkg/logger"
	"zscan/internal/telemetry"
	"zscan/internal/transport"
)

// Run executes one full scan according to cfg and returns once every
// sender thread is done and the receiver has finished draining.
func Run(cfg *config.Config) error {
	module, ok := probe.Get(cfg.Scan.ProbeModule)
	if !ok {
		return fmt.Errorf("unknown probe module %q (available: %v)", cfg.Scan.ProbeModule, probe.Names())
	}
	if err := module.GlobalInit(cfg.Scan.ProbeArgs); err != nil {
		return fmt.Errorf("probe module init: %w", err)
	}
	defer module.Close()

	oracle, err := buildOracle(cfg)
	if err != nil {
		return fmt.Errorf("building target oracle: %w", err)
	}

	params, err := iterator.NewParams(oracle.CountAllowed() * uint64(len(cfg.Scan.TargetPorts)))
	if err != nil {
		return fmt.Errorf("building iterator params: %w", err)
	}

	var key prf.Key
	if _, err := rand.Read(key[:]); err != nil {
		return fmt.Errorf("generating validation key: %w", err)
	}

	sink, err := output.New(cfg.Output.Type, output.Config{
		Path: cfg.Output.Path, SQLDSN: cfg.Output.SQLDSN,
		MongoURI: cfg.Output.MongoURI, MongoDatabase: cfg.Output.MongoDatabase, MongoCollection: cfg.Output.MongoCollection,
	})
	if err != nil {
		return fmt.Errorf("opening output sink: %w", err)
	}
	defer sink.Close()

	srcIP := net.ParseIP(cfg.Network.SourceIP)
	srcMAC, _ := net.ParseMAC(cfg.Network.SourceMAC)
	gwMAC, _ := net.ParseMAC(cfg.Network.GatewayMAC)

	global := ratecontrol.NewGlobalRate(cfg.Scan.Rate)
	installRateSignals(global)

	var sendTransport transport.Sender
	var recvTransport transport.Receiver
	if cfg.Scan.DryRun {
		sendTransport = transport.NewDryRunSender(os.Stdout)
		recvTransport = transport.NewDryRunReceiver()
	} else {
		sendTransport, err = transport.NewAFPacketSender(cfg.Network.Interface)
		if err != nil {
			return fmt.Errorf("opening send socket: %w", err)
		}
		recvTransport, err = transport.NewPCAPReceiver(cfg.Network.Interface, module.PCAPFilter(), module.MaxPacketLength())
		if err != nil {
			sendTransport.Close()
			return fmt.Errorf("opening capture: %w", err)
		}
	}
	defer sendTransport.Close()
	defer recvTransport.Close()

	ports := probe.PortsConfig{
		SourcePortFirst: cfg.Scan.SourcePortFirst,
		SourcePortLast:  cfg.Scan.SourcePortLast,
		TargetPorts:     cfg.Scan.TargetPorts,
	}

	var responsesSeen uint64

	stopReceiver := make(chan struct{})
	var recvWG sync.WaitGroup
	recvWG.Add(1)
	go func() {
		defer recvWG.Done()
		dedup := receiver.NewDedup()
		_ = receiver.Loop(receiver.Config{
			Receiver: recvTransport, Module: module, Key: key, SrcIP: srcIP,
			PacketStreams: cfg.Scan.PacketStreams, Ports: ports, Dedup: dedup,
			Cooldown: cfg.Scan.CooldownSecs,
			Emit: func(rec probe.Record) {
				atomic.AddUint64(&responsesSeen, 1)
				_ = sink.Write(rec)
			},
		}, stopReceiver)
	}()

	startedAt := time.Now()
	logger.LogSystemEvent("orchestrator", "scan_start", "scan starting", logger.InfoLevel, nil)

	shards := make([]*shard.Shard, 0, cfg.Scan.Senders)
	var shardsMu sync.Mutex
	progress := func() monitor.ScanProgress {
		shardsMu.Lock()
		defer shardsMu.Unlock()
		p := monitor.ScanProgress{Elapsed: time.Since(startedAt), ResponsesSeen: atomic.LoadUint64(&responsesSeen)}
		for _, sh := range shards {
			st := sh.Stats()
			p.TargetsScanned += st.TargetsScanned
			p.PacketsSent += st.PacketsSent
			p.PacketsFailed += st.PacketsFailed
		}
		if p.Elapsed > 0 {
			p.Rate = float64(p.PacketsSent) / p.Elapsed.Seconds()
		}
		return p
	}

	if cfg.Server != nil && cfg.Server.Enabled {
		srv := statusserver.New(cfg.Server, progress)
		srv.Start()
		defer srv.Stop(5 * time.Second)
	}

	var telemetryPub *telemetry.Publisher
	if cfg.Telemetry != nil && cfg.Telemetry.Enabled {
		telemetryPub, err = telemetry.NewPublisher(cfg.Telemetry.RedisURL, cfg.Telemetry.Channel)
		if err != nil {
			logger.LogSystemEvent("orchestrator", "telemetry_error", err.Error(), logger.WarnLevel, nil)
		} else {
			telemetryCtx, cancelTelemetry := context.WithCancel(context.Background())
			defer cancelTelemetry()
			defer telemetryPub.Close()
			go telemetryPub.Run(telemetryCtx, cfg.Telemetry.Interval, func() telemetry.Snapshot {
				p := progress()
				return telemetry.Snapshot{
					ShardID: cfg.Scan.ShardNum, TargetsScanned: p.TargetsScanned,
					PacketsSent: p.PacketsSent, PacketsFailed: p.PacketsFailed,
					ResponsesSeen: p.ResponsesSeen, Rate: p.Rate, Timestamp: time.Now(),
				}
			})
		}
	}

	// stopSenders is shared by every sender thread; it is closed on
	// max-runtime elapse or SIGINT/SIGTERM (spec.md §4.7 "max-runtime:
	// the orchestrator signals all senders to stop", §6 "orderly
	// SIGINT/TERM shutdown"), or once after every sender finishes
	// naturally, to let the signal watcher below exit.
	stopSenders := make(chan struct{})
	var stopOnce sync.Once
	stopAllSenders := func() { stopOnce.Do(func() { close(stopSenders) }) }

	if cfg.Scan.MaxRuntime > 0 {
		maxRuntimeTimer := time.AfterFunc(cfg.Scan.MaxRuntime, func() {
			logger.LogSystemEvent("orchestrator", "max_runtime", "max runtime elapsed, stopping senders", logger.InfoLevel, nil)
			stopAllSenders()
		})
		defer maxRuntimeTimer.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.LogSystemEvent("orchestrator", "signal", fmt.Sprintf("received %s, stopping senders", sig), logger.InfoLevel, nil)
			stopAllSenders()
		case <-stopSenders:
		}
	}()
	defer signal.Stop(sigCh)

	var senderWG sync.WaitGroup
	for i := 0; i < cfg.Scan.Senders; i++ {
		sh, err := shard.New(shard.Config{
			Params: params, Ports: cfg.Scan.TargetPorts,
			ShardIndex: cfg.Scan.ShardNum, TotalShards: cfg.Scan.TotalShards,
			ThreadIndex: i, SendersPerShard: cfg.Scan.Senders,
			Oracle: oracle, MaxTargets: cfg.Scan.MaxTargets, MaxPackets: cfg.Scan.MaxPackets,
			ThreadID: i,
		})
		if err != nil {
			return fmt.Errorf("building shard %d: %w", i, err)
		}
		shardsMu.Lock()
		shards = append(shards, sh)
		shardsMu.Unlock()

		rc := ratecontrol.New(global, cfg.Scan.Senders, cfg.Scan.PacketStreams)

		senderWG.Add(1)
		go func(threadID int, sh *shard.Shard, rc *ratecontrol.Controller) {
			defer senderWG.Done()
			if err := sender.Loop(sender.Config{
				ThreadID: threadID, Shard: sh, Module: module, Sender: sendTransport, Rate: rc,
				SrcMAC: srcMAC, GwMAC: gwMAC, SrcIP: srcIP, TTL: cfg.Scan.ProbeTTL,
				PacketStreams: cfg.Scan.PacketStreams, BatchSize: cfg.Scan.BatchSize,
				Ports: ports, Key: key,
			}, stopSenders); err != nil {
				logger.LogSystemEvent("sender", "error", err.Error(), logger.ErrorLevel, nil)
			}
		}(i, sh, rc)
	}

	senderWG.Wait()
	stopAllSenders()
	close(stopReceiver)
	recvWG.Wait()

	monitor.PrintSummary(progress())
	return nil
}

func buildOracle(cfg *config.Config) (blocklist.Oracle, error) {
	if cfg.Scan.AllowlistFile != "" {
		cidrs, err := readLines(cfg.Scan.AllowlistFile)
		if err != nil {
			return nil, err
		}
		return blocklist.NewCIDRSet(cidrs)
	}
	if cfg.Scan.TargetsFile != "" {
		cidrs, err := readLines(cfg.Scan.TargetsFile)
		if err != nil {
			return nil, err
		}
		return blocklist.NewCIDRSet(cidrs)
	}
	return blocklist.NewAllowAllFromCIDR("0.0.0.0/0")
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			line := string(data[start:i])
			if line != "" && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			if line != "" {
				lines = append(lines, line)
			}
			start = i + 1
		}
	}
	if start < len(data) {
		if line := string(data[start:]); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// installRateSignals lets an operator nudge the scan rate up or down
// while it runs: SIGUSR1 bumps +5%, SIGUSR2 bumps -5% (spec.md §4.4
// "Live rate control").
func installRateSignals(global *ratecontrol.GlobalRate) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGUSR1:
				global.Bump(1.05)
			case syscall.SIGUSR2:
				global.Bump(0.95)
			}
		}
	}()
}
