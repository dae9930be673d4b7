package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"zscan/internal/core/orchestrator"
	"zscan/internal/pkg/logger"

	_ "zscan/internal/core/probe/icmpecho"
	_ "zscan/internal/core/probe/tcpsyn"
	_ "zscan/internal/core/probe/udp"
)

func newScanCmd() *cobra.Command {
	var (
		probeModule  string
		rate         float64
		senders      int
		shardNum     int
		totalShards  int
		targetPorts  []int
		targetsFile  string
		blocklist    string
		allowlist    string
		iface        string
		sourceIP     string
		sourceMAC    string
		gatewayMAC   string
		dryRun       bool
		outputType   string
		outputPath   string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a scan to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if probeModule != "" {
				cfg.Scan.ProbeModule = probeModule
			}
			if rate > 0 {
				cfg.Scan.Rate = rate
			}
			if senders > 0 {
				cfg.Scan.Senders = senders
			}
			cfg.Scan.ShardNum = shardNum
			if totalShards > 0 {
				cfg.Scan.TotalShards = totalShards
			}
			if len(targetPorts) > 0 {
				cfg.Scan.TargetPorts = toUint16Slice(targetPorts)
			}
			if targetsFile != "" {
				cfg.Scan.TargetsFile = targetsFile
			}
			if blocklist != "" {
				cfg.Scan.BlocklistFile = blocklist
			}
			if allowlist != "" {
				cfg.Scan.AllowlistFile = allowlist
			}
			if iface != "" {
				cfg.Network.Interface = iface
			}
			if sourceIP != "" {
				cfg.Network.SourceIP = sourceIP
			}
			if sourceMAC != "" {
				cfg.Network.SourceMAC = sourceMAC
			}
			if gatewayMAC != "" {
				cfg.Network.GatewayMAC = gatewayMAC
			}
			if outputType != "" {
				cfg.Output.Type = outputType
			}
			if outputPath != "" {
				cfg.Output.Path = outputPath
			}
			cfg.Scan.DryRun = cfg.Scan.DryRun || dryRun

			if _, err := logger.InitLogger(cfg.Log); err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}

			return orchestrator.Run(cfg)
		},
	}

	cmd.Flags().StringVar(&probeModule, "probe-module", "", "probe module name (see zscan modules)")
	cmd.Flags().Float64Var(&rate, "rate", 0, "target packets per second across all senders")
	cmd.Flags().IntVar(&senders, "senders", 0, "number of sender threads")
	cmd.Flags().IntVar(&shardNum, "shard", 0, "this machine's shard index")
	cmd.Flags().IntVar(&totalShards, "total-shards", 0, "total number of shards across all machines")
	cmd.Flags().IntSliceVar(&targetPorts, "port", nil, "destination port(s) to probe")
	cmd.Flags().StringVar(&targetsFile, "targets-file", "", "file of CIDR ranges defining the target space")
	cmd.Flags().StringVar(&blocklist, "blocklist-file", "", "file of CIDR ranges to exclude (stored in the config; not subtracted from the target set)")
	cmd.Flags().StringVar(&allowlist, "allowlist-file", "", "file of CIDR ranges to restrict scanning to")
	cmd.Flags().StringVar(&iface, "interface", "", "network interface to send/receive on")
	cmd.Flags().StringVar(&sourceIP, "source-ip", "", "source IP address for outgoing probes")
	cmd.Flags().StringVar(&sourceMAC, "source-mac", "", "source MAC address")
	cmd.Flags().StringVar(&gatewayMAC, "gateway-mac", "", "gateway MAC address")
	cmd.Flags().BoolVar(&dryRun, "dryrun", false, "build packets but don't send or capture")
	cmd.Flags().StringVar(&outputType, "output-type", "", "csv, jsonl, sql, or mongo")
	cmd.Flags().StringVar(&outputPath, "output", "", "output file path (csv/jsonl)")

	return cmd
}

func toUint16Slice(ports []int) []uint16 {
	out := make([]uint16, len(ports))
	for i, p := range ports {
		out[i] = uint16(p)
	}
	return out
}
