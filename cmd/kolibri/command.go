package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kolibri-swarm/kolibri/genomelog"
	"github.com/kolibri-swarm/kolibri/node"
)

type flags struct {
	seed         uint64
	nodeID       uint32
	listen       int
	listenSet    bool
	peer         string
	genome       string
	bootstrap    string
	verifyGenome bool
	health       bool
	hmacKey      string
	autoLearn    bool
	autoEvolveMs int64
	autoSyncMs   int64
}

func newRootCommand(logger *zap.Logger) *cobra.Command {
	f := &flags{}
	var noAutoLearn bool
	cmd := &cobra.Command{
		Use:   "kolibri",
		Short: "Run a Kolibri swarm node",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.listenSet = cmd.Flags().Changed("listen")
			if noAutoLearn {
				f.autoLearn = false
			}
			runNode(cmd, f, logger)
			return nil
		},
	}

	defaults := node.DefaultConfig()
	cmd.Flags().Uint64Var(&f.seed, "seed", defaults.Seed, "PRNG seed")
	cmd.Flags().Uint32Var(&f.nodeID, "node-id", defaults.NodeID, "this node's numeric id")
	cmd.Flags().IntVar(&f.listen, "listen", 0, "UDP port to listen on (enables the listener)")
	cmd.Flags().StringVar(&f.peer, "peer", "", "single peer address, HOST:PORT")
	cmd.Flags().StringVar(&f.genome, "genome", defaults.GenomePath, "genome log file path")
	cmd.Flags().StringVar(&f.bootstrap, "bootstrap", "", "script file to run once at boot")
	cmd.Flags().BoolVar(&f.verifyGenome, "verify-genome", false, "verify the genome log before opening; exit non-zero on corruption")
	cmd.Flags().BoolVar(&f.health, "health", false, "emit one JSON health line and exit")
	cmd.Flags().StringVar(&f.hmacKey, "hmac-key", "", "HMAC key: inline value, or @path to a key file")
	cmd.Flags().BoolVar(&f.autoLearn, "auto-learn", defaults.AutoLearn, "enable the autonomous evolve/sync loop")
	cmd.Flags().BoolVar(&noAutoLearn, "no-auto-learn", false, "disable the autonomous evolve/sync loop")
	cmd.Flags().Int64Var(&f.autoEvolveMs, "auto-evolve-ms", defaults.AutoEvolveMs, "milliseconds between automatic evolutionary ticks")
	cmd.Flags().Int64Var(&f.autoSyncMs, "auto-sync-ms", defaults.AutoSyncMs, "milliseconds between automatic gossip broadcasts")

	return cmd
}

func buildConfig(f *flags) (node.Config, error) {
	cfg := node.DefaultConfig()
	cfg.Seed = f.seed
	cfg.NodeID = f.nodeID
	cfg.GenomePath = f.genome
	cfg.HMACKeyArg = f.hmacKey
	cfg.AutoLearn = f.autoLearn
	cfg.AutoEvolveMs = f.autoEvolveMs
	cfg.AutoSyncMs = f.autoSyncMs

	if f.listenSet {
		cfg.ListenEnabled = true
		cfg.ListenPort = f.listen
	}

	if f.peer != "" {
		host, portStr, err := net.SplitHostPort(f.peer)
		if err != nil {
			return cfg, fmt.Errorf("--peer must be HOST:PORT: %w", err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return cfg, fmt.Errorf("--peer port must be numeric: %w", err)
		}
		cfg.PeerEnabled = true
		cfg.PeerHost = host
		cfg.PeerPort = port
	}
	return cfg, nil
}

// healthReport is the exact --health JSON shape from spec.md 6.
type healthReport struct {
	Status string      `json:"status"`
	NodeID uint32      `json:"node_id"`
	Seed   uint64      `json:"seed"`
	Genome genomeField `json:"genome"`
}

type genomeField struct {
	Path   string `json:"path"`
	Origin string `json:"origin"`
	State  string `json:"state"`
}

func runNode(cmd *cobra.Command, f *flags, logger *zap.Logger) {
	cfg, err := buildConfig(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if f.verifyGenome {
		key, _, kerr := node.LoadKey(f.hmacKey)
		if kerr != nil {
			fmt.Fprintln(os.Stderr, kerr)
			os.Exit(1)
		}
		status, verr := genomelog.Verify(cfg.GenomePath, key)
		if verr != nil {
			fmt.Fprintln(os.Stderr, verr)
			os.Exit(2)
		}
		if status == genomelog.StatusCorrupt {
			fmt.Fprintf(os.Stderr, "genome log corrupt: %s\n", cfg.GenomePath)
			os.Exit(2)
		}
	}

	if f.health {
		emitHealth(cfg)
		return
	}

	rt, err := node.New(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer rt.Close()

	if f.bootstrap != "" {
		runBootstrap(rt, f.bootstrap)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		// second signal aborts immediately instead of waiting for the
		// current beat to finish.
		second := make(chan os.Signal, 1)
		signal.Notify(second, syscall.SIGINT, syscall.SIGTERM)
		<-second
		os.Exit(1)
	}()

	var in io.Reader
	if isTerminal(os.Stdin) {
		in = os.Stdin
	}

	if err := rt.Run(ctx, in, os.Stdout); err != nil {
		logger.Error("runtime exited with error", zap.Error(err))
		os.Exit(1)
	}
}

// buildHealthReport computes the --health JSON body and the process exit
// code it implies (spec.md 6: exit 0 if state is ok, 1 otherwise) without
// touching the process itself, so it can be exercised directly by tests.
func buildHealthReport(cfg node.Config) (healthReport, int) {
	key, origin, err := node.LoadKey(cfg.HMACKeyArg)
	report := healthReport{NodeID: cfg.NodeID, Seed: cfg.Seed, Genome: genomeField{Path: cfg.GenomePath, Origin: origin.String()}}
	if err != nil {
		report.Status = "error"
		report.Genome.State = "error"
		return report, 1
	}
	status, verr := genomelog.Verify(cfg.GenomePath, key)
	report.Genome.State = status.String()
	if verr != nil || status != genomelog.StatusOk {
		report.Status = "error"
		return report, 1
	}
	report.Status = "ok"
	return report, 0
}

func emitHealth(cfg node.Config) {
	report, code := buildHealthReport(cfg)
	emit(report)
	os.Exit(code)
}

func emit(r healthReport) {
	b, _ := json.Marshal(r)
	fmt.Println(string(b))
}

func runBootstrap(rt *node.Runtime, path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap: %v\n", err)
		return
	}
	defer f.Close()
	rt.RunScript(f, os.Stdout)
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
