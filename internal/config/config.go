// Package config loads the agent's settings from the flag-based CLI
// surface spec.md §6 requires, optionally layered over a YAML file for
// the values that have no flag equivalent (broadcast addresses,
// per-component tuning), the same two-source pattern the teacher's
// internal/cli#loadConfig uses for its relay config.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/meshnet-project/meshagentd/internal/mesh"
	"gopkg.in/yaml.v3"
)

// Config is the agent's fully resolved, validated settings.
type Config struct {
	// Required by spec.md §6.
	AdjacencyFile   string
	ServiceFilePath string

	// Flag-equivalent, defaulted per §6's table.
	TransporterPort    uint16
	RunServiceAtBoot   bool
	TestingMode        bool
	MigrationEnabled   bool
	UnreachableHosts   []mesh.NodeID
	ServerWhitelist    []mesh.NodeID
	CycleInterval      time.Duration
	SampleInterval     time.Duration
	CPUThreshold       float64
	RAMThreshold       float64
	MigrationThreshold float64

	// YAML-only: no flag equivalent in §6, supplied by the config file.
	ServiceName    string
	BroadcastPort  uint16
	BroadcastAddrs []string
	BasePrefix     string
	Interface      string
	DebugAddr      string
	MetricsAddr    string
	TraceAddr      string
	LogAddr        string
	MetricsEnabled bool
}

// yamlConfig mirrors the on-disk config file shape, same nested-struct-
// with-tags style as the teacher's loadConfig.
type yamlConfig struct {
	Service struct {
		Name           string   `yaml:"name"`
		BroadcastPort  uint16   `yaml:"broadcast_port"`
		BroadcastAddrs []string `yaml:"broadcast_addrs"`
		BasePrefix     string   `yaml:"base_prefix"`
		Interface      string   `yaml:"interface"`
	} `yaml:"service"`
	Observability struct {
		DebugAddr   string `yaml:"debug_addr"`
		MetricsAddr string `yaml:"metrics_addr"`
		TraceAddr   string `yaml:"trace_addr"`
		LogAddr     string `yaml:"log_addr"`
		Metrics     bool   `yaml:"metrics"`
	} `yaml:"observability"`
	Agent struct {
		AdjacencyFile      string  `yaml:"adjacency_file"`
		ServiceFilePath    string  `yaml:"service_file_path"`
		TransporterPort    uint16  `yaml:"transporter_port"`
		RunServiceAtBoot   bool    `yaml:"run_service_at_boot"`
		TestingMode        bool    `yaml:"testing_mode"`
		MigrationEnabled   *bool   `yaml:"migration_enabled"`
		UnreachableHosts   []int   `yaml:"unreachable_hosts"`
		ServerWhitelist    []int   `yaml:"server_whitelist"`
		CycleIntervalSecs  float64 `yaml:"cycle_interval_secs"`
		SampleIntervalSecs float64 `yaml:"sample_interval_secs"`
		CPUThreshold       float64 `yaml:"cpu_threshold"`
		RAMThreshold       float64 `yaml:"ram_threshold"`
		MigrationThreshold float64 `yaml:"migration_threshold"`
	} `yaml:"agent"`
}

// defaults matching §6's table.
func defaults() Config {
	return Config{
		TransporterPort:    6001,
		MigrationEnabled:   true,
		CycleInterval:      30 * time.Second,
		SampleInterval:     1 * time.Second,
		CPUThreshold:       20.0,
		RAMThreshold:       15.0,
		MigrationThreshold: 2.0,
		ServiceName:        "meshagentd",
		BroadcastPort:      6500,
		BasePrefix:         "10.0.0",
		BroadcastAddrs:     []string{"10.0.1.255", "10.0.2.255", "10.0.3.255"},
	}
}

// Load parses args (typically os.Args[1:]) into a validated Config. A
// "-config" flag, if given, loads a YAML file first; its values become
// the new defaults, then any flag explicitly passed on the command line
// overrides the corresponding field. Settings with no flag equivalent
// (broadcast addresses, service name, interface, debug/metrics/trace
// addresses) are YAML-only.
func Load(args []string) (*Config, error) {
	cfg := defaults()

	fs := flag.NewFlagSet("meshagentd", flag.ContinueOnError)

	configPath := fs.String("config", "", "path to an optional YAML config file")
	adjacencyFile := fs.String("adjacency-file", "", "path to the adjacency-list JSON file (required)")
	serviceFilePath := fs.String("service-file", "", "path to write the received service executable (required)")
	transporterPort := fs.Uint("transporter-port", uint(cfg.TransporterPort), "TCP port the Transporter listens on")
	runAtBoot := fs.Bool("run-service", cfg.RunServiceAtBoot, "start the service immediately at boot")
	testingMode := fs.Bool("testing", cfg.TestingMode, "skip wireless bring-up; read own ID from MESHAGENTD_NODE_ID when set")
	migrationEnabled := fs.Bool("migration-enabled", cfg.MigrationEnabled, "arm the Inspector's migration timer")
	unreachable := fs.String("unreachable-hosts", "", "comma-separated node IDs to prune from the graph")
	whitelist := fs.String("server-whitelist", "", "comma-separated node IDs the Inspector may migrate to")
	cycleInterval := fs.Float64("cycle-interval", cfg.CycleInterval.Seconds(), "Inspector tick period, in seconds")
	sampleInterval := fs.Float64("sample-interval", cfg.SampleInterval.Seconds(), "CPU/RAM sampler period, in seconds")
	cpuThreshold := fs.Float64("cpu-threshold", cfg.CPUThreshold, "CPU%% above which a successful handoff duplicates instead of migrates")
	ramThreshold := fs.Float64("ram-threshold", cfg.RAMThreshold, "RAM%% above which a successful handoff duplicates instead of migrates")
	migrationThreshold := fs.Float64("migration-threshold", cfg.MigrationThreshold, "minimum %% score improvement required to migrate")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if err := applyYAMLFile(&cfg, *configPath); err != nil {
			return nil, err
		}
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if explicit["adjacency-file"] || cfg.AdjacencyFile == "" {
		cfg.AdjacencyFile = *adjacencyFile
	}
	if explicit["service-file"] || cfg.ServiceFilePath == "" {
		cfg.ServiceFilePath = *serviceFilePath
	}
	if explicit["transporter-port"] {
		cfg.TransporterPort = uint16(*transporterPort)
	}
	if explicit["run-service"] {
		cfg.RunServiceAtBoot = *runAtBoot
	}
	if explicit["testing"] {
		cfg.TestingMode = *testingMode
	}
	if explicit["migration-enabled"] {
		cfg.MigrationEnabled = *migrationEnabled
	}
	if explicit["cycle-interval"] {
		cfg.CycleInterval = secondsToDuration(*cycleInterval)
	}
	if explicit["sample-interval"] {
		cfg.SampleInterval = secondsToDuration(*sampleInterval)
	}
	if explicit["cpu-threshold"] {
		cfg.CPUThreshold = *cpuThreshold
	}
	if explicit["ram-threshold"] {
		cfg.RAMThreshold = *ramThreshold
	}
	if explicit["migration-threshold"] {
		cfg.MigrationThreshold = *migrationThreshold
	}

	if explicit["unreachable-hosts"] {
		ids, err := mesh.ParseNodeIDList(*unreachable)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		cfg.UnreachableHosts = ids
	}
	if explicit["server-whitelist"] {
		ids, err := mesh.ParseNodeIDList(*whitelist)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		cfg.ServerWhitelist = ids
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func applyYAMLFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var y yamlConfig
	if err := yaml.NewDecoder(f).Decode(&y); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}

	if y.Service.Name != "" {
		cfg.ServiceName = y.Service.Name
	}
	if y.Service.BroadcastPort != 0 {
		cfg.BroadcastPort = y.Service.BroadcastPort
	}
	if len(y.Service.BroadcastAddrs) > 0 {
		cfg.BroadcastAddrs = y.Service.BroadcastAddrs
	}
	if y.Service.BasePrefix != "" {
		cfg.BasePrefix = y.Service.BasePrefix
	}
	if y.Service.Interface != "" {
		cfg.Interface = y.Service.Interface
	}

	cfg.DebugAddr = y.Observability.DebugAddr
	cfg.MetricsAddr = y.Observability.MetricsAddr
	cfg.TraceAddr = y.Observability.TraceAddr
	cfg.LogAddr = y.Observability.LogAddr
	cfg.MetricsEnabled = y.Observability.Metrics

	if y.Agent.AdjacencyFile != "" {
		cfg.AdjacencyFile = y.Agent.AdjacencyFile
	}
	if y.Agent.ServiceFilePath != "" {
		cfg.ServiceFilePath = y.Agent.ServiceFilePath
	}
	if y.Agent.TransporterPort != 0 {
		cfg.TransporterPort = y.Agent.TransporterPort
	}
	cfg.RunServiceAtBoot = y.Agent.RunServiceAtBoot
	cfg.TestingMode = y.Agent.TestingMode
	if y.Agent.MigrationEnabled != nil {
		cfg.MigrationEnabled = *y.Agent.MigrationEnabled
	}
	if len(y.Agent.UnreachableHosts) > 0 {
		cfg.UnreachableHosts = intsToNodeIDs(y.Agent.UnreachableHosts)
	}
	if len(y.Agent.ServerWhitelist) > 0 {
		cfg.ServerWhitelist = intsToNodeIDs(y.Agent.ServerWhitelist)
	}
	if y.Agent.CycleIntervalSecs > 0 {
		cfg.CycleInterval = secondsToDuration(y.Agent.CycleIntervalSecs)
	}
	if y.Agent.SampleIntervalSecs > 0 {
		cfg.SampleInterval = secondsToDuration(y.Agent.SampleIntervalSecs)
	}
	if y.Agent.CPUThreshold > 0 {
		cfg.CPUThreshold = y.Agent.CPUThreshold
	}
	if y.Agent.RAMThreshold > 0 {
		cfg.RAMThreshold = y.Agent.RAMThreshold
	}
	if y.Agent.MigrationThreshold > 0 {
		cfg.MigrationThreshold = y.Agent.MigrationThreshold
	}

	return nil
}

func intsToNodeIDs(ids []int) []mesh.NodeID {
	out := make([]mesh.NodeID, len(ids))
	for i, v := range ids {
		out[i] = mesh.NodeID(v)
	}
	return out
}

func (c *Config) validate() error {
	if c.AdjacencyFile == "" {
		return fmt.Errorf("config: adjacency file path is required")
	}
	if c.ServiceFilePath == "" {
		return fmt.Errorf("config: service file path is required")
	}
	return nil
}
