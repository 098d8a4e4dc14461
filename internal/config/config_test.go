package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meshnet-project/meshagentd/internal/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FlagsOnly_AppliesDefaults(t *testing.T) {
	cfg, err := Load([]string{
		"-adjacency-file", "/tmp/adj.json",
		"-service-file", "/tmp/service.bin",
	})
	require.NoError(t, err)

	assert.Equal(t, "/tmp/adj.json", cfg.AdjacencyFile)
	assert.Equal(t, uint16(6001), cfg.TransporterPort)
	assert.True(t, cfg.MigrationEnabled)
	assert.Equal(t, 30*time.Second, cfg.CycleInterval)
	assert.Equal(t, 20.0, cfg.CPUThreshold)
	assert.Equal(t, 15.0, cfg.RAMThreshold)
	assert.Equal(t, 2.0, cfg.MigrationThreshold)
}

func TestLoad_MissingRequired_Errors(t *testing.T) {
	_, err := Load([]string{"-adjacency-file", "/tmp/adj.json"})
	assert.Error(t, err)

	_, err = Load([]string{"-service-file", "/tmp/service.bin"})
	assert.Error(t, err)
}

func TestLoad_ParsesNodeIDLists(t *testing.T) {
	cfg, err := Load([]string{
		"-adjacency-file", "/tmp/adj.json",
		"-service-file", "/tmp/service.bin",
		"-unreachable-hosts", "4,5",
		"-server-whitelist", "2, 3",
	})
	require.NoError(t, err)

	assert.Equal(t, []mesh.NodeID{4, 5}, cfg.UnreachableHosts)
	assert.Equal(t, []mesh.NodeID{2, 3}, cfg.ServerWhitelist)
}

func TestLoad_YAMLSuppliesBroadcastAddrsAndServiceName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
service:
  name: my-mesh-svc
  broadcast_port: 7500
  broadcast_addrs: ["10.1.1.255", "10.1.2.255"]
  base_prefix: "10.1.0"
  interface: eth0
observability:
  metrics: true
  metrics_addr: ":9090"
agent:
  cpu_threshold: 55
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load([]string{
		"-config", path,
		"-adjacency-file", "/tmp/adj.json",
		"-service-file", "/tmp/service.bin",
	})
	require.NoError(t, err)

	assert.Equal(t, "my-mesh-svc", cfg.ServiceName)
	assert.Equal(t, uint16(7500), cfg.BroadcastPort)
	assert.Equal(t, []string{"10.1.1.255", "10.1.2.255"}, cfg.BroadcastAddrs)
	assert.Equal(t, "10.1.0", cfg.BasePrefix)
	assert.Equal(t, "eth0", cfg.Interface)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, 55.0, cfg.CPUThreshold)
}

func TestLoad_FlagOverridesYAMLForSameKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
agent:
  cpu_threshold: 55
  transporter_port: 7001
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load([]string{
		"-config", path,
		"-adjacency-file", "/tmp/adj.json",
		"-service-file", "/tmp/service.bin",
		"-cpu-threshold", "80",
	})
	require.NoError(t, err)

	// explicit flag wins over the YAML value for the same key...
	assert.Equal(t, 80.0, cfg.CPUThreshold)
	// ...but a YAML-only-set value with no flag passed still applies.
	assert.Equal(t, uint16(7001), cfg.TransporterPort)
}
