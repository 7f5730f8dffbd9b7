package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validYAML = `
instances:
  - instance_id: pve-1
    pool_id: default
    host: 10.0.0.10
    port: 8006
    user: root
    user_realm: pam
    password: secret
    node: pve1
    verify_tls: true
    ids_start: 2000
  - instance_id: pve-2
    pool_id: default
    host: 10.0.0.11
    port: 8006
    user: root
    user_realm: pam
    password: secret
    node: pve2
    verify_tls: false
`

func TestLoadInstancesFile_YAML(t *testing.T) {
	path := writeFile(t, "instances.yaml", validYAML)

	instances, err := LoadInstancesFile(path)
	require.NoError(t, err)
	require.Len(t, instances, 2)

	assert.Equal(t, "pve-1", instances[0].InstanceID)
	assert.Equal(t, "10.0.0.10:8006", instances[0].Address())
	assert.Equal(t, "root@pam", instances[0].Username())
	assert.Equal(t, 2000, instances[0].EffectiveVMIDStart())
	assert.True(t, instances[0].VerifyTLS)

	assert.Equal(t, DefaultVMIDStart, instances[1].EffectiveVMIDStart())
	assert.False(t, instances[1].VerifyTLS)
}

func TestLoadInstancesFile_JSON(t *testing.T) {
	path := writeFile(t, "instances.json", `{
		"instances": [
			{
				"instance_id": "pve-1",
				"pool_id": "gpu",
				"host": "pve.example.com",
				"port": 8006,
				"user": "provisioner",
				"user_realm": "pve",
				"password": "secret",
				"node": "pve1",
				"verify_tls": true
			}
		]
	}`)

	instances, err := LoadInstancesFile(path)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "gpu", instances[0].PoolID)
	assert.Equal(t, "provisioner@pve", instances[0].Username())
}

func TestLoadInstancesFile_DuplicateID(t *testing.T) {
	path := writeFile(t, "instances.yaml", `
instances:
  - {instance_id: a, pool_id: p, host: h, port: 8006, user: root, user_realm: pam, password: x, node: n}
  - {instance_id: a, pool_id: p, host: h2, port: 8006, user: root, user_realm: pam, password: x, node: n2}
`)

	_, err := LoadInstancesFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate instance_id")
}

func TestLoadInstancesFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing pool",
			yaml: `{instances: [{instance_id: a, host: h, port: 8006, user: root, user_realm: pam, password: x, node: n}]}`,
			want: "pool_id",
		},
		{
			name: "missing node",
			yaml: `{instances: [{instance_id: a, pool_id: p, host: h, port: 8006, user: root, user_realm: pam, password: x}]}`,
			want: "node",
		},
		{
			name: "bad port",
			yaml: `{instances: [{instance_id: a, pool_id: p, host: h, port: 99999, user: root, user_realm: pam, password: x, node: n}]}`,
			want: "port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "instances.yaml", tt.yaml)
			_, err := LoadInstancesFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadInstances_FileTakesPriority(t *testing.T) {
	path := writeFile(t, "instances.yaml", validYAML)
	t.Setenv("PROXMOX_CONFIG_FILE", path)
	t.Setenv("PROXMOX_HOST", "ignored.example.com")

	instances, err := LoadInstances()
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "10.0.0.10", instances[0].Host)
}

func TestLoadInstances_LegacyEnv(t *testing.T) {
	t.Setenv("PROXMOX_CONFIG_FILE", "")
	t.Setenv("PROXMOX_HOST", "pve.example.com")
	t.Setenv("PROXMOX_PORT", "8007")
	t.Setenv("PROXMOX_USER", "root")
	t.Setenv("PROXMOX_REALM", "pam")
	t.Setenv("PROXMOX_PASSWORD", "hunter2")
	t.Setenv("PROXMOX_NODE", "pve")
	t.Setenv("PROXMOX_VERIFY_TLS", "0")
	t.Setenv("PROXMOX_IDS_START", "3000")

	instances, err := LoadInstances()
	require.NoError(t, err)
	require.Len(t, instances, 1)

	inst := instances[0]
	assert.Equal(t, "default", inst.InstanceID)
	assert.Equal(t, "default", inst.PoolID)
	assert.Equal(t, "pve.example.com:8007", inst.Address())
	assert.False(t, inst.VerifyTLS)
	assert.Equal(t, 3000, inst.EffectiveVMIDStart())
}

func TestLoadInstances_NothingConfigured(t *testing.T) {
	t.Setenv("PROXMOX_CONFIG_FILE", "")
	t.Setenv("PROXMOX_HOST", "")

	instances, err := LoadInstances()
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestGroupByPool(t *testing.T) {
	t.Parallel()

	instances := []Instance{
		{InstanceID: "a", PoolID: "x"},
		{InstanceID: "b", PoolID: "y"},
		{InstanceID: "c", PoolID: "x"},
	}

	pools := GroupByPool(instances)
	require.Len(t, pools, 2)
	assert.Equal(t, []string{"a", "c"}, []string{pools["x"][0].InstanceID, pools["x"][1].InstanceID})
	assert.Len(t, pools["y"], 1)
}
