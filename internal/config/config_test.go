package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POLICY_FILE", "")
	t.Setenv("HTTP_PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8086, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, "HR", cfg.Policy.HiringRole)
	assert.Contains(t, cfg.Policy.OverrideRoles, "ADMIN")
	assert.Len(t, cfg.Policy.Clearance.LaneAccess, 7)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("DB_MAX_CONNS", "7")
	t.Setenv("OUTBOX_POLL_INTERVAL", "250ms")
	t.Setenv("DB_MIGRATE", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, int32(7), cfg.Database.MaxConns)
	assert.Equal(t, 250*time.Millisecond, cfg.Outbox.PollInterval)
	assert.False(t, cfg.Database.Migrate)
}

func TestLoadTrustedProxies(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.7 ,fd00::/8")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.7/32"),
		netip.MustParsePrefix("fd00::/8"),
	}, cfg.Server.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Server.TrustedProxies, "forwarded headers are ignored by default")

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/33")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadBatchSize(t *testing.T) {
	t.Setenv("OUTBOX_BATCH_SIZE", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadStoreDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CORS_ORIGINS", "https://hr.example.com,https://admin.example.com")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Service.StoreDriver)
	assert.Equal(t, []string{"https://hr.example.com", "https://admin.example.com"}, cfg.Service.CORSOrigins)

	t.Setenv("STORE_DRIVER", "sqlite")
	_, err = Load()
	assert.Error(t, err)
}

func TestPolicyFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := `
overrideRoles: [ADMIN, SUPERUSER]
clearance:
  laneAccess:
    HELPDESK: [IT]
  template:
    - lane: IT
      title: Wipe phone
      required: true
      dueInDays: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("POLICY_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"ADMIN", "SUPERUSER"}, cfg.Policy.OverrideRoles)
	assert.Equal(t, "HR", cfg.Policy.HiringRole, "unset keys keep defaults")
	assert.Equal(t, []string{"IT"}, cfg.Policy.Clearance.LaneAccess["HELPDESK"])
	require.Len(t, cfg.Policy.Clearance.Template, 1)
	assert.Equal(t, "Wipe phone", cfg.Policy.Clearance.Template[0].Title)
}

func TestPolicyValidate(t *testing.T) {
	p := DefaultPolicy()
	p.Clearance.Template = append(p.Clearance.Template, TemplateItem{Lane: "IT"})
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.Clearance.LaneAccess["EMPTY"] = nil
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.HiringRole = " "
	assert.Error(t, p.Validate())

	assert.NoError(t, DefaultPolicy().Validate())
}

func TestParsePolicyInvalidYAML(t *testing.T) {
	_, err := ParsePolicy([]byte("overrideRoles: [unterminated"))
	assert.Error(t, err)
}
