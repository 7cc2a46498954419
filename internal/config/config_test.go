package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const admin = "0x00000000000000000000000000000000000000AA"

func TestDefaultConfig(t *testing.T) {
	cfg := Default(admin)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"0x00000000000000000000000000000000000000aa"}, cfg.Admins)
	assert.True(t, cfg.IsAdminWallet(admin))
	assert.True(t, cfg.AllowsCategory("theft"))
	assert.False(t, cfg.AllowsCategory("parking"))
	assert.Equal(t, LedgerMemory, cfg.Ledger.Driver)
	assert.Equal(t, defaultLedgerTimeout, cfg.LedgerTimeout())
	assert.Empty(t, cfg.Content.Gateway)

	assert.Empty(t, Default("").Admins)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad admin":        "admins: [nope]\n",
		"store driver":     "store: {driver: mysql}\n",
		"postgres dsn":     "store: {driver: postgres}\n",
		"ledger driver":    "ledger: {driver: bitcoin}\n",
		"ethereum rpc":     "ledger: {driver: ethereum}\n",
		"content driver":   "content: {driver: s3}\n",
		"webhook url":      "webhooks: [{events: [case.filed]}]\n",
		"empty category":   "categories: [theft, \"\"]\n",
		"negative timeout": "ledger: {timeout_seconds: -1}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "caseline init")

	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Empty(t, cfg.Admins)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "caseline.yml"), []byte(GenerateDefault(admin)), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Len(t, cfg.Admins, 1)
	assert.Len(t, cfg.Categories, 7)
}
