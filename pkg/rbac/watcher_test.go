package rbac

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantry/pkg/observability"
)

func TestPolicyWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("levels: {owner: 30, admin: 20, member: 10}\nrules: {view: {}}\n"), 0o600))

	var buf bytes.Buffer
	e := newTestEvaluator()
	w := NewPolicyWatcher(path, func() (*Policy, error) { return LoadPolicy(path) }, e, observability.NewLogger(observability.InfoLevel, &buf))

	assert.True(t, w.Reload())
	assert.Equal(t, 30, e.Policy().Levels[RoleOwner])

	require.NoError(t, os.WriteFile(path, []byte("levels: {owner: 1, admin: 2, member: 3}\n"), 0o600))
	assert.False(t, w.Reload())
	assert.Equal(t, 30, e.Policy().Levels[RoleOwner], "invalid policy is ignored")
	assert.Contains(t, buf.String(), "ignoring invalid policy file")
}

func TestPolicyWatcher_Run(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("levels: {owner: 30, admin: 20, member: 10}\nrules: {view: {}}\n"), 0o600))

	e := newTestEvaluator()
	w := NewPolicyWatcher(path, func() (*Policy, error) { return LoadPolicy(path) }, e, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("levels: {owner: 300, admin: 200, member: 100}\nrules: {view: {}}\n"), 0o600))

	assert.Eventually(t, func() bool {
		return e.Policy().Levels[RoleOwner] == 300
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
