package provision

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingRunner struct {
	mu   sync.Mutex
	cmds []string
	fail map[string]error
}

func (r *recordingRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	cmd := strings.TrimSpace(fmt.Sprintf("[%s] %s %s", dir, name, strings.Join(args, " ")))
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd)
	r.mu.Unlock()
	return r.fail[name]
}

func TestPipInstaller(t *testing.T) {
	r := &recordingRunner{}
	p := &PipInstaller{Runner: r}

	require.NoError(t, p.Install(context.Background(), nil))
	require.NoError(t, p.Install(context.Background(), []string{"torch==2.3.0", "xformers"}))
	assert.Equal(t, []string{"[] pip install --no-cache-dir torch==2.3.0 xformers"}, r.cmds)

	p.Pip = "/opt/venv/bin/pip"
	require.NoError(t, p.InstallRequirements(context.Background(), "/plugins/a", "requirements.txt"))
	assert.Equal(t, "[/plugins/a] /opt/venv/bin/pip install --no-cache-dir -r requirements.txt", r.cmds[1])
}

func TestGitPluginSyncer_Clone(t *testing.T) {
	r := &recordingRunner{}
	g := &GitPluginSyncer{Runner: r, Pip: &PipInstaller{Runner: r}, Logger: zaptest.NewLogger(t)}
	dir := filepath.Join(t.TempDir(), "manager")

	require.NoError(t, g.Sync(context.Background(), Plugin{URL: "https://github.com/org/manager.git"}, dir))
	// The fake runner never creates the checkout, so there is no requirements file.
	assert.Equal(t, []string{"[] git clone https://github.com/org/manager.git " + dir + " --recursive"}, r.cmds)
}

func TestGitPluginSyncer_PullAndRequirements(t *testing.T) {
	r := &recordingRunner{}
	g := &GitPluginSyncer{Runner: r, Pip: &PipInstaller{Runner: r}}
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, requirementsFile), []byte("numpy\n"), 0o644))

	require.NoError(t, g.Sync(context.Background(), Plugin{URL: "https://github.com/org/aux"}, dir))
	assert.Equal(t, []string{
		"[" + dir + "] git pull",
		"[" + dir + "] pip install --no-cache-dir -r requirements.txt",
	}, r.cmds)
}

func TestGitPluginSyncer_Failure(t *testing.T) {
	r := &recordingRunner{fail: map[string]error{"git": assert.AnError}}
	g := &GitPluginSyncer{Runner: r}

	err := g.Sync(context.Background(), Plugin{URL: "https://github.com/org/x"}, filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "failed to clone plugin")
}

func TestOwnershipNormalizer(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "ckpt"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ckpt", "model.safetensors"), []byte("w"), 0o644))

	n := &OwnershipNormalizer{Logger: zaptest.NewLogger(t)}
	owner := fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid())
	require.NoError(t, n.Normalize(context.Background(), root, owner))

	info, err := os.Stat(filepath.Join(root, "ckpt", "model.safetensors"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o020, "group write bit set")
}

func TestOwnershipNormalizer_MissingRootAndBadOwner(t *testing.T) {
	n := &OwnershipNormalizer{}
	owner := fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid())

	assert.NoError(t, n.Normalize(context.Background(), filepath.Join(t.TempDir(), "absent"), owner))
	assert.Error(t, n.Normalize(context.Background(), t.TempDir(), ""))
}

func TestCommandSmokeTester(t *testing.T) {
	r := &recordingRunner{}
	s := &CommandSmokeTester{Runner: r}

	require.NoError(t, s.Test(context.Background(), SmokeTest{Command: "python", Args: []string{"main.py", "--quick-test-for-ci"}, Dir: "/opt/app"}))
	assert.Equal(t, []string{"[/opt/app] python main.py --quick-test-for-ci"}, r.cmds)
}

func TestExecRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := &ExecRunner{Logger: zaptest.NewLogger(t), Env: []string{"ASSETDOCK_TEST=1"}}

	require.NoError(t, r.Run(context.Background(), t.TempDir(), "sh", "-c", `test "$ASSETDOCK_TEST" = 1`))

	err := r.Run(context.Background(), "", "sh", "-c", "echo broken runtime >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken runtime")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, r.Run(ctx, "", "sh", "-c", "sleep 5"))
}
