package provision

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/franksops/assetdock/provider"
)

// PackageInstaller installs interpreter packages.
type PackageInstaller interface {
	Install(ctx context.Context, packages []string) error
}

// PluginSyncer clones or updates one plugin into dir.
type PluginSyncer interface {
	Sync(ctx context.Context, plugin Plugin, dir string) error
}

// PermissionNormalizer hands a tree over to owner.
type PermissionNormalizer interface {
	Normalize(ctx context.Context, root, owner string) error
}

// SmokeTester runs the downstream application once.
type SmokeTester interface {
	Test(ctx context.Context, st SmokeTest) error
}

// Runner executes an external command in dir.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) error
}

// ExecRunner runs commands with os/exec. Output is logged at debug level
// and the tail is attached to the error on failure.
type ExecRunner struct {
	Env    []string
	Logger *zap.Logger
}

const outputTail = 2048

func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	logger.Debug("running command", zap.String("cmd", name+" "+strings.Join(args, " ")), zap.String("dir", dir))
	err := cmd.Run()
	logger.Debug("command output", zap.String("cmd", name), zap.ByteString("output", out.Bytes()))
	if err != nil {
		tail := out.Bytes()
		if len(tail) > outputTail {
			tail = tail[len(tail)-outputTail:]
		}
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, bytes.TrimSpace(tail))
	}
	return nil
}

// PipInstaller installs packages with pip.
type PipInstaller struct {
	Runner Runner
	// Pip is the executable, "pip" when empty.
	Pip string
}

func (p *PipInstaller) pip() string {
	if p.Pip == "" {
		return "pip"
	}
	return p.Pip
}

func (p *PipInstaller) Install(ctx context.Context, packages []string) error {
	if len(packages) == 0 {
		return nil
	}
	args := append([]string{"install", "--no-cache-dir"}, packages...)
	return p.Runner.Run(ctx, "", p.pip(), args...)
}

// InstallRequirements installs a requirements file from dir.
func (p *PipInstaller) InstallRequirements(ctx context.Context, dir, file string) error {
	return p.Runner.Run(ctx, dir, p.pip(), "install", "--no-cache-dir", "-r", file)
}

// GitPluginSyncer clones missing plugins, pulls existing ones and installs
// their requirements.txt when present.
type GitPluginSyncer struct {
	Runner Runner
	Pip    *PipInstaller
	Local  *provider.LocalProvider
	Logger *zap.Logger
}

const requirementsFile = "requirements.txt"

func (g *GitPluginSyncer) Sync(ctx context.Context, plugin Plugin, dir string) error {
	logger := g.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	local := g.Local
	if local == nil {
		local = provider.NewLocalProvider("")
	}

	checkout, err := local.Exists(ctx, filepath.Join(dir, ".git"))
	if err != nil {
		return err
	}
	if checkout {
		logger.Info("updating plugin", zap.String("dir", dir))
		if err := g.Runner.Run(ctx, dir, "git", "pull"); err != nil {
			return fmt.Errorf("failed to update plugin %s: %w", plugin.URL, err)
		}
	} else {
		logger.Info("cloning plugin", zap.String("url", plugin.URL), zap.String("dir", dir))
		if err := g.Runner.Run(ctx, "", "git", "clone", plugin.URL, dir, "--recursive"); err != nil {
			return fmt.Errorf("failed to clone plugin %s: %w", plugin.URL, err)
		}
	}

	if g.Pip == nil {
		return nil
	}
	reqs, err := local.Exists(ctx, filepath.Join(dir, requirementsFile))
	if err != nil || !reqs {
		return err
	}
	if err := g.Pip.InstallRequirements(ctx, dir, requirementsFile); err != nil {
		return fmt.Errorf("failed to install requirements for %s: %w", plugin.URL, err)
	}
	return nil
}

// OwnershipNormalizer chowns a tree and makes it group-writable.
type OwnershipNormalizer struct {
	Local  *provider.LocalProvider
	Logger *zap.Logger
}

func (n *OwnershipNormalizer) Normalize(ctx context.Context, root, owner string) error {
	logger := n.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	local := n.Local
	if local == nil {
		local = provider.NewLocalProvider("")
	}

	target, err := provider.ParseOwner(owner)
	if err != nil {
		return err
	}
	ok, err := local.Exists(ctx, root)
	if err != nil {
		return err
	}
	if !ok {
		logger.Info("nothing to normalize", zap.String("root", root))
		return nil
	}

	count, err := provider.NormalizeTree(ctx, local, root, provider.NewMetadataMapper(provider.WithDefaultOwner(target)))
	if err != nil {
		return err
	}
	logger.Info("normalized ownership",
		zap.String("root", root),
		zap.String("owner", owner),
		zap.Int("entries", count),
	)
	return nil
}

// CommandSmokeTester runs the configured command and fails on a non-zero exit.
type CommandSmokeTester struct {
	Runner Runner
}

func (c *CommandSmokeTester) Test(ctx context.Context, st SmokeTest) error {
	if st.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, st.Timeout)
		defer cancel()
	}
	return c.Runner.Run(ctx, st.Dir, st.Command, st.Args...)
}
