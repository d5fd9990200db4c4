package installer

import (
	"context"
	"fmt"

	"github.com/ardanlabs/unbg/sdk/tools/models"
)

// Installed reports whether the default revision of every model is recorded
// in the lockfile and has a weights file on disk.
func Installed(root string, targets ...models.Model) bool {
	paths := models.NewPaths(root)

	lock, err := models.ReadLock(paths.LockFile())
	if err != nil {
		return false
	}

	for _, m := range targets {
		revision := m.Manifest().DefaultRevision

		lm, ok := lock.Find(m.SourceID())
		if !ok || lm.Revision != revision {
			return false
		}

		if !models.HasWeights(paths.RevisionDir(m, revision)) {
			return false
		}
	}

	return true
}

// Ensure installs the default revision of the models that are not already
// installed under the root.
func (ins *Installer) Ensure(ctx context.Context, root string, tokenEnv string, variant models.Variant, targets ...models.Model) (Report, error) {
	if Installed(root, targets...) {
		return Report{Root: models.NewPaths(root).Root, Installed: []string{}, Skipped: []string{}}, nil
	}

	ins.log(ctx, "ensure", "status", "installing required models before execution")

	names := make([]string, len(targets))
	for i, m := range targets {
		names[i] = m.String()
	}

	report, err := ins.Install(ctx, Request{
		Root:     root,
		Models:   names,
		TokenEnv: tokenEnv,
		Variant:  variant,
	})

	if err != nil {
		return Report{}, fmt.Errorf("ensure: %w", err)
	}

	return report, nil
}
