package main

import (
	"context"
	"flag"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/rainoffallingstar/rv/internal/rv/app"
	"github.com/rainoffallingstar/rv/internal/rv/resolve"
	"github.com/rainoffallingstar/rv/internal/rv/source"
)

// sysdepsCommand lists the SystemRequirements strings declared across the
// resolved dependency graph, re-describing each node other than builtins
// and dependencies-only nodes the same way the resolver itself did. When RV_SYS_DEPS_CHECK_IN_PATH
// is set, each requirement's leading token is also checked against PATH.
type sysdepsCommand struct{}

func (sysdepsCommand) Name() string      { return "sysdeps" }
func (sysdepsCommand) Args() string      { return "" }
func (sysdepsCommand) ShortHelp() string { return "list declared system requirements" }
func (sysdepsCommand) Register(*flag.FlagSet) {}

func (sysdepsCommand) Run(ctx context.Context, a *app.Ctx, workingDir string, jsonOut bool, args []string) error {
	p, err := app.Load(workingDir, a.Arch)
	if err != nil {
		return err
	}
	res, err := app.Resolve(ctx, a, p, false)
	if err != nil {
		return err
	}

	dispatcher := source.NewDispatcherWithOptions(a.Cache, a.Env.SubmoduleUpdateDisable)
	seen := map[string]bool{}
	var reqs []string
	for _, name := range res.Order {
		node := res.Nodes[name]
		if node.Source == source.Builtin || node.DependenciesOnly {
			continue
		}
		ref := refForSysdeps(node)
		d, err := dispatcher.Describe(ctx, ref)
		if err != nil {
			a.Loggers.Debugf("sysdeps: skipping %s: %v\n", name, err)
			continue
		}
		for _, r := range d.SystemRequirements {
			if !seen[r] {
				seen[r] = true
				reqs = append(reqs, r)
			}
		}
	}
	sort.Strings(reqs)

	for _, r := range reqs {
		if a.Env.SysDepsCheckInPath {
			tool := strings.Fields(r)
			found := len(tool) > 0
			if found {
				if _, err := exec.LookPath(tool[0]); err != nil {
					found = false
				}
			}
			status := "missing"
			if found {
				status = "found"
			}
			fmt.Fprintf(a.Loggers.Out.Writer(), "%s (%s)\n", r, status)
			continue
		}
		a.Loggers.Out.Println(r)
	}
	return nil
}

func refForSysdeps(node *resolve.ResolvedNode) source.Ref {
	gitRef := node.GitRef
	if node.GitSHA != "" {
		gitRef = node.GitSHA
	}
	ref := source.Ref{
		Kind:       node.Source,
		Name:       node.Name,
		GitRepo:    node.GitRepo,
		GitRef:     gitRef,
		GitRefKind: source.RefCommit,
		Subdir:     node.Subdir,
		LocalPath:  node.LocalPath,
	}
	switch node.Source {
	case source.Repo, source.URL:
		ref.DownloadURL = node.URL
		ref.ExpectedSum = node.Digest
	}
	return ref
}
