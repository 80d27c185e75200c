// Package merge reconciles two branches through their lowest common
// ancestor: three-way diff, conflict detection with value-equality
// short-circuit, auto-merge of single-sided changes and construction of
// two-parent merge commits.
package merge

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"saga/internal/branch"
	"saga/internal/commit"
	"saga/internal/diff"
	"saga/internal/errors"
	"saga/internal/materialize"
	"saga/internal/state"
)

// Engine orchestrates merges for one entity's repository.
type Engine struct {
	graph    *commit.Graph
	branches *branch.Manager
	mat      *materialize.Materializer
	differ   *diff.Engine
	logger   *zap.Logger
}

func NewEngine(graph *commit.Graph, branches *branch.Manager, mat *materialize.Materializer, differ *diff.Engine, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		graph:    graph,
		branches: branches,
		mat:      mat,
		differ:   differ,
		logger:   logger,
	}
}

// Merge merges sourceName into targetName. resolutions maps conflict paths
// to chosen values and may be nil on the first attempt. No commit is created
// until every conflict is resolved, so conflict detection can be retried
// freely; only the final head update is transactional.
func (e *Engine) Merge(sourceName, targetName, author string, resolutions map[string]any) (*Result, error) {
	source, err := e.branches.Get(sourceName)
	if err != nil {
		return nil, err
	}
	target, err := e.branches.Get(targetName)
	if err != nil {
		return nil, err
	}

	// Same tip (including source == target): nothing to do
	if source.HeadCommitID == target.HeadCommitID {
		head, err := e.graph.Get(target.HeadCommitID)
		if err != nil {
			return nil, err
		}
		return &Result{Commit: head, NoOp: true}, nil
	}

	lca, err := e.graph.LowestCommonAncestor(source.HeadCommitID, target.HeadCommitID)
	if err != nil {
		return nil, err
	}
	if lca == "" {
		return nil, errors.ValidationError(
			fmt.Sprintf("branches %s and %s share no common ancestor", sourceName, targetName), nil)
	}

	// Source already contained in target: up to date
	if lca == source.HeadCommitID {
		head, err := e.graph.Get(target.HeadCommitID)
		if err != nil {
			return nil, err
		}
		return &Result{Commit: head, NoOp: true}, nil
	}

	// Target is an ancestor of source: fast-forward, no merge commit
	if lca == target.HeadCommitID {
		if err := e.branches.UpdateHead(targetName, source.HeadCommitID, target.HeadCommitID); err != nil {
			return nil, err
		}
		head, err := e.graph.Get(source.HeadCommitID)
		if err != nil {
			return nil, err
		}
		e.logger.Info("fast-forwarded branch",
			zap.String("branch", targetName),
			zap.String("to", source.HeadCommitID))
		return &Result{Commit: head, FastForward: true}, nil
	}

	base, err := e.mat.Materialize(lca)
	if err != nil {
		return nil, err
	}
	sourceState, err := e.mat.Materialize(source.HeadCommitID)
	if err != nil {
		return nil, err
	}
	targetState, err := e.mat.Materialize(target.HeadCommitID)
	if err != nil {
		return nil, err
	}

	diffSource := e.differ.Diff(base, sourceState)
	diffTarget := e.differ.Diff(base, targetState)

	plan, err := reconcile(diffSource, diffTarget)
	if err != nil {
		return nil, err
	}

	conflicts, err := plan.unresolved(base, sourceState, targetState, resolutions)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		e.logger.Info("merge has conflicts",
			zap.String("source", sourceName),
			zap.String("target", targetName),
			zap.Int("conflicts", len(conflicts)))
		return &Result{Report: &ConflictReport{Conflicts: conflicts}}, nil
	}

	merged, err := plan.apply(base, resolutions)
	if err != nil {
		return nil, err
	}

	// Stored relative to the first parent (target), matching replay
	mergeChanges := e.differ.Diff(targetState, merged)

	mergeCommit, err := e.graph.CreateCommit(
		[]string{target.HeadCommitID, source.HeadCommitID},
		mergeChanges,
		author,
		fmt.Sprintf("merge %s into %s", sourceName, targetName),
	)
	if err != nil {
		return nil, err
	}

	if err := e.branches.UpdateHead(targetName, mergeCommit.ID, target.HeadCommitID); err != nil {
		return nil, err
	}

	e.logger.Info("merged branch",
		zap.String("source", sourceName),
		zap.String("target", targetName),
		zap.String("merge_commit", mergeCommit.ID))

	return &Result{Commit: mergeCommit}, nil
}

// pathGroup is all operations one diff addressed at a single terminal path.
type pathGroup struct {
	path   string
	parsed state.Path
	ops    []diff.Op
}

// plan is the partition of the two diffs: groups safe to auto-merge (in
// application order) plus paths needing external resolution.
type plan struct {
	autoOps       []diff.Op
	conflictPaths []string
}

func reconcile(diffSource, diffTarget diff.ChangeSet) (*plan, error) {
	sourceGroups, err := groupByPath(diffSource.Ops)
	if err != nil {
		return nil, err
	}
	targetGroups, err := groupByPath(diffTarget.Ops)
	if err != nil {
		return nil, err
	}

	suppressed := make(map[string]bool)
	conflictSet := make(map[string]bool)

	markConflict := func(path string, both ...string) {
		conflictSet[path] = true
		for _, p := range both {
			suppressed[p] = true
		}
	}

	sourceByPath := make(map[string]*pathGroup, len(sourceGroups))
	for _, g := range sourceGroups {
		sourceByPath[g.path] = g
	}

	for _, tg := range targetGroups {
		sg, ok := sourceByPath[tg.path]
		if ok && !diff.EqualOps(sg.ops, tg.ops) {
			// Divergent edits to the same path, unless both sides made the
			// identical change
			markConflict(tg.path, tg.path)
			continue
		}

		// Ancestor/descendant overlap across sides: applying both op sets
		// would tear the subtree, so the shorter path carries the conflict
		for _, sg := range sourceGroups {
			if sg.path == tg.path {
				continue
			}
			switch {
			case tg.parsed.HasPrefix(sg.parsed):
				markConflict(sg.path, sg.path, tg.path)
			case sg.parsed.HasPrefix(tg.parsed):
				markConflict(tg.path, sg.path, tg.path)
			}
		}
	}

	p := &plan{}

	// Target side first: it is the merge commit's first parent
	for _, g := range targetGroups {
		if suppressed[g.path] || conflictSet[g.path] {
			continue
		}
		p.autoOps = append(p.autoOps, g.ops...)
	}
	for _, g := range sourceGroups {
		if suppressed[g.path] || conflictSet[g.path] {
			continue
		}
		if tg, ok := findGroup(targetGroups, g.path); ok && diff.EqualOps(g.ops, tg.ops) {
			// Identical on both sides, already applied once
			continue
		}
		p.autoOps = append(p.autoOps, g.ops...)
	}

	for path := range conflictSet {
		p.conflictPaths = append(p.conflictPaths, path)
	}
	sort.Strings(p.conflictPaths)

	return p, nil
}

// unresolved builds conflict records for every conflicting path the supplied
// resolutions do not cover.
func (p *plan) unresolved(base, sourceState, targetState state.State, resolutions map[string]any) ([]Conflict, error) {
	var out []Conflict
	for _, path := range p.conflictPaths {
		if _, ok := resolutions[path]; ok {
			continue
		}
		parsed, err := state.ParsePath(path)
		if err != nil {
			return nil, err
		}
		baseVal, _ := state.Get(base, parsed)
		sourceVal, _ := state.Get(sourceState, parsed)
		targetVal, _ := state.Get(targetState, parsed)
		out = append(out, Conflict{
			Path:        path,
			BaseValue:   baseVal,
			SourceValue: sourceVal,
			TargetValue: targetVal,
		})
	}
	return out, nil
}

// apply produces the merged state: auto-merged ops over the base, then one
// Set per resolved conflict.
func (p *plan) apply(base state.State, resolutions map[string]any) (state.State, error) {
	ops := append([]diff.Op(nil), p.autoOps...)
	for _, path := range p.conflictPaths {
		ops = append(ops, diff.Op{Kind: diff.OpSet, Path: path, Value: resolutions[path]})
	}
	merged, err := diff.Apply(base, diff.ChangeSet{Ops: ops})
	if err != nil {
		return nil, fmt.Errorf("applying merged changes: %w", err)
	}
	return merged, nil
}

func groupByPath(ops []diff.Op) ([]*pathGroup, error) {
	var groups []*pathGroup
	index := make(map[string]*pathGroup)
	for _, op := range ops {
		g, ok := index[op.Path]
		if !ok {
			parsed, err := state.ParsePath(op.Path)
			if err != nil {
				return nil, err
			}
			g = &pathGroup{path: op.Path, parsed: parsed}
			index[op.Path] = g
			groups = append(groups, g)
		}
		g.ops = append(g.ops, op)
	}
	return groups, nil
}

func findGroup(groups []*pathGroup, path string) (*pathGroup, bool) {
	for _, g := range groups {
		if g.path == path {
			return g, true
		}
	}
	return nil, false
}
