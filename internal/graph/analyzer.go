package graph

import (
	"context"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/wireit-go/wireit/internal/manifest"
)

// wireitInvocation is the literal scripts.<name> value a package.json must
// carry for a script to be considered wireit-managed (§4.1: "A script
// listed in the wireit section must have its script-section command equal
// to the literal string that invokes the wireit runner").
const wireitInvocation = "wireit"

// Analyzer resolves a root ScriptReference to a validated build graph by
// transitively reading manifests (§4.1).
type Analyzer struct {
	manifests *manifest.Reader
}

// NewAnalyzer constructs an Analyzer backed by the given manifest reader.
// Reader is exposed (rather than constructed internally) so a single
// process-lifetime cache can be shared across successive watch-mode
// iterations when a manifest hasn't changed.
func NewAnalyzer(r *manifest.Reader) *Analyzer {
	return &Analyzer{manifests: r}
}

// node is the mutable, shared-by-pointer state of one script during
// analysis. Every Dependency in the final graph, including cyclic ones,
// points at the same *ScriptConfig for a given reference (§3 invariant: "at
// most one config object per (packageDir, name)").
type node = ScriptConfig

// Analyze implements the two-pass algorithm of §4.1: a parallel placeholder
// walk that reads every transitively-reachable manifest, followed by a
// depth-first cycle check and deterministic sort.
func (a *Analyzer) Analyze(ctx context.Context, root ScriptReference, extraArgs []string) (*ScriptConfig, Diagnostics, error) {
	w := &walk{
		analyzer: a,
		configs:  make(map[string]*node),
	}

	g, gctx := errgroup.WithContext(ctx)
	w.group = g

	rootNode := w.schedule(gctx, root, extraArgs, true)
	if err := g.Wait(); err != nil {
		return nil, w.diagnostics(), err
	}

	diags := w.diagnostics()
	if diags.HasErrors() {
		return nil, diags, nil
	}

	// Pass 2: DFS cycle check + deterministic sort.
	cycleDiags := detectCyclesAndSort(rootNode)
	diags = append(diags, cycleDiags...)
	if diags.HasErrors() {
		return nil, diags, nil
	}
	return rootNode, diags, nil
}

// walk carries the shared, concurrency-safe state of the placeholder walk.
// Every field is guarded by mu except group, which is safe for concurrent
// Go calls by construction (see errgroup's documented usage for recursive
// fan-out).
type walk struct {
	analyzer *Analyzer
	group    *errgroup.Group

	mu      sync.Mutex
	configs map[string]*node
	diags   Diagnostics
}

func (w *walk) addDiag(d Diagnostic) {
	w.mu.Lock()
	w.diags = append(w.diags, d)
	w.mu.Unlock()
}

func (w *walk) diagnostics() Diagnostics {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(Diagnostics, len(w.diags))
	copy(out, w.diags)
	return out
}

// schedule allocates the placeholder for ref on first mention and enqueues
// its upgrade task; subsequent calls for the same ref reuse the placeholder
// without re-enqueuing, which is what lets the walk tolerate cycles: a task
// never awaits another task's completion, it only ever registers more work
// and returns.
func (w *walk) schedule(ctx context.Context, ref ScriptReference, extraArgs []string, isRoot bool) *node {
	w.mu.Lock()
	n, exists := w.configs[ref.String()]
	if !exists {
		n = &ScriptConfig{Reference: ref}
		w.configs[ref.String()] = n
	}
	w.mu.Unlock()

	if !exists {
		w.group.Go(func() error {
			w.upgrade(ctx, n, extraArgs, isRoot)
			return nil // diagnostics accumulate; a bad leaf must not abort siblings
		})
	}
	return n
}

// upgrade reads the manifest for n.Reference.PackageDir, validates
// structure, and fills in n's fields. It is the "upgrade task" of §4.1's
// algorithm step 1. isRoot selects between the plain and "dependency-on-*"
// diagnostic kinds (§7), since the same structural problem is reported
// differently depending on whether it was found on the root script or
// reached through a dependency edge.
func (w *walk) upgrade(ctx context.Context, n *node, extraArgs []string, isRoot bool) {
	ref := n.Reference
	m, err := w.analyzer.manifests.Get(ctx, ref.PackageDir)
	if err != nil {
		w.addDiag(diagForManifestError(ref, err, isRoot))
		return
	}

	scriptCmd, inScripts := m.Scripts[ref.Name]
	raw, inWireit := m.Wireit[ref.Name]

	if !inScripts {
		if inWireit {
			w.addDiag(Diagnostic{
				Kind:     DiagWireitConfigButNoScript,
				Severity: SeverityError,
				Message:  "wireit." + ref.Name + " is configured but \"" + ref.Name + "\" is not in the scripts section",
				Position: toGraphPosition(m.PositionOf("wireit." + gjsonEscape(ref.Name))),
			})
			return
		}
		kind := DiagScriptNotFound
		if !isRoot {
			kind = DiagDependencyOnMissingScript
		}
		w.addDiag(Diagnostic{
			Kind:     kind,
			Severity: SeverityError,
			Message:  "script \"" + ref.Name + "\" not found in " + m.Path,
			Position: toGraphPosition(m.PositionOf("scripts")),
		})
		return
	}

	if strings.TrimSpace(scriptCmd) == "" {
		w.addDiag(Diagnostic{
			Kind:     DiagNoScriptsInPackageJSON,
			Severity: SeverityError,
			Message:  "scripts." + ref.Name + " must be a non-blank string",
			Position: toGraphPosition(m.PositionOf("scripts." + gjsonEscape(ref.Name))),
		})
		return
	}

	if !inWireit {
		w.addDiag(Diagnostic{
			Kind:     DiagScriptNotWireit,
			Severity: SeverityError,
			Message:  "script \"" + ref.Name + "\" does not have a wireit configuration",
			Position: toGraphPosition(m.PositionOf("scripts." + gjsonEscape(ref.Name))),
		})
		return
	}

	if scriptCmd != wireitInvocation {
		w.addDiag(Diagnostic{
			Kind:     DiagLaunchedIncorrectly,
			Severity: SeverityWarning,
			Message:  "scripts." + ref.Name + " should just be \"wireit\"; found " + scriptCmd,
			Position: toGraphPosition(m.PositionOf("scripts." + gjsonEscape(ref.Name))),
		})
	}

	n.DeclaringFile = m.Path
	n.Position = toGraphPosition(m.PositionOf("wireit." + gjsonEscape(ref.Name)))
	n.ExtraArgs = extraArgs

	if raw.Command != nil && *raw.Command != "" {
		n.Command = *raw.Command
	}
	if n.Command == "" && len(raw.Dependencies) == 0 {
		w.addDiag(Diagnostic{
			Kind:     DiagInvalidConfigSyntax,
			Severity: SeverityError,
			Message:  "wireit." + ref.Name + " must have a command, dependencies, or both",
			Position: n.Position,
		})
		return
	}

	if raw.Service != nil {
		n.Kind = KindService
		if raw.Service.ReadyWhen != nil && raw.Service.ReadyWhen.LineMatches != nil {
			re, err := regexp.Compile(*raw.Service.ReadyWhen.LineMatches)
			if err != nil {
				w.addDiag(Diagnostic{
					Kind:     DiagInvalidConfigSyntax,
					Severity: SeverityError,
					Message:  "invalid readyWhen.lineMatches pattern: " + err.Error(),
					Position: n.Position,
				})
				return
			}
			n.Ready = ReadyWhen{LineMatches: re}
		}
	} else if n.Command != "" {
		n.Kind = KindOneShot
	} else {
		n.Kind = KindNoCommand
	}

	if clean, ok, err := parseClean(raw.Clean); err != nil {
		w.addDiag(Diagnostic{
			Kind:     DiagInvalidConfigSyntax,
			Severity: SeverityError,
			Message:  err.Error(),
			Position: n.Position,
		})
		return
	} else if ok {
		n.Clean = clean
	} else {
		n.Clean = CleanAlways // default, per §6
	}

	n.Env = raw.Env
	n.Output = raw.Output

	if raw.Files != nil {
		n.Files = append([]string(nil), (*raw.Files)...)
	}
	if raw.PackageLocks != nil {
		n.PackageLocks = append([]string(nil), (*raw.PackageLocks)...)
	}
	applyPackageLockExpansion(n)

	// Resolve dependencies, detecting duplicates by resolved reference.
	seen := make(map[string]Position)
	for i, rawDep := range raw.Dependencies {
		depPos := toGraphPosition(m.PositionOf("wireit." + gjsonEscape(ref.Name) + ".dependencies." + itoa(i)))
		depRef, ok := resolveDependency(ref.PackageDir, rawDep.Script)
		if !ok {
			w.addDiag(Diagnostic{
				Kind:     DiagDependencyInvalid,
				Severity: SeverityError,
				Message:  "invalid dependency reference " + rawDep.Script,
				Position: depPos,
			})
			continue
		}
		if prior, dup := seen[depRef.String()]; dup {
			w.addDiag(Diagnostic{
				Kind:     DiagDuplicateDependency,
				Severity: SeverityError,
				Message:  "duplicate dependency on " + depRef.Name,
				Position: depPos,
				Related:  []Related{{Message: "first occurrence here", Position: prior}},
			})
			continue
		}
		seen[depRef.String()] = depPos

		depConfig := w.schedule(ctx, depRef, nil, false)
		n.Dependencies = append(n.Dependencies, Dependency{
			Config:   depConfig,
			Position: depPos,
			Cascade:  rawDep.Cascade,
		})
	}
}

func diagForManifestError(ref ScriptReference, err error, isRoot bool) Diagnostic {
	var notFound *manifest.NotFoundError
	var syntax *manifest.SyntaxError
	var schemaErr *manifest.SchemaError
	switch {
	case xerrors.As(err, &notFound):
		kind := DiagMissingPackageJSON
		if !isRoot {
			kind = DiagDependencyOnMissingPackageJSON
		}
		return Diagnostic{
			Kind:     kind,
			Severity: SeverityError,
			Message:  notFound.Error(),
		}
	case xerrors.As(err, &syntax):
		return Diagnostic{
			Kind:     DiagInvalidJSONSyntax,
			Severity: SeverityError,
			Message:  syntax.Error(),
		}
	case xerrors.As(err, &schemaErr):
		return Diagnostic{
			Kind:     DiagInvalidConfigSyntax,
			Severity: SeverityError,
			Message:  schemaErr.Error(),
		}
	default:
		return Diagnostic{
			Kind:     DiagUnknownErrorThrown,
			Severity: SeverityError,
			Message:  err.Error(),
		}
	}
}

// resolveDependency resolves a raw dependency string relative to
// referencingDir per §4.1: a leading "." marks a cross-package reference of
// the form "<relpath>:<name>"; anything else is a same-package script name.
func resolveDependency(referencingDir, raw string) (ScriptReference, bool) {
	if !strings.HasPrefix(raw, ".") {
		if raw == "" {
			return ScriptReference{}, false
		}
		return ScriptReference{PackageDir: referencingDir, Name: raw}, true
	}
	relPath, name, ok := strings.Cut(raw, ":")
	if !ok || relPath == "" || name == "" {
		return ScriptReference{}, false
	}
	resolvedDir := filepath.Clean(filepath.Join(referencingDir, relPath))
	if resolvedDir == referencingDir {
		return ScriptReference{}, false
	}
	return ScriptReference{PackageDir: resolvedDir, Name: name}, true
}

// applyPackageLockExpansion synthesizes one additional input pattern per
// lockfile name for every ancestor directory up to the filesystem root,
// whether or not such a file exists there, per §4.1's "Package-lock
// expansion": it models npm/pnpm/yarn resolving a lockfile up the directory
// chain at runtime.
func applyPackageLockExpansion(n *ScriptConfig) {
	if n.Files == nil {
		return // "files" undefined: freshness/caching already disabled.
	}
	if n.PackageLocks != nil && len(n.PackageLocks) == 0 {
		return // explicitly disabled by an empty packageLocks array.
	}
	names := n.PackageLocks
	if names == nil {
		names = []string{manifest.DefaultLockfileName}
	}

	dir := n.Reference.PackageDir
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			break // reached the filesystem root
		}
		for _, name := range names {
			rel, err := filepath.Rel(n.Reference.PackageDir, filepath.Join(parent, name))
			if err != nil {
				continue
			}
			n.Files = append(n.Files, filepath.ToSlash(rel))
		}
		dir = parent
	}
}

func parseClean(raw []byte) (CleanPolicy, bool, error) {
	if len(raw) == 0 {
		return 0, false, nil
	}
	s := strings.TrimSpace(string(raw))
	switch s {
	case "true":
		return CleanAlways, true, nil
	case "false":
		return CleanNever, true, nil
	case `"if-file-deleted"`:
		return CleanIfFileDeleted, true, nil
	default:
		return 0, false, xerrors.Errorf(`clean must be one of true, false, "if-file-deleted"; got %s`, s)
	}
}

// scriptNode adapts a *ScriptConfig into a gonum graph.Node (an int64 ID is
// the whole interface) so the dependency graph can be handed to
// simple.NewDirectedGraph/topo.Sort, the same mechanism the teacher uses to
// detect and break build-order cycles in cmd/distri/batch.go.
type scriptNode struct {
	id int64
	*ScriptConfig
}

func (n *scriptNode) ID() int64 { return n.id }

// detectCyclesAndSort implements §4.1 pass 2: every reachable script is
// collected once, its dependency list sorted by (PackageDir, Name) so
// downstream fingerprinting and traversal are order-insensitive, and the
// whole graph is checked for cycles via topo.Sort. A self-dependency is
// recognized directly, since gonum's simple.DirectedGraph forbids
// self-loop edges outright. Only once a cycle is confirmed to exist does
// the (more expensive) trail-walk in diagnoseCycles run, to recover a
// concrete, human-readable hop path for the diagnostic — topo.Sort itself
// only reports unordered strongly-connected components, not a path.
func detectCyclesAndSort(root *ScriptConfig) Diagnostics {
	nodes := collectNodes(root)
	for _, n := range nodes {
		sort.Slice(n.Dependencies, func(i, j int) bool {
			return Less(n.Dependencies[i].Config.Reference, n.Dependencies[j].Config.Reference)
		})
	}

	g := simple.NewDirectedGraph()
	byRef := make(map[string]*scriptNode, len(nodes))
	for i, n := range nodes {
		sn := &scriptNode{id: int64(i), ScriptConfig: n}
		byRef[n.Reference.String()] = sn
		g.AddNode(sn)
	}

	hasCycle := false
	for _, n := range nodes {
		from := byRef[n.Reference.String()]
		for _, dep := range n.Dependencies {
			if dep.Config.Reference == n.Reference {
				hasCycle = true
				continue
			}
			g.SetEdge(g.NewEdge(from, byRef[dep.Config.Reference.String()]))
		}
	}
	if !hasCycle {
		if _, err := topo.Sort(g); err != nil {
			hasCycle = true
		}
	}
	if !hasCycle {
		return nil
	}
	return diagnoseCycles(root)
}

// collectNodes returns every *ScriptConfig reachable from root exactly
// once, tolerating cycles in the Dependencies graph (a node is marked
// visited before its own dependencies are walked).
func collectNodes(root *ScriptConfig) []*ScriptConfig {
	visited := make(map[string]bool)
	var nodes []*ScriptConfig
	var walk func(n *ScriptConfig)
	walk = func(n *ScriptConfig) {
		key := n.Reference.String()
		if visited[key] {
			return
		}
		visited[key] = true
		nodes = append(nodes, n)
		for _, dep := range n.Dependencies {
			walk(dep.Config)
		}
	}
	walk(root)
	return nodes
}

// diagnoseCycles is the DFS-with-trail formatter invoked once
// detectCyclesAndSort's gonum topo.Sort has already confirmed the
// reachable graph is cyclic: it re-walks from root, emitting a cycle
// diagnostic enumerating every hop in source order whenever a node is
// re-entered on the current trail.
func diagnoseCycles(root *ScriptConfig) Diagnostics {
	var diags Diagnostics
	visited := make(map[string]bool)

	var trail []cycleHop       // trail[i] is the edge leaving path[i]
	var path []ScriptReference // nodes currently on the DFS stack

	var visit func(n *ScriptConfig) bool // returns false if a cycle was found under n
	visit = func(n *ScriptConfig) bool {
		key := n.Reference.String()
		for i, p := range path {
			if p == n.Reference {
				diags = append(diags, cycleDiagnostic(trail[i:], n.Reference))
				return false
			}
		}
		if visited[key] {
			return true // already fully explored via another path; no new cycle
		}

		ok := true
		path = append(path, n.Reference)
		for _, dep := range n.Dependencies {
			trail = append(trail, cycleHop{ref: dep.Position, to: dep.Config.Reference})
			if !visit(dep.Config) {
				ok = false
			}
			trail = trail[:len(trail)-1]
		}
		path = path[:len(path)-1]
		if ok {
			visited[key] = true
		}
		return ok
	}
	visit(root)
	return diags
}

// cycleHop is one edge traversed on the current DFS trail, recorded so a
// detected cycle's diagnostic can list every hop in source order (§4.1).
type cycleHop struct {
	ref Position
	to  ScriptReference
}

func cycleDiagnostic(hops []cycleHop, closingRef ScriptReference) Diagnostic {
	var related []Related
	var names []string
	for _, h := range hops {
		names = append(names, h.to.Name)
		related = append(related, Related{Message: "depends on " + h.to.Name, Position: h.ref})
	}
	return Diagnostic{
		Kind:     DiagCycle,
		Severity: SeverityError,
		Message:  "cycle detected: " + closingRef.Name + " -> " + strings.Join(names, " -> "),
		Position: hops[0].ref,
		Related:  related,
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func gjsonEscape(s string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(s)
}

// toGraphPosition converts a manifest.Position into a graph.Position. The
// two types are kept separate so internal/manifest need not import
// internal/graph.
func toGraphPosition(p manifest.Position) Position {
	return Position{File: p.File, Offset: p.Offset, Line: p.Line, Column: p.Column}
}
