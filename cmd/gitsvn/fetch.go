package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alitto/pond"
	"github.com/sirupsen/logrus"

	"github.com/svnbridge/gitsvn/config"
	"github.com/svnbridge/gitsvn/internal/apply"
	"github.com/svnbridge/gitsvn/internal/authors"
	"github.com/svnbridge/gitsvn/internal/branch"
	"github.com/svnbridge/gitsvn/internal/fetch"
	"github.com/svnbridge/gitsvn/internal/gitstore"
	"github.com/svnbridge/gitsvn/internal/graph"
	"github.com/svnbridge/gitsvn/internal/progress"
	"github.com/svnbridge/gitsvn/internal/revcache"
	"github.com/svnbridge/gitsvn/internal/svnproto"
)

// fetchOptions collects every --fetch flag, mirroring the teacher's
// GitParserOptions struct of plain fields filled in directly from
// kingpin flag pointers.
type fetchOptions struct {
	url         string
	user        string
	pass        string
	revision    string
	trunk       string
	branches    string
	tags        string
	interval    int
	verbose     bool
	inetd       bool
	graphFile   string
	gitDir      string
	configFile  string
	authorsFile string
	workers     int
}

// runFetch implements the fetch subcommand end to end: dial, discover
// branches, run the log planner, replay every pending entry through the
// update applier in revision order, advance refs (spec.md §4.6, §4.7).
func runFetch(ctx context.Context, opts fetchOptions, log *logrus.Entry) error {
	target, err := parseSVNURL(opts.url)
	if err != nil {
		return err
	}

	dial := func(ctx context.Context) (fetch.LogSource, error) {
		conn, err := dialConn(target, opts.user, opts.pass, opts.inetd, log)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	primary, err := dialConn(target, opts.user, opts.pass, opts.inetd, log)
	if err != nil {
		return err
	}
	defer primary.Close()

	objects := gitstore.New(opts.gitDir)
	cache := revcache.New(objects, objects)
	reg := branch.NewRegistry()

	authorsFile := opts.authorsFile
	if opts.configFile != "" {
		cfg, err := config.LoadConfigFile(opts.configFile)
		if err != nil {
			return err
		}
		if authorsFile == "" {
			authorsFile = cfg.Svn.Authors
		}
	}
	authorMap, err := loadAuthors(authorsFile)
	if err != nil {
		return err
	}

	startRev, endRev, err := parseRevisionRange(opts.revision, primary)
	if err != nil {
		return err
	}

	branches, err := discoverBranches(ctx, primary, reg, cache, opts, endRev, log)
	if err != nil {
		return err
	}
	for _, br := range branches {
		if br.Start < startRev {
			br.Start = startRev
		}
	}

	workers := opts.workers
	if workers <= 0 {
		workers = 4
	}
	pool := pond.New(workers, 0, pond.MinWorkers(1))
	defer pool.StopAndWait()

	planner := fetch.NewPlanner(reg, dial, pool, log)
	for _, br := range branches {
		planner.Enqueue(br, endRev)
	}
	if err := planner.Run(ctx); err != nil {
		return err
	}

	applier := apply.New(objects, objects, cache, reg, authorMap, primary.RepoUUID, log)
	reporter := progress.NewLogReporter(log)
	if err := applyPending(ctx, applier, primary, branches, reporter); err != nil {
		return err
	}

	if opts.graphFile != "" {
		if err := graph.RenderPNG(ctx, reg, opts.graphFile); err != nil {
			return fmt.Errorf("render branch graph: %w", err)
		}
	}
	return nil
}

// dialConn opens one connection, either over the process's own stdio
// (--inetd) or a fresh TCP dial, and authenticates it.
func dialConn(target parsedURL, user, pass string, inetd bool, log *logrus.Entry) (*svnproto.Conn, error) {
	creds := svnproto.Credentials{Username: user, Password: pass}
	if inetd {
		return svnproto.Dial(newStdioTransport(), creds, log)
	}
	nc, err := dialTCP(target.HostPort)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target.HostPort, err)
	}
	return svnproto.Dial(nc, creds, log)
}

func loadAuthors(path string) (*authors.Map, error) {
	if path == "" {
		return authors.Parse(strings.NewReader(""))
	}
	return authors.ParseFile(path)
}

// discoverBranches registers the trunk, and every immediate child of
// the branches and tags paths, resuming each slice's state from its
// existing RevisionRecord head if one was already fetched (spec.md
// §4.5's object store as the source of truth for restart).
func discoverBranches(ctx context.Context, conn *svnproto.Conn, reg *branch.Registry, cache *revcache.Cache, opts fetchOptions, rev int64, log *logrus.Entry) ([]*branch.Branch, error) {
	var out []*branch.Branch

	trunk := reg.GetBranch(opts.trunk, 0)
	trunk.Refs = []string{"refs/heads/trunk"}
	out = append(out, trunk)

	if opts.branches != "" {
		kind, err := conn.CheckPath(opts.branches, rev)
		if err == nil && kind == svnproto.KindDir {
			entries, err := conn.GetDir(opts.branches, rev)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if e.Kind != svnproto.KindDir {
					continue
				}
				b := reg.GetBranch(opts.branches+"/"+e.Name, 0)
				b.Refs = []string{"refs/heads/" + e.Name}
				out = append(out, b)
			}
		}
	}

	if opts.tags != "" {
		kind, err := conn.CheckPath(opts.tags, rev)
		if err == nil && kind == svnproto.KindDir {
			entries, err := conn.GetDir(opts.tags, rev)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if e.Kind != svnproto.KindDir {
					continue
				}
				b := reg.GetBranch(opts.tags+"/"+e.Name, 0)
				b.IsTag = true
				b.Refs = []string{"refs/tags/" + e.Name}
				out = append(out, b)
			}
		}
	}

	for _, br := range out {
		refName := revcache.RefName(conn.RepoUUID, br.Path, br.Start)
		head, ok, err := cache.Head(ctx, refName)
		if err != nil {
			return nil, err
		}
		if ok && head.Record.ObjectKind == "commit" {
			br.Head = head.Record.Object
			br.LogRev = head.Record.Revision
			br.Rev = head.Record.Revision
		} else if ok {
			log.WithField("branch", br.Path).Warn("existing head is a tag wrapper; resuming from scratch for this slice")
		}
	}
	return out, nil
}

// applyPending drains every branch's Pending queue in global revision
// order, matching spec.md §4.7's "strictly sequential" update applier.
func applyPending(ctx context.Context, applier *apply.Applier, conn *svnproto.Conn, branches []*branch.Branch, reporter progress.Reporter) error {
	type work struct {
		br    *branch.Branch
		entry *branch.LogEntry
	}
	var all []work
	for _, br := range branches {
		for _, e := range br.Pending {
			all = append(all, work{br, e})
		}
		br.Pending = nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].entry.Rev < all[j].entry.Rev })

	for i, w := range all {
		driver := connDriver{conn: conn, opts: svnproto.UpdateOptions{
			Rev: w.entry.Rev, Path: w.br.Path, Recurse: true,
			StartEmpty: w.br.Head == "" && w.entry.CopySource == nil,
		}}
		if err := applier.ApplyEntry(ctx, w.br, w.entry, driver); err != nil {
			return fmt.Errorf("apply %s@%d: %w", w.br.Path, w.entry.Rev, err)
		}
		reporter.Step("applying revisions", i+1, len(all))
	}
	return nil
}

// parseRevisionRange parses --revision N[:M] (spec.md §6), resolving an
// absent or open end to the server's latest revision.
func parseRevisionRange(spec string, conn *svnproto.Conn) (start, end int64, err error) {
	if spec == "" {
		latest, err := conn.GetLatestRev()
		if err != nil {
			return 0, 0, err
		}
		return 0, latest, nil
	}
	var s, e int64
	n, scanErr := fmt.Sscanf(spec, "%d:%d", &s, &e)
	if scanErr == nil && n == 2 {
		return s, e, nil
	}
	if _, scanErr := fmt.Sscanf(spec, "%d", &s); scanErr == nil {
		latest, err := conn.GetLatestRev()
		if err != nil {
			return 0, 0, err
		}
		return s, latest, nil
	}
	return 0, 0, fmt.Errorf("invalid --revision %q, expected N or N:M", spec)
}
