package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/svnbridge/gitsvn/config"
	"github.com/svnbridge/gitsvn/internal/gitstore"
	"github.com/svnbridge/gitsvn/internal/progress"
	"github.com/svnbridge/gitsvn/internal/push"
	"github.com/svnbridge/gitsvn/internal/revcache"
	"github.com/svnbridge/gitsvn/internal/svnproto"
)

// pushOptions collects every --push flag and positional argument.
type pushOptions struct {
	url        string
	ref        string
	oldSHA     string
	newSHA     string
	preReceive bool
	force      bool
	user       string
	pass       string
	inetd      bool
	gitDir     string
	trunk      string
	branches   string
	tags       string
	configFile string
}

// refLine is one "old new ref" triple, the shape git feeds a
// pre-receive hook on stdin and spec.md §6's "push --pre-receive"
// repeats verbatim.
type refLine struct {
	old, new, ref string
}

// runPush implements the push subcommand: classify, order and emit
// every requested ref update (spec.md §4.8, C8).
func runPush(ctx context.Context, opts pushOptions, stdin io.Reader, log *logrus.Entry) error {
	var lines []refLine
	if opts.preReceive {
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) != 3 {
				continue
			}
			lines = append(lines, refLine{old: fields[0], new: fields[1], ref: fields[2]})
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read pre-receive input: %w", err)
		}
	} else {
		lines = []refLine{{old: opts.oldSHA, new: opts.newSHA, ref: opts.ref}}
	}

	target, err := parseSVNURL(opts.url)
	if err != nil {
		return err
	}
	conn, err := dialConn(target, opts.user, opts.pass, opts.inetd, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	eol := config.EolUnset
	if opts.configFile != "" {
		cfg, err := config.LoadConfigFile(opts.configFile)
		if err != nil {
			return err
		}
		eol = cfg.Svn.Eol
	}

	objects := gitstore.New(opts.gitDir)
	cache := revcache.New(objects, objects)
	planner := push.New(objects)
	pusher := push.NewPusher(objects, push.EOLPolicy{Mode: eol}, log)
	reporter := progress.NewLogReporter(log)

	for _, line := range lines {
		if err := pushOne(ctx, conn, cache, planner, pusher, opts, line, reporter); err != nil {
			return fmt.Errorf("push %s: %w", line.ref, err)
		}
	}
	return nil
}

func pushOne(ctx context.Context, conn *svnproto.Conn, cache *revcache.Cache, planner *push.Planner, pusher *push.Pusher, opts pushOptions, line refLine, reporter progress.Reporter) error {
	serverPath, isTag := refToServerPath(line.ref, opts.trunk, opts.branches, opts.tags)

	dest, err := loadDestination(ctx, conn, cache, serverPath, isTag)
	if err != nil {
		return err
	}

	newHead := line.new
	if isZeroSHA(newHead) {
		newHead = ""
	}

	update := push.RefUpdate{
		RefName: line.ref,
		OldHead: line.old,
		NewHead: newHead,
		Force:   opts.force,
		Dest:    dest,
	}

	plan, err := planner.Plan(ctx, update, map[string]bool{})
	if err != nil {
		return err
	}

	sess := push.ConnSession{Conn: conn}
	results, err := pusher.Push(ctx, sess, plan)
	if err != nil {
		return err
	}
	for i, r := range results {
		reporter.Step("pushing commits", i+1, len(plan.Commits))
		refName := revcache.RefName(conn.RepoUUID, serverPath, 0)
		rec := revcache.RevisionRecord{
			Object: r.Oid, ObjectKind: "commit", Revision: r.Info.Rev, Path: serverPath, Date: r.Info.Date,
		}
		if _, err := cache.Put(ctx, refName, plan.Commits[i].Spec.Tree, rec); err != nil {
			return err
		}
	}
	return nil
}

// loadDestination resolves the server-side state push.Destination
// needs: whether the path already exists, its current head commit, and
// the highest revision the caller's knowledge of it reflects.
func loadDestination(ctx context.Context, conn *svnproto.Conn, cache *revcache.Cache, serverPath string, isTag bool) (push.Destination, error) {
	kind, err := conn.CheckPath(serverPath, -1)
	if err != nil {
		return push.Destination{}, err
	}
	dest := push.Destination{Path: serverPath, IsTag: isTag, Exists: kind == svnproto.KindDir}

	refName := revcache.RefName(conn.RepoUUID, serverPath, 0)
	head, ok, err := cache.Head(ctx, refName)
	if err != nil {
		return push.Destination{}, err
	}
	if ok {
		dest.Head = head.Record.Object
		dest.LogRev = head.Record.Revision
	}
	return dest, nil
}

// refToServerPath maps a local ref name onto its server path, following
// the same trunk/branches/tags convention the fetch side registers
// (spec.md §6's "fetch ... --trunk/--branches/--tags" flags, reused here
// since the bridge is symmetric).
func refToServerPath(ref, trunk, branchesPath, tagsPath string) (path string, isTag bool) {
	switch {
	case ref == "refs/heads/trunk" || ref == "refs/heads/master":
		return trunk, false
	case strings.HasPrefix(ref, "refs/heads/"):
		name := strings.TrimPrefix(ref, "refs/heads/")
		return branchesPath + "/" + name, false
	case strings.HasPrefix(ref, "refs/tags/"):
		name := strings.TrimPrefix(ref, "refs/tags/")
		return tagsPath + "/" + name, true
	default:
		return strings.TrimPrefix(ref, "refs/"), false
	}
}

func isZeroSHA(sha string) bool {
	if sha == "" {
		return true
	}
	for _, c := range sha {
		if c != '0' {
			return false
		}
	}
	return true
}
