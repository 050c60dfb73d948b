// Command gitsvn is the bridge's CLI entrypoint: a fetch subcommand that
// replays server revisions onto local refs, and a push subcommand that
// uploads local commits to the server (spec.md §6 "CLI surface").
//
// Grounded on the teacher's main.go flag block and logger-level wiring
// (kingpin.Flag/.Int()/.Bool(), logrus.Level from --debug), generalised
// from gitp4transfer's single command to two kingpin subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

const appVersion = "gitsvn 0.1.0"

func main() {
	os.Setenv("TZ", "") // spec.md §6: server times round-trip unchanged.
	waitForPauseFile()

	app := kingpin.New("gitsvn", "Bidirectional bridge between a Subversion server and a git repository.")
	app.UsageTemplate(kingpin.CompactUsageTemplate).Version(appVersion).Author("svnbridge")
	app.HelpFlag.Short('h')

	debug := app.Flag("debug", "Enable debugging level.").Short('d').Int()
	profileFlag := app.Flag("profile", "Capture a memory profile for this run.").Hidden().Bool()

	fetchCmd := app.Command("fetch", "Fetch server revisions into local refs.")
	fetchURL := fetchCmd.Arg("url", "svn:// URL of the repository to fetch.").Required().String()
	fetchUser := fetchCmd.Flag("user", "Username for authentication.").String()
	fetchPass := fetchCmd.Flag("pass", "Password for authentication.").String()
	fetchRevision := fetchCmd.Flag("revision", "Revision or range N[:M] to fetch.").String()
	fetchTrunk := fetchCmd.Flag("trunk", "Server path mapped onto refs/heads/trunk.").Default("trunk").String()
	fetchBranches := fetchCmd.Flag("branches", "Server path whose children are fetched as branches.").Default("branches").String()
	fetchTags := fetchCmd.Flag("tags", "Server path whose children are fetched as tags.").Default("tags").String()
	fetchInterval := fetchCmd.Flag("interval", "Poll interval in seconds; 0 runs a single fetch and exits (there is no wake-on-signal mode).").Int()
	fetchVerbose := fetchCmd.Flag("verbose", "Enable verbose logging.").Bool()
	fetchInetd := fetchCmd.Flag("inetd", "Use the process's own stdio as the transport.").Bool()
	fetchGraph := fetchCmd.Flag("graph", "Render the discovered branch graph as a PNG to this path.").String()
	fetchGitDir := fetchCmd.Flag("git-dir", "Path to the local git directory.").Default(".git").String()
	fetchConfig := fetchCmd.Flag("config", "Path to the .gitsvn.yaml configuration file.").String()
	fetchAuthors := fetchCmd.Flag("authors-file", "Path to the svn.authors mapping file.").String()
	fetchWorkers := fetchCmd.Flag("workers", "Number of concurrent log-fetch connections.").Int()

	pushCmd := app.Command("push", "Push local commits to the server.")
	pushURL := pushCmd.Arg("url", "svn:// URL of the repository to push to.").Required().String()
	pushRef := pushCmd.Arg("ref", "Local ref name being updated.").String()
	pushOld := pushCmd.Arg("old-sha", "Previous commit oid for ref.").String()
	pushNew := pushCmd.Arg("new-sha", "New commit oid for ref.").String()
	pushPreReceive := pushCmd.Flag("pre-receive", "Read 'old new ref' triples from stdin instead of positional args.").Bool()
	pushForce := pushCmd.Flag("force", "Always REPLACE instead of requiring a fast-forward.").Bool()
	pushUser := pushCmd.Flag("user", "Username for authentication.").String()
	pushPass := pushCmd.Flag("pass", "Password for authentication.").String()
	pushInetd := pushCmd.Flag("inetd", "Use the process's own stdio as the transport.").Bool()
	pushGitDir := pushCmd.Flag("git-dir", "Path to the local git directory.").Default(".git").String()
	pushTrunk := pushCmd.Flag("trunk", "Server path mapped onto refs/heads/trunk.").Default("trunk").String()
	pushBranches := pushCmd.Flag("branches", "Server path whose children branches push under.").Default("branches").String()
	pushTags := pushCmd.Flag("tags", "Server path whose children tags push under.").Default("tags").String()
	pushConfig := pushCmd.Flag("config", "Path to the .gitsvn.yaml configuration file.").String()

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}
	log := logrus.NewEntry(logger)

	if *profileFlag {
		defer profile.Start(profile.MemProfile).Stop()
	}

	ctx := context.Background()
	var err error
	switch cmd {
	case fetchCmd.FullCommand():
		level := logrus.InfoLevel
		if *fetchVerbose {
			level = logrus.DebugLevel
		}
		logger.Level = level
		err = runFetch(ctx, fetchOptions{
			url: *fetchURL, user: *fetchUser, pass: *fetchPass, revision: *fetchRevision,
			trunk: *fetchTrunk, branches: *fetchBranches, tags: *fetchTags,
			interval: *fetchInterval, verbose: *fetchVerbose, inetd: *fetchInetd,
			graphFile: *fetchGraph, gitDir: *fetchGitDir, configFile: *fetchConfig,
			authorsFile: *fetchAuthors, workers: *fetchWorkers,
		}, log)
		if err == nil && *fetchInterval > 0 {
			err = pollLoop(ctx, *fetchInterval, log, func() error {
				return runFetch(ctx, fetchOptions{
					url: *fetchURL, user: *fetchUser, pass: *fetchPass, revision: *fetchRevision,
					trunk: *fetchTrunk, branches: *fetchBranches, tags: *fetchTags,
					interval: *fetchInterval, verbose: *fetchVerbose, inetd: *fetchInetd,
					graphFile: *fetchGraph, gitDir: *fetchGitDir, configFile: *fetchConfig,
					authorsFile: *fetchAuthors, workers: *fetchWorkers,
				}, log)
			})
		}
	case pushCmd.FullCommand():
		err = runPush(ctx, pushOptions{
			url: *pushURL, ref: *pushRef, oldSHA: *pushOld, newSHA: *pushNew,
			preReceive: *pushPreReceive, force: *pushForce, user: *pushUser, pass: *pushPass,
			inetd: *pushInetd, gitDir: *pushGitDir, trunk: *pushTrunk, branches: *pushBranches, tags: *pushTags,
			configFile: *pushConfig,
		}, os.Stdin, log)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// waitForPauseFile implements spec.md §6's "*_PAUSE vars if set cause a
// startup spin-wait on the presence of a pidfile for external
// debugging": any environment variable whose name ends in _PAUSE names
// a pidfile path; its presence gates startup.
func waitForPauseFile() {
	for _, kv := range os.Environ() {
		name, value := splitEnv(kv)
		if len(name) > 6 && name[len(name)-6:] == "_PAUSE" && value != "" {
			for {
				if _, err := os.Stat(value); err == nil {
					return
				}
				time.Sleep(200 * time.Millisecond)
			}
		}
	}
}

func splitEnv(kv string) (string, string) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:]
		}
	}
	return kv, ""
}

// pollLoop re-runs fn every interval seconds until it returns an error
// (--interval); interval == 0 is handled by the caller, which never
// enters this loop and instead runs fetch exactly once.
func pollLoop(ctx context.Context, interval int, log *logrus.Entry, fn func() error) error {
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			log.Debug("polling for new revisions")
			if err := fn(); err != nil {
				return err
			}
		}
	}
}
