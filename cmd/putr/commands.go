package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/JonMunkholm/putr/internal/admin"
	"github.com/JonMunkholm/putr/internal/core"
	"github.com/shopspring/decimal"
)

const usage = `usage: putr <command> [arguments]

commands:
  add [-exclude names] <ledger.csv>   commit a game ledger
  results [-exclude names] <ledger.csv>
                                      print a ledger's nets without saving
  last                                describe what undo would restore
  undo [snapshot-id]                  restore the newest or the given snapshot
  players                             list every player's totals
  recent [-n count] <player>          show a player's last games
  status                              show service state and snapshot count
  seed <data.json>                    replace every player from a data file
  reset [-yes]                        zero every player's statistics
`

type cli struct {
	svc    *core.Service
	seeder core.ProfileReplacer
	in     io.Reader
	out    io.Writer
}

// run executes one command and returns the process exit code.
func (c *cli) run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(c.out, usage)
		return 2
	}

	var err error
	switch cmd, rest := args[0], args[1:]; cmd {
	case "add":
		err = c.add(ctx, rest)
	case "results":
		err = c.results(rest)
	case "last":
		err = c.last(ctx)
	case "undo":
		err = c.undo(ctx, rest)
	case "players":
		err = c.players(ctx)
	case "recent":
		err = c.recent(ctx, rest)
	case "status":
		err = c.status(ctx)
	case "seed":
		err = c.seed(ctx, rest)
	case "reset":
		err = c.reset(ctx, rest)
	case "help", "-h", "--help":
		fmt.Fprint(c.out, usage)
		return 0
	default:
		fmt.Fprintf(c.out, "putr: unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	if err != nil {
		c.printError(err)
		return 1
	}
	return 0
}

func (c *cli) printError(err error) {
	var usageErr usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(c.out, "putr: %s\n", usageErr)
		return
	}
	if errors.Is(err, admin.ErrNotConfirmed) {
		fmt.Fprintln(c.out, "putr: reset cancelled")
		return
	}
	ue := core.Classify(err, nil)
	fmt.Fprintf(c.out, "error: %s [%s]\n", ue.Message, ue.Code())
	if ue.Detail != "" {
		fmt.Fprintf(c.out, "  %s\n", ue.Detail)
	}
	for _, h := range ue.Hints {
		fmt.Fprintf(c.out, "  - %s\n", h)
	}
	fmt.Fprintf(c.out, "  reference: %s\n", ue.ID)
}

type usageError string

func (e usageError) Error() string { return string(e) }

// ledgerArgs parses [-exclude names] <file> and reads the file.
func ledgerArgs(name string, args []string) (filename string, data []byte, exclude []string, err error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	excl := fs.String("exclude", "", "comma-separated nicknames to drop")
	if err := fs.Parse(args); err != nil {
		return "", nil, nil, usageError(err.Error())
	}
	if fs.NArg() != 1 {
		return "", nil, nil, usageError(name + " needs exactly one ledger file")
	}

	path := fs.Arg(0)
	f, err := os.Open(path)
	if err != nil {
		return "", nil, nil, core.NewError(core.KindFileValidation, core.SubReadFailed,
			map[string]any{"reason": err.Error()}, core.WithCause(err))
	}
	defer f.Close()
	data, err = core.ReadLedger(f, 0)
	if err != nil {
		return "", nil, nil, err
	}

	for _, n := range strings.Split(*excl, ",") {
		if n = strings.TrimSpace(n); n != "" {
			exclude = append(exclude, n)
		}
	}
	return filepath.Base(path), data, exclude, nil
}

func (c *cli) add(ctx context.Context, args []string) error {
	filename, data, exclude, err := ledgerArgs("add", args)
	if err != nil {
		return err
	}
	res, err := c.svc.Upload(ctx, core.UploadRequest{Filename: filename, Data: data, Exclude: exclude})
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "game %s committed for %d players (snapshot %s)\n", res.GameDate, res.PlayerCount, res.SnapshotID)
	c.printResults(res.Results)
	c.printWarnings(res.Warnings)
	return nil
}

func (c *cli) results(args []string) error {
	filename, data, exclude, err := ledgerArgs("results", args)
	if err != nil {
		return err
	}
	report, err := c.svc.GameResults(filename, data, exclude)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "game %s\n", report.GameDate)
	c.printResults(report.Results)
	c.printWarnings(report.Warnings)
	return nil
}

func (c *cli) printResults(results []core.PlayerGameResult) {
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', tabwriter.AlignRight)
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t\n", r.Nickname, r.NetDollars().StringFixed(2))
	}
	tw.Flush()
}

func (c *cli) printWarnings(warnings []*core.UploadError) {
	for _, w := range warnings {
		fmt.Fprintf(c.out, "warning: %s [%s]\n", w.Message, w.Code())
	}
}

func (c *cli) last(ctx context.Context) error {
	p, err := c.svc.PreviewUndo(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "snapshot %s\n", p.SnapshotID)
	fmt.Fprintf(c.out, "  game:    %s\n", p.GameDate)
	if p.SourceName != "" {
		fmt.Fprintf(c.out, "  file:    %s\n", p.SourceName)
	}
	fmt.Fprintf(c.out, "  taken:   %s\n", p.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(c.out, "  players: %d\n", p.PlayerCount)
	if !p.CanUndo {
		fmt.Fprintf(c.out, "  cannot undo: %s\n", p.Reason)
	}
	return nil
}

func (c *cli) undo(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return usageError("undo takes at most one snapshot id")
	}
	var id string
	if len(args) == 1 {
		id = args[0]
	}
	res, err := c.svc.Undo(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "restored %d players from snapshot %s (game %s)\n", len(res.RestoredKeys), res.SnapshotID, res.GameDate)
	return nil
}

func (c *cli) players(ctx context.Context) error {
	profiles, err := c.svc.Players(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNET\tGAMES\tUP\tDOWN\tAVERAGE")
	for _, p := range profiles {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", p.Key, money(p.Net), len(p.GamesPlayed),
			p.GamesUp, p.GamesDown, money(p.AverageNet))
	}
	return tw.Flush()
}

func (c *cli) recent(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recent", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	n := fs.Int("n", 5, "number of games")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if fs.NArg() != 1 {
		return usageError("recent needs a player")
	}

	rg, err := c.svc.RecentGames(ctx, fs.Arg(0), *n)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s: net %s over %d games (average %s)\n", rg.Key, money(rg.Net), len(rg.Games), money(rg.Average))
	for _, g := range rg.Games {
		fmt.Fprintf(c.out, "  %s  %s  (total %s)\n", g.Date, money(g.Delta), money(g.Total))
	}
	return nil
}

func (c *cli) status(ctx context.Context) error {
	st, err := c.svc.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "state:     %s\n", st.State)
	fmt.Fprintf(c.out, "snapshots: %d\n", st.Snapshots)
	if st.LastError != nil {
		fmt.Fprintf(c.out, "last error: %s [%s]\n", st.LastError.Message, st.LastError.Code())
	}
	return nil
}

func (c *cli) seed(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("seed needs exactly one data file")
	}
	profiles, err := admin.LoadSeedFile(args[0])
	if err != nil {
		return core.NewError(core.KindDataValidation, core.SubNoValidRows, map[string]any{"reason": err.Error()},
			core.WithMessage("The seed file is invalid"), core.WithDetail(err.Error()), core.WithCause(err))
	}

	ctx, cancel := context.WithTimeout(ctx, admin.ResetTimeout)
	defer cancel()
	res, err := c.svc.Seed(ctx, c.seeder, profiles)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "seeded %d players, cleared %d snapshots\n", res.PlayerCount, res.ClearedSnapshots)
	return nil
}

func (c *cli) reset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}

	if !*yes {
		profiles, err := c.svc.Players(ctx)
		if err != nil {
			return err
		}
		if err := admin.ConfirmReset(c.in, c.out, len(profiles)); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, admin.ResetTimeout)
	defer cancel()
	res, err := c.svc.ResetStats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "reset %d players; undo restores snapshot %s\n", res.PlayerCount, res.SnapshotID)
	return nil
}

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
