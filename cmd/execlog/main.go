// Command execlog inspects and archives the execution log.
//
//	execlog [-config path] list    [-from T] [-to T]
//	execlog [-config path] summary [-from T] [-to T]
//	execlog [-config path] archive [-day YYYY-MM-DD]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"solana-arb-engine/internal/archive"
	"solana-arb-engine/internal/config"
	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/logging"
	"solana-arb-engine/internal/storage"
	pgstore "solana-arb-engine/internal/storage/postgres"
	"solana-arb-engine/internal/storage/sqlite"
)

const dayLayout = "2006-01-02"

func main() {
	configPath := flag.String("config", "config.toml", "Path to the TOML configuration file")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, _, err := config.Load(*configPath)
	if err != nil {
		fatalf("%v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fatalf("%v", err)
	}

	ctx := context.Background()
	execLog, closeLog, err := openExecutionLog(ctx, cfg)
	if err != nil {
		fatalf("%v", err)
	}
	defer closeLog()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "list":
		err = runList(ctx, execLog, args, os.Stdout)
	case "summary":
		err = runSummary(ctx, execLog, args, os.Stdout)
	case "archive":
		err = runArchive(ctx, cfg, execLog, args, logger)
	default:
		usage()
		closeLog()
		os.Exit(2)
	}
	if err != nil {
		closeLog()
		fatalf("%s: %v", cmd, err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: execlog [-config path] list|summary [-from T] [-to T]")
	fmt.Fprintln(os.Stderr, "       execlog [-config path] archive [-day YYYY-MM-DD]")
	fmt.Fprintln(os.Stderr, "T is RFC3339 or YYYY-MM-DD (UTC); the default range is the last 24 hours")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "execlog: "+format+"\n", args...)
	os.Exit(1)
}

func openExecutionLog(ctx context.Context, cfg *config.Config) (storage.ExecutionLogStore, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return pgstore.NewExecutionLogStore(pool), pool.Close, nil
	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("storage backend %q keeps no durable log", cfg.Storage.Backend)
	}
}

// parseRange reads -from/-to. Date-only values cover the whole UTC day.
func parseRange(name string, args []string, now time.Time) (time.Time, time.Time, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	from := fs.String("from", "", "range start")
	to := fs.String("to", "", "range end")
	if err := fs.Parse(args); err != nil {
		return time.Time{}, time.Time{}, err
	}

	end := now.UTC()
	start := end.Add(-24 * time.Hour)
	var err error
	if *from != "" {
		if start, _, err = parseTime(*from); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("-from: %w", err)
		}
	}
	if *to != "" {
		var dayOnly bool
		if end, dayOnly, err = parseTime(*to); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("-to: %w", err)
		}
		if dayOnly {
			end = end.AddDate(0, 0, 1).Add(-time.Millisecond)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("-to is before -from")
	}
	return start, end, nil
}

func parseTime(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.ParseInLocation(dayLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("want RFC3339 or %s, got %q", dayLayout, s)
	}
	return t, true, nil
}

func runList(ctx context.Context, execLog storage.ExecutionLogStore, args []string, out io.Writer) error {
	start, end, err := parseRange("list", args, time.Now())
	if err != nil {
		return err
	}
	records, err := execLog.GetByTimeRange(ctx, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINISHED\tATTEMPT\tSTATE\tROUTE\tEXPECTED%\tPNL_USD\tREASON")
	for _, r := range records {
		state := string(r.State)
		pnl := "-"
		if r.PnLKnown {
			pnl = r.RealizedPnLUSD.StringFixed(2)
		}
		if r.State == domain.StateExpired {
			recs, err := execLog.GetReconciliations(ctx, r.AttemptID)
			if err != nil {
				return err
			}
			if len(recs) > 0 {
				state += "/" + recs[0].Outcome
				if recs[0].PnLKnown {
					pnl = recs[0].RealizedPnLUSD.StringFixed(2)
				}
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.3f\t%s\t%s\n",
			time.UnixMilli(r.FinishedAt).UTC().Format(time.RFC3339),
			r.AttemptID, state, r.Route, r.ExpectedProfitPct, pnl, r.Reason)
	}
	return w.Flush()
}

func runSummary(ctx context.Context, execLog storage.ExecutionLogStore, args []string, out io.Writer) error {
	start, end, err := parseRange("summary", args, time.Now())
	if err != nil {
		return err
	}
	records, err := execLog.GetByTimeRange(ctx, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return err
	}

	recs := make(map[string]*domain.ReconciliationRecord)
	for _, r := range records {
		if r.State != domain.StateExpired {
			continue
		}
		rr, err := execLog.GetReconciliations(ctx, r.AttemptID)
		if err != nil {
			return err
		}
		if len(rr) > 0 {
			recs[r.AttemptID] = rr[0]
		}
	}

	s := summarize(records, recs, 5)
	printSummary(out, start, end, s)
	return nil
}

func printSummary(out io.Writer, start, end time.Time, s Summary) {
	fmt.Fprintf(out, "range:          %s .. %s\n", start.Format(time.RFC3339), end.Format(time.RFC3339))
	fmt.Fprintf(out, "attempts:       %d\n", s.Attempts)
	for _, st := range []domain.AttemptState{domain.StateConfirmed, domain.StateFailed, domain.StateExpired} {
		fmt.Fprintf(out, "  %-12s  %d\n", st, s.ByState[st])
	}
	for _, o := range []string{domain.ReconcileLanded, domain.ReconcileFailed, domain.ReconcileDropped} {
		fmt.Fprintf(out, "  expired/%-7s %d\n", o, s.ByReconcile[o])
	}
	fmt.Fprintf(out, "  unreconciled  %d\n", s.Unreconciled)
	fmt.Fprintf(out, "success rate:   %.1f%%\n", s.SuccessRate()*100)
	fmt.Fprintf(out, "avg expected:   %.3f%%\n", s.AvgExpectedPct)
	fmt.Fprintf(out, "fees:           %d lamports\n", s.FeeLamports)
	fmt.Fprintf(out, "realized pnl:   %s USD (%d unknown)\n", s.RealizedPnLUSD.StringFixed(2), s.PnLUnknown)

	anchors := make([]string, 0, len(s.PnLByAnchorUSD))
	for a := range s.PnLByAnchorUSD {
		anchors = append(anchors, a)
	}
	sort.Strings(anchors)
	for _, a := range anchors {
		fmt.Fprintf(out, "  %s  %s USD\n", a, s.PnLByAnchorUSD[a].StringFixed(2))
	}
	if len(s.TopFailReasons) > 0 {
		fmt.Fprintln(out, "top failure reasons:")
		for _, rc := range s.TopFailReasons {
			fmt.Fprintf(out, "  %4d  %s\n", rc.Count, rc.Reason)
		}
	}
}

func runArchive(ctx context.Context, cfg *config.Config, execLog storage.ExecutionLogStore, args []string, logger zerolog.Logger) error {
	fs := flag.NewFlagSet("archive", flag.ContinueOnError)
	dayFlag := fs.String("day", "", "UTC day to archive (default yesterday)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	day := time.Now().UTC().AddDate(0, 0, -1)
	if *dayFlag != "" {
		t, err := time.ParseInLocation(dayLayout, *dayFlag, time.UTC)
		if err != nil {
			return fmt.Errorf("-day: %w", err)
		}
		day = t
	}

	a := cfg.Archive
	if a.Bucket == "" {
		return errors.New("archive.bucket is not configured")
	}
	client, err := archive.NewS3Client(ctx, archive.ClientConfig{
		Endpoint:       a.Endpoint,
		Region:         a.Region,
		Bucket:         a.Bucket,
		AccessKey:      a.AccessKey,
		SecretKey:      a.SecretKey,
		UseSSL:         a.UseSSL,
		ForcePathStyle: a.ForcePathStyle,
	})
	if err != nil {
		return err
	}

	archiver := archive.NewArchiver(client, a.Bucket, a.Prefix, execLog, logger)
	n, err := archiver.ArchiveDay(ctx, day)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Printf("no records on %s\n", day.Format(dayLayout))
		return nil
	}
	fmt.Printf("archived %d records to s3://%s/%s\n", n, a.Bucket, archiver.Key(day))
	return nil
}
