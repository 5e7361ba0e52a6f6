package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/supertl/canonical-engine/pkg/apperrors"
	"github.com/supertl/canonical-engine/pkg/config"
	"github.com/supertl/canonical-engine/pkg/database"
	"github.com/supertl/canonical-engine/pkg/logging"
	"github.com/supertl/canonical-engine/pkg/models"
	"github.com/supertl/canonical-engine/pkg/repositories"
	"github.com/supertl/canonical-engine/pkg/retry"
	"github.com/supertl/canonical-engine/pkg/services"
	"github.com/supertl/canonical-engine/pkg/temporal"
	"github.com/supertl/canonical-engine/pkg/workpool"
)

// Version is set at build time via ldflags
var Version = "dev"

const usage = `canonical-engine reconciles workout activities from the GPS platform
and the desktop training log into one canonical store.

Usage: canonical-engine <command> [flags]

Commands:
  migrate               apply pending schema migrations
  ingest                pull unlinked source rows into the canonical store
  backfill-tz           resolve timezone name, offset, and provenance
  recompute-offsets     recompute DST-aware UTC offsets from zone names
  find-duplicates       report overlapping activities for duplicate review
  find-tz-mismatches    report cross-source pairs shifted by whole hours
  untangle              resolve activities with conflicting annotations
  merge                 fold confirmed duplicate pairs together
  backfill-annotations  synthesize annotations for desktop-linked rows
  check                 run store integrity and coverage checks
  lookup                resolve one activity by id, key, or native id
  list                  page through activities in a UTC window
  runs                  show the recent run ledger

Run 'canonical-engine <command> -h' for command flags.
Per-row skips and failures are counted and logged; commands exit
non-zero only when setup fails before any work starts.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	}

	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck // stderr sync failure is harmless on exit

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, command, args, cfg, logger); err != nil {
		// Database errors can echo the connection string back.
		logger.Error("command failed",
			zap.String("command", command),
			zap.String("error", logging.SanitizeError(err)))
		os.Exit(1)
	}
}

// newLogger builds the CLI logger. Reports go to stdout via fmt, logs
// to stderr, so report output stays pipeable.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}

func run(ctx context.Context, command string, args []string, cfg *config.Config, logger *zap.Logger) error {
	// Migrations run before the schema exists, so they skip the app
	// bootstrap and its schema verification.
	if command == "migrate" {
		return runMigrate(cfg, logger)
	}

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	switch command {
	case "ingest":
		return app.runIngest(ctx, args)
	case "backfill-tz":
		return app.runBackfillTz(ctx, args)
	case "recompute-offsets":
		return app.runRecomputeOffsets(ctx, args)
	case "find-duplicates":
		return app.runFindDuplicates(ctx, args)
	case "find-tz-mismatches":
		return app.runFindTzMismatches(ctx, args)
	case "untangle":
		return app.runUntangle(ctx, args)
	case "merge":
		return app.runMerge(ctx, args)
	case "backfill-annotations":
		return app.runBackfillAnnotations(ctx, args)
	case "check":
		return app.runCheck(ctx, args)
	case "lookup":
		return app.runLookup(ctx, args)
	case "list":
		return app.runList(ctx, args)
	case "runs":
		return app.runRuns(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func runMigrate(cfg *config.Config, logger *zap.Logger) error {
	cfg.Database.Host = config.ResolveHostForDocker(cfg.Database.Host)

	logger.Debug("applying migrations",
		zap.String("target", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("path", cfg.Engine.MigrationsPath))

	db, err := database.OpenForMigrations(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	return database.RunMigrations(db, cfg.Engine.MigrationsPath, logger)
}

// ============================================================================
// Application Bootstrap
// ============================================================================

type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *database.DB
	homeZone *time.Location

	activities  repositories.ActivityRepository
	links       repositories.SourceLinkRepository
	annotations repositories.AnnotationRepository
	natives     repositories.NativeActivityRepository
	categories  repositories.CategoryRepository
	runs        repositories.RunRepository
	integrity   repositories.IntegrityRepository
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	homeZone, err := time.LoadLocation(cfg.Engine.HomeTimezone)
	if err != nil {
		return nil, &apperrors.SetupError{Missing: fmt.Sprintf("home timezone %q: %v", cfg.Engine.HomeTimezone, err)}
	}

	cfg.Database.Host = config.ResolveHostForDocker(cfg.Database.Host)
	dbCfg := &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	}

	// A batch run often races the database container coming up; retry
	// transient connect failures, fail fast on bad credentials.
	var db *database.DB
	err = retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
		var cerr error
		db, cerr = database.NewConnection(ctx, dbCfg)
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := database.VerifySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("connected",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database))

	return &app{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		homeZone:    homeZone,
		activities:  repositories.NewActivityRepository(db),
		links:       repositories.NewSourceLinkRepository(db),
		annotations: repositories.NewAnnotationRepository(db),
		natives:     repositories.NewNativeActivityRepository(db),
		categories:  repositories.NewCategoryRepository(db),
		runs:        repositories.NewRunRepository(db),
		integrity:   repositories.NewIntegrityRepository(db),
	}, nil
}

func (a *app) Close() {
	a.db.Close()
}

// recordRun appends to the engine_runs ledger. Recording is best-effort:
// a failed insert never fails the operation that already completed.
func (a *app) recordRun(ctx context.Context, operation string, dryRun bool, counts models.RunCounts, detail map[string]any, startedAt time.Time) {
	finished := time.Now().UTC()
	err := a.runs.Record(ctx, &models.Run{
		Operation:  operation,
		DryRun:     dryRun,
		Counts:     counts,
		Detail:     detail,
		StartedAt:  startedAt,
		FinishedAt: &finished,
	})
	if err != nil {
		a.logger.Warn("failed to record run",
			zap.String("operation", operation),
			zap.Error(err))
	}
}

// ============================================================================
// Write Commands
// ============================================================================

func (a *app) runIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	source := fs.String("source", "", "source system: strava or sporttracks")
	dryRun := fs.Bool("dry-run", false, "report what would happen without writing")
	limit := fs.Int("limit", 0, "max candidates to take, 0 = all")
	if err := fs.Parse(args); err != nil {
		return err
	}

	matcher := services.NewMatcher(a.activities, a.logger)
	ingest := services.NewIngestService(a.db, a.natives, a.activities, a.links, a.annotations, matcher, a.homeZone, a.logger)
	opts := services.IngestOptions{DryRun: *dryRun, Limit: *limit}

	started := time.Now().UTC()
	var counts models.RunCounts
	var err error
	switch models.SourceSystem(*source) {
	case models.SourceStrava:
		counts, err = ingest.IngestStrava(ctx, opts)
	case models.SourceSportTracks:
		counts, err = ingest.IngestSportTracks(ctx, opts)
	default:
		return &apperrors.SetupError{Missing: "--source strava or --source sporttracks"}
	}
	if err != nil {
		return err
	}

	a.recordRun(ctx, "ingest-"+*source, *dryRun, counts, nil, started)
	fmt.Printf("ingest %s%s: created=%d linked=%d annotations=%d skipped=%d errored=%d\n",
		*source, dryRunSuffix(*dryRun),
		counts.Created, counts.Linked, counts.Updated, counts.Skipped, counts.Errored)
	return nil
}

func (a *app) runBackfillTz(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("backfill-tz", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "report what would happen without writing")
	force := fs.Bool("force", false, "revisit rows that already carry a zone")
	limit := fs.Int("limit", 0, "max candidates to take, 0 = all")
	only := fs.String("only", "", "SQL predicate over activity columns to narrow the pass")
	if err := fs.Parse(args); err != nil {
		return err
	}

	started := time.Now().UTC()
	counts, err := a.timezoneService().Backfill(ctx, services.TimezoneOptions{
		DryRun: *dryRun,
		Force:  *force,
		Limit:  *limit,
		Only:   *only,
	})
	if err != nil {
		return err
	}

	a.recordRun(ctx, "backfill-tz", *dryRun, counts, nil, started)
	fmt.Printf("backfill-tz%s: updated=%d skipped=%d errored=%d\n",
		dryRunSuffix(*dryRun), counts.Updated, counts.Skipped, counts.Errored)
	return nil
}

func (a *app) runRecomputeOffsets(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recompute-offsets", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "report what would happen without writing")
	force := fs.Bool("force", false, "recompute rows that already carry an offset")
	limit := fs.Int("limit", 0, "max candidates to take, 0 = all")
	only := fs.String("only", "", "SQL predicate over activity columns to narrow the pass")
	if err := fs.Parse(args); err != nil {
		return err
	}

	started := time.Now().UTC()
	counts, err := a.timezoneService().RecomputeOffsets(ctx, services.TimezoneOptions{
		DryRun: *dryRun,
		Force:  *force,
		Limit:  *limit,
		Only:   *only,
	})
	if err != nil {
		return err
	}

	a.recordRun(ctx, "recompute-offsets", *dryRun, counts, nil, started)
	fmt.Printf("recompute-offsets%s: updated=%d skipped=%d errored=%d\n",
		dryRunSuffix(*dryRun), counts.Updated, counts.Skipped, counts.Errored)
	return nil
}

func (a *app) timezoneService() services.TimezoneService {
	pool := workpool.New(workpool.Config{MaxConcurrent: a.cfg.Engine.OffsetWorkers}, a.logger)
	return services.NewTimezoneService(a.db, a.activities, pool, a.cfg.Engine.HomeTimezone, a.cfg.Engine.AllowedTimezones, a.logger)
}

func (a *app) runUntangle(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("untangle", flag.ExitOnError)
	canonical := fs.Int64("canonical", 0, "restrict to one canonical activity id")
	limit := fs.Int("limit", 0, "max entangled entities to process, 0 = all")
	apply := fs.Bool("apply", false, "perform the recommended unlinks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc := services.NewUntangleService(a.db, a.annotations, a.links, a.logger)

	started := time.Now().UTC()
	report, err := svc.Untangle(ctx, services.UntangleOptions{
		CanonicalActivityID: *canonical,
		Limit:               *limit,
		Apply:               *apply,
	})
	if err != nil {
		return err
	}

	for _, finding := range report.Findings {
		rec := finding.Recommendation
		fmt.Printf("activity %d: keep %s, unlink %s (%s)\n",
			rec.CanonicalActivityID, rec.KeepKey, strings.Join(rec.UnlinkKeys, " "), rec.Reason)
	}

	counts := models.RunCounts{Updated: int(report.Unlinked)}
	a.recordRun(ctx, "untangle", !*apply, counts, map[string]any{"entangled": len(report.Findings)}, started)
	fmt.Printf("untangle%s: entangled=%d unlinked=%d\n",
		dryRunSuffix(!*apply), len(report.Findings), report.Unlinked)
	return nil
}

func (a *app) runMerge(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	pairsPath := fs.String("pairs", "", "CSV of keep_id,drop_id pairs to merge")
	dryRun := fs.Bool("dry-run", false, "report what would happen without writing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pairsPath == "" {
		return &apperrors.SetupError{Missing: "--pairs FILE"}
	}

	f, err := os.Open(*pairsPath)
	if err != nil {
		return fmt.Errorf("open pairs file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	svc := services.NewMergeService(a.db, a.activities, a.links, a.annotations, a.logger)
	pairs, err := svc.LoadPairs(f)
	if err != nil {
		return err
	}

	started := time.Now().UTC()
	report, err := svc.MergePairs(ctx, pairs, *dryRun)
	if err != nil {
		return err
	}

	a.recordRun(ctx, "merge", *dryRun, report.Counts(), map[string]any{
		"links_moved":       report.LinksMoved,
		"annotations_moved": report.AnnotationsMoved,
	}, started)
	fmt.Printf("merge%s: pairs=%d merged=%d skipped=%d errored=%d links_moved=%d annotations_moved=%d\n",
		dryRunSuffix(*dryRun), report.Pairs, report.Merged, report.Skipped, report.Errored,
		report.LinksMoved, report.AnnotationsMoved)
	return nil
}

func (a *app) runBackfillAnnotations(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("backfill-annotations", flag.ExitOnError)
	mappingPath := fs.String("mapping", "", "YAML mapping of desktop categories to category ids")
	dryRun := fs.Bool("dry-run", false, "report what would happen without writing")
	limit := fs.Int("limit", 0, "max candidates to take, 0 = all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *mappingPath == "" {
		return &apperrors.SetupError{Missing: "--mapping FILE"}
	}

	f, err := os.Open(*mappingPath)
	if err != nil {
		return fmt.Errorf("open mapping file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	svc := services.NewAnnotationBackfillService(a.db, a.annotations, a.logger)
	categories, err := svc.LoadCategoryMap(f)
	if err != nil {
		return err
	}

	started := time.Now().UTC()
	report, err := svc.Backfill(ctx, categories, services.AnnotationBackfillOptions{
		DryRun: *dryRun,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}

	a.recordRun(ctx, "backfill-annotations", *dryRun, report.Counts(), nil, started)
	fmt.Printf("backfill-annotations%s: candidates=%d created=%d skipped=%d errored=%d\n",
		dryRunSuffix(*dryRun), report.Candidates, report.Created, report.Skipped, report.Errored)

	if len(report.Unmapped) > 0 {
		labels := make([]string, 0, len(report.Unmapped))
		for label := range report.Unmapped {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		fmt.Println("unmapped categories (extend the mapping and re-run):")
		for _, label := range labels {
			fmt.Printf("  %q: %d candidates\n", label, report.Unmapped[label])
		}
	}
	return nil
}

// ============================================================================
// Report Commands
// ============================================================================

func (a *app) runFindDuplicates(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("find-duplicates", flag.ExitOnError)
	toleranceS := fs.Int("tolerance-s", 0, "expand every interval by this many seconds")
	minOverlapS := fs.Int("min-overlap-s", services.DefaultMinOverlapSeconds, "smallest overlap worth reporting")
	csvPath := fs.String("csv", "", "also write the pairs to this CSV file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc := services.NewOverlapService(a.activities, a.logger)

	started := time.Now().UTC()
	report, err := svc.FindOverlaps(ctx, services.OverlapOptions{
		ToleranceS:  *toleranceS,
		MinOverlapS: *minOverlapS,
	})
	if err != nil {
		return err
	}

	for _, group := range report.Groups {
		fmt.Printf("cluster of %d: %s\n", len(group.ActivityIDs), formatIDs(group.ActivityIDs))
	}
	fmt.Printf("find-duplicates: intervals=%d pairs=%d clusters=%d skipped=%d\n",
		report.Intervals, len(report.Pairs), len(report.Groups), report.Skipped)

	if *csvPath != "" {
		if err := writeCSVFile(*csvPath, func(f *os.File) error {
			return svc.WritePairsCSV(f, report.Pairs)
		}); err != nil {
			return err
		}
		fmt.Printf("wrote %d pairs to %s\n", len(report.Pairs), *csvPath)
	}

	a.recordRun(ctx, "find-duplicates", false, models.RunCounts{Skipped: report.Skipped}, map[string]any{
		"intervals": report.Intervals,
		"pairs":     len(report.Pairs),
		"clusters":  len(report.Groups),
	}, started)
	return nil
}

func (a *app) runFindTzMismatches(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("find-tz-mismatches", flag.ExitOnError)
	maxHours := fs.Int("max-hours", services.DefaultMismatchMaxHourDiff, "largest whole-hour shift to consider")
	toleranceMin := fs.Float64("tolerance-min", services.DefaultMismatchToleranceMin, "minutes of slack around the whole-hour shift")
	distanceDiffM := fs.Float64("distance-tolerance-m", services.DefaultMismatchDistanceDiffM, "largest distance disagreement in meters")
	csvPath := fs.String("csv", "", "also write the pairs to this CSV file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc := services.NewMismatchService(a.activities, a.logger)

	started := time.Now().UTC()
	pairs, err := svc.FindTzMismatches(ctx, services.MismatchOptions{
		MaxHourDiff:   *maxHours,
		ToleranceMin:  *toleranceMin,
		DistanceDiffM: *distanceDiffM,
	})
	if err != nil {
		return err
	}

	for _, p := range pairs {
		fmt.Printf("strava %d at %s / sporttracks %d at %s: %dh apart\n",
			p.StravaActivityID, temporal.FormatUTC(p.StravaStartUTC),
			p.SportTracksActivityID, temporal.FormatUTC(p.SportTracksStartUTC),
			p.HourDiff)
	}
	fmt.Printf("find-tz-mismatches: pairs=%d\n", len(pairs))

	if *csvPath != "" {
		if err := writeCSVFile(*csvPath, func(f *os.File) error {
			return svc.WritePairsCSV(f, pairs)
		}); err != nil {
			return err
		}
		fmt.Printf("wrote %d pairs to %s\n", len(pairs), *csvPath)
	}

	a.recordRun(ctx, "find-tz-mismatches", false, models.RunCounts{}, map[string]any{"pairs": len(pairs)}, started)
	return nil
}

func (a *app) runCheck(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc := services.NewIntegrityService(a.integrity, a.logger)

	started := time.Now().UTC()
	result, err := svc.Check(ctx)
	if err != nil {
		return err
	}

	tables := make([]string, 0, len(result.Integrity.TableCounts))
	for table := range result.Integrity.TableCounts {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		fmt.Printf("%-28s %d\n", table, result.Integrity.TableCounts[table])
	}

	cov := result.Coverage
	fmt.Printf("coverage: activities=%d strava=%d sporttracks=%d both=%d annotated=%d\n",
		cov.TotalActivities, cov.WithStrava, cov.WithSportTracks, cov.WithBoth, cov.WithAnnotation)
	fmt.Printf("pending: unlinked_strava=%d unlinked_sporttracks=%d unlinked_annotations=%d\n",
		result.Integrity.UnlinkedStrava, result.Integrity.UnlinkedSportTracks, result.Integrity.AnnotationsUnlinked)

	if result.Healthy() {
		fmt.Println("store is consistent")
	} else {
		for _, problem := range result.Problems() {
			fmt.Printf("PROBLEM: %s\n", problem)
		}
		for _, link := range result.Integrity.OrphanLinkSamples {
			fmt.Printf("  orphan link %d: %s/%s -> activity %d\n",
				link.ID, link.Source, link.SourceActivityID, link.ActivityID)
		}
		if len(result.Integrity.NoSourceSamples) > 0 {
			fmt.Printf("  activities without sources: %s\n", formatIDs(result.Integrity.NoSourceSamples))
		}
	}

	a.recordRun(ctx, "check", false, models.RunCounts{}, map[string]any{
		"healthy":  result.Healthy(),
		"problems": len(result.Problems()),
	}, started)
	return nil
}

// ============================================================================
// Query Commands
// ============================================================================

func (a *app) queryService() services.QueryService {
	cache := services.NewCategoryPathCache(a.categories, a.logger)
	return services.NewQueryService(a.activities, a.links, a.annotations, cache, a.logger)
}

func (a *app) runLookup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("lookup", flag.ExitOnError)
	id := fs.Int64("id", 0, "canonical activity id")
	key := fs.String("key", "", "activity key like activity-123 or st-abc")
	source := fs.String("source", "", "native source system: strava or sporttracks")
	native := fs.String("native", "", "native activity id, paired with --source")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc := a.queryService()

	canonicalID := *id
	var err error
	switch {
	case canonicalID != 0:
	case *key != "":
		canonicalID, err = svc.CanonicalForKey(ctx, *key)
	case *source != "" && *native != "":
		canonicalID, err = svc.CanonicalForNative(ctx, models.SourceSystem(*source), *native)
	default:
		return &apperrors.SetupError{Missing: "--id, --key, or --source with --native"}
	}
	if err != nil {
		var lookupErr *apperrors.LookupError
		if errors.As(err, &lookupErr) {
			fmt.Printf("no canonical activity for %s %q\n", lookupErr.Kind, lookupErr.Value)
			return nil
		}
		return err
	}

	detail, err := svc.GetActivity(ctx, canonicalID)
	if err != nil {
		return err
	}
	if detail == nil {
		fmt.Printf("no canonical activity with id %d\n", canonicalID)
		return nil
	}

	act := detail.Activity
	fmt.Printf("activity %d: %s", act.ID, temporal.FormatUTC(act.StartTimeUTC))
	if act.TzName != nil {
		fmt.Printf(" (%s)", *act.TzName)
	}
	fmt.Printf(" %s %s\n", act.Sport, act.Name)
	if act.DistanceM != nil {
		fmt.Printf("  distance_m=%.0f", *act.DistanceM)
	}
	if act.ElapsedTimeS != nil {
		fmt.Printf(" elapsed_s=%d", *act.ElapsedTimeS)
	}
	fmt.Println()
	for _, link := range detail.Sources {
		fmt.Printf("  source %s/%s confidence=%s\n",
			link.Source, models.NormalizeSourceID(link.Source, link.SourceActivityID),
			stringOr(link.MatchConfidence, "-"))
	}
	for _, ann := range detail.Annotations {
		fmt.Printf("  annotation %s category=%s training=%d\n",
			ann.ActivityKey, intOr(ann.CategoryID), ann.IsTraining)
	}
	return nil
}

func (a *app) runList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fromText := fs.String("from", "", "window start, YYYY-MM-DD or RFC3339 UTC")
	toText := fs.String("to", "", "window end (exclusive)")
	pageSize := fs.Int("page-size", services.DefaultWindowPageSize, "rows fetched per page")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *fromText == "" || *toText == "" {
		return &apperrors.SetupError{Missing: "--from and --to"}
	}

	from, err := parseWindowBound(*fromText)
	if err != nil {
		return err
	}
	to, err := parseWindowBound(*toText)
	if err != nil {
		return err
	}

	svc := a.queryService()
	query := services.WindowQuery{From: from, To: to, PageSize: *pageSize}
	total := 0
	for {
		page, err := svc.ListWindow(ctx, query)
		if err != nil {
			return err
		}
		for _, item := range page.Items {
			act := item.Activity
			line := fmt.Sprintf("%d  %s  %-12s %s", act.ID, temporal.FormatUTC(act.StartTimeUTC), act.Sport, act.Name)
			if item.Annotation != nil {
				line += fmt.Sprintf("  [%s]", item.CategoryPath)
			}
			if item.AnnotationCount > 1 {
				line += fmt.Sprintf("  (entangled: %d annotations)", item.AnnotationCount)
			}
			fmt.Println(line)
		}
		total += len(page.Items)
		if !page.HasMore {
			break
		}
		query.AfterStart = page.NextStart
		query.AfterID = page.NextID
	}

	fmt.Printf("list: %d activities in [%s, %s)\n", total, temporal.FormatUTC(from), temporal.FormatUTC(to))
	return nil
}

func (a *app) runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	operation := fs.String("operation", "", "filter by operation name")
	limit := fs.Int("limit", 20, "max runs to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	runs, err := a.runs.ListRecent(ctx, *operation, *limit)
	if err != nil {
		return err
	}

	for _, run := range runs {
		fmt.Printf("%s  %-22s%s created=%d linked=%d updated=%d skipped=%d errored=%d\n",
			run.StartedAt.UTC().Format(time.RFC3339), run.Operation, dryRunSuffix(run.DryRun),
			run.Counts.Created, run.Counts.Linked, run.Counts.Updated,
			run.Counts.Skipped, run.Counts.Errored)
	}
	fmt.Printf("runs: %d shown\n", len(runs))
	return nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func dryRunSuffix(dryRun bool) string {
	if dryRun {
		return " (dry-run)"
	}
	return ""
}

func formatIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, " ")
}

func writeCSVFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close csv file: %w", err)
	}
	return nil
}

// parseWindowBound accepts a bare date or a full instant; bare dates
// mean midnight UTC.
func parseWindowBound(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return temporal.ParseUTCInstant(s)
}

func stringOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

func intOr(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}
