// Package pipeline orchestrates batch ingestion: it freezes a per-batch
// context (clock, flags, preloaded lookups), filters duplicates, runs every
// item through the processor stage machine over a bounded worker pool and
// aggregates the outcomes. Parallelism never reaches rule evaluation; each
// item's changes, fired rules and terminal status are functions of the item
// payload and the frozen batch alone.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/verdantlabs/menusync/internal/artifact"
	"github.com/verdantlabs/menusync/internal/contract"
	"github.com/verdantlabs/menusync/internal/flag"
	"github.com/verdantlabs/menusync/internal/lookup"
	"github.com/verdantlabs/menusync/internal/metric"
	"github.com/verdantlabs/menusync/internal/rule"
	"github.com/verdantlabs/menusync/internal/ruleset"
	"github.com/verdantlabs/menusync/internal/source"
)

// DefaultWorkers is the item concurrency when none is configured. Keep it
// aligned with the persistence connection pool size.
const DefaultWorkers = 4

// Pipeline runs ingestion batches. Built once at startup; safe for
// concurrent Run calls, which share nothing but the configuration.
type Pipeline struct {
	repo       Repository
	preloader  *lookup.Preloader
	autotagger lookup.Autotagger
	store      artifact.Store

	sources   *source.Registry
	create    *ruleset.RuleSet
	update    *ruleset.RuleSet
	canonical contract.Contract

	provider flag.Provider
	manifest flag.Manifest

	observer  metric.Observer
	clock     Clock
	ingestIDs IngestIDs
	logger    *slog.Logger

	env        string
	workers    int
	appVersion string
	gitSHA     string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEnv sets the deployment environment recorded in packs and storage
// keys. Defaults to "development".
func WithEnv(env string) Option {
	return func(p *Pipeline) { p.env = env }
}

// WithWorkers bounds item concurrency. Values below 1 keep the default.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n >= 1 {
			p.workers = n
		}
	}
}

// WithSources replaces the built-in source registry.
func WithSources(reg *source.Registry) Option {
	return func(p *Pipeline) { p.sources = reg }
}

// WithRulesets replaces the canonical create and update rulesets. Both must
// be compiled; compile failures belong to the configuration loader, never to
// a running batch.
func WithRulesets(create, update *ruleset.RuleSet) Option {
	return func(p *Pipeline) {
		p.create = create
		p.update = update
	}
}

// WithCanonicalContract replaces the canonical validation contract.
func WithCanonicalContract(c contract.Contract) Option {
	return func(p *Pipeline) { p.canonical = c }
}

// WithFlags sets the feature-flag provider and the manifest of names it may
// be asked for. Defaults to an empty static provider over DefaultManifest.
func WithFlags(provider flag.Provider, manifest flag.Manifest) Option {
	return func(p *Pipeline) {
		p.provider = provider
		p.manifest = manifest
	}
}

// WithAutotagger sets the batch tag suggester. Suggestions are resolved once,
// before the first item runs, and freeze into the batch lookups. Defaults to
// a nop that suggests nothing.
func WithAutotagger(a lookup.Autotagger) Option {
	return func(p *Pipeline) { p.autotagger = a }
}

// WithObserver sets the metrics sink. Defaults to a no-op.
func WithObserver(o metric.Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithClock substitutes the batch clock.
func WithClock(c Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithIngestIDs substitutes the ingest ID generator.
func WithIngestIDs(g IngestIDs) Option {
	return func(p *Pipeline) { p.ingestIDs = g }
}

// WithLogger sets the slog logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithVersionInfo stamps packs with the running build.
func WithVersionInfo(appVersion, gitSHA string) Option {
	return func(p *Pipeline) {
		p.appVersion = appVersion
		p.gitSHA = gitSHA
	}
}

// New builds a Pipeline over the three I/O dependencies every deployment
// must provide: the record repository, the lookup backend and the artifact
// store. Everything else defaults to the built-ins.
func New(repo Repository, backend lookup.Backend, store artifact.Store, opts ...Option) *Pipeline {
	canonical := DefaultCanonical()
	p := &Pipeline{
		repo:       repo,
		autotagger: lookup.NopAutotagger{},
		store:      store,
		sources:    source.Builtin(),
		create:     canonical,
		update:     canonical,
		canonical:  contract.CanonicalMenuItem(),
		provider:   flag.StaticProvider{},
		manifest:   flag.DefaultManifest,
		observer:   metric.Nop(),
		clock:      SystemClock{},
		ingestIDs:  UUIDIngestIDs{},
		logger:     slog.Default(),
		env:        "development",
		workers:    DefaultWorkers,
		appVersion: "dev",
		gitSHA:     "unknown",
	}
	for _, opt := range opts {
		opt(p)
	}
	p.preloader = lookup.NewPreloader(backend,
		lookup.WithLogger(p.logger),
		lookup.WithAutotagger(p.autotagger))
	return p
}

// Result aggregates one batch run.
type Result struct {
	// Outcomes holds one entry per processed item, in input order. Items
	// never dispatched because the batch was cancelled have no entry.
	Outcomes []Outcome

	// Counts tallies outcomes by terminal status.
	Counts map[string]int

	Elapsed time.Duration
}

// Run ingests one batch of raw payloads for a source. The batch context is
// frozen up front: one clock reading, one flag snapshot, one bulk lookup
// preload. Per-item failures terminate only that item; an error here means
// the whole batch could not start, except for context cancellation, where
// the outcomes produced before the cancellation are returned with ctx.Err().
func (p *Pipeline) Run(ctx context.Context, sourceID string, payloads []map[string]any) (*Result, error) {
	started := time.Now()

	src, err := p.sources.Lookup(sourceID)
	if err != nil {
		return nil, err
	}

	flags, err := flag.TakeSnapshot(ctx, p.provider, p.manifest, sourceID)
	if err != nil {
		return nil, err
	}

	kept := filterDuplicates(payloads, src.Keys.ExternalID)

	maps, err := p.preloader.Load(ctx, sourceID, kept, src.Keys)
	if err != nil {
		return nil, err
	}

	batch := Batch{
		Now:            p.clock.Now(),
		Env:            p.env,
		SourceID:       sourceID,
		RulesetVersion: p.create.Version(),
		Flags:          flags,
		Lookups:        maps,
	}

	// Ingest IDs are minted serially in input order so a deterministic
	// generator assigns the same IDs on every run.
	items := make([]Item, len(kept))
	for i, payload := range kept {
		externalID, _ := payload[src.Keys.ExternalID].(string)
		items[i] = Item{
			Index:      i,
			SourceID:   sourceID,
			ExternalID: externalID,
			IngestID:   p.ingestIDs.NewID(),
			Status:     StatusQueued,
			RawPayload: payload,
			Record:     maps.Product(externalID),
			lookups:    lookup.NewRecorder(maps, externalID),
		}
	}

	proc := &processor{
		batch:      batch,
		src:        src,
		create:     p.create,
		update:     p.update,
		canonical:  p.canonical,
		repo:       p.repo,
		store:      p.store,
		observer:   p.observer,
		logger:     p.logger,
		appVersion: p.appVersion,
		gitSHA:     p.gitSHA,
	}

	p.observer.BatchStarted(sourceID, len(items))
	p.logger.Info("batch started",
		"source_id", sourceID,
		"env", p.env,
		"items", len(items),
		"dropped_duplicates", len(payloads)-len(kept),
		"flags_version", flags.Version())

	outcomes := make([]Outcome, len(items))

	workers := p.workers
	if workers > len(items) {
		workers = len(items)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				outcomes[i] = proc.run(ctx, items[i])
			}
		}()
	}

	// Cancellation stops dispatch; items already picked up run to
	// completion so their packs and outcomes still land.
dispatch:
	for i := range items {
		select {
		case indexes <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(indexes)
	wg.Wait()

	counts := map[string]int{}
	final := make([]Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Status == "" {
			continue
		}
		final = append(final, o)
		counts[o.Status]++
	}

	elapsed := time.Since(started)
	p.observer.BatchFinished(sourceID, elapsed, counts)
	p.logger.Info("batch finished",
		"source_id", sourceID,
		"items", len(final),
		"counts", counts,
		"elapsed", elapsed)

	return &Result{Outcomes: final, Counts: counts, Elapsed: elapsed}, ctx.Err()
}

// filterDuplicates keeps the first occurrence of each external ID and drops
// the rest. Items with a blank or missing external ID all pass through; raw
// validation owns rejecting them.
func filterDuplicates(payloads []map[string]any, key string) []map[string]any {
	kept := make([]map[string]any, 0, len(payloads))
	seen := map[string]bool{}
	for _, payload := range payloads {
		id, _ := payload[key].(string)
		if id != "" {
			if seen[id] {
				continue
			}
			seen[id] = true
		}
		kept = append(kept, payload)
	}
	return kept
}

// DefaultCanonical compiles the built-in canonical ruleset shared by the
// create and update paths when no configured ruleset is supplied.
func DefaultCanonical() *ruleset.RuleSet {
	rules := []rule.Rule{
		mustRule(rule.NewNameRule(nil)),
		mustRule(rule.NewStatusRule(nil)),
		mustRule(rule.NewPriceCentsRule(nil)),
		mustRule(rule.NewBrandNameRule(nil)),
		mustRule(rule.NewStrainNameRule(nil)),
		mustRule(rule.NewTagNamesRule(nil)),
	}
	rs, err := ruleset.Compile(rules,
		ruleset.WithName("canonical"),
		ruleset.WithVersion("builtin.1"),
		ruleset.WithPolicy(ruleset.LastWins),
	)
	if err != nil {
		panic(err) // the built-in set always compiles
	}
	return rs
}

func mustRule(r rule.Rule, err error) rule.Rule {
	if err != nil {
		panic(err)
	}
	return r
}
