package orchestration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	c "gohan/genotypes/models/constants"
	importMode "gohan/genotypes/models/constants/import-mode"
	"gohan/genotypes/models/constants/ploidy"
	variantType "gohan/genotypes/models/constants/variant-type"
	"gohan/genotypes/models/constants/zygosity"
	"gohan/genotypes/models/indexes"
	"gohan/genotypes/repositories"
	"gohan/genotypes/services/alleles"
	"gohan/genotypes/services/identity"
	"gohan/genotypes/services/persistence"
	"gohan/genotypes/services/progress"
	"gohan/genotypes/services/reports"
	"gohan/genotypes/services/synonyms"
	"gohan/genotypes/services/transposition"
	"gohan/genotypes/utils"
)

// extras key holding the phased call in its original allele order
const PhasedOrderKey = "phGT"

type (
	Store interface {
		persistence.Store
		identity.VariantScanner

		CountVariants(ctx context.Context) (int64, error)
		GetProject(ctx context.Context, id string) (*indexes.Project, error)
		CreateProject(ctx context.Context, p *indexes.Project) error
		UpdateProject(ctx context.Context, p *indexes.Project, expectedVersion int64) error
		DeleteVariantRunData(ctx context.Context, projectId string, runName string) (int64, error)
		ListSamples(ctx context.Context, projectId string, runName string) ([]*indexes.Sample, error)
		NextSequence(ctx context.Context, counterId string) (int, error)
		SaveSamples(ctx context.Context, samples []*indexes.Sample) error
		EnsureIndividuals(ctx context.Context, individuals []*indexes.Individual) error
	}

	Options struct {
		AllowUnknownVariants  bool
		UsePositionalMatching bool
		ChunkRecordBudget     int
		CommitWorkers         int
		SkipMonomorphic       bool
		OnChunk               func(persistence.ChunkStats)
	}

	ImportRequest struct {
		ProjectId string
		RunName   string
		Mode      c.ImportMode
		Format    c.SourceFormat
		Source    RecordSource
		// read by the synonym consistency pass, nil skips it
		Calls          synonyms.CallSource
		DeclaredPloidy c.Ploidy
		Progress       *progress.Indicator
	}

	SkippedMarker struct {
		Id     string `json:"id"`
		Reason string `json:"reason"`
	}

	ImportResult struct {
		ProjectId         string               `json:"projectId"`
		RunName           string               `json:"runName"`
		Ploidy            c.Ploidy             `json:"ploidy"`
		BulkMode          bool                 `json:"bulkMode"`
		RecordsRead       int64                `json:"recordsRead"`
		VariantsSubmitted int64                `json:"variantsSubmitted"`
		GenotypesStored   int64                `json:"genotypesStored"`
		ExcludedCalls     int64                `json:"excludedCalls"`
		SkippedCalls      int64                `json:"skippedCalls"`
		SkippedRows       int64                `json:"skippedRows"`
		SamplesCreated    int                  `json:"samplesCreated"`
		DeletedRunRecords int64                `json:"deletedRunRecords"`
		SkippedMarkers    []SkippedMarker      `json:"skippedMarkers,omitempty"`
		Zygosities        map[string]int64     `json:"zygosities"`
		ReportLocation    string               `json:"reportLocation,omitempty"`
		Persistence       *persistence.Summary `json:"persistence"`
	}

	// Orchestrator drives any RecordSource through identity resolution,
	// allele encoding and chunked persistence.
	Orchestrator struct {
		store      Store
		reports    reports.Sink
		transposer *transposition.Transposer
		opts       Options
		logger     *utils.Logger
	}

	importRun struct {
		*Orchestrator
		req       ImportRequest
		indicator *progress.Indicator
		logger    *utils.Logger

		ploidy       c.Ploidy
		bulk         bool
		allowUnknown bool
		resolver     *identity.Resolver
		exclusions   *synonyms.Exclusions
		samples      *sampleRegistry
		engine       *persistence.Engine
		books        *bookkeeping
		seen         map[string]bool
		result       *ImportResult
	}
)

func NewOrchestrator(store Store, reportSink reports.Sink, transposer *transposition.Transposer, opts Options, logger *utils.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		reports:    reportSink,
		transposer: transposer,
		opts:       opts,
		logger:     logger.OrNop(),
	}
}

func beginStep(p *progress.Indicator, name string) {
	if p == nil {
		return
	}
	p.AddStep(name)
	if p.CurrentStep() != name {
		p.NextStep()
	}
}

// Import runs one import to completion. The outcome is also reported on
// the request's progress indicator.
func (o *Orchestrator) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	result, err := o.importRecords(ctx, req)
	if req.Progress != nil {
		if err != nil {
			req.Progress.SetError(err.Error())
		} else {
			req.Progress.MarkComplete()
		}
	}
	return result, err
}

func (o *Orchestrator) importRecords(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if req.Source == nil {
		return nil, errors.New("no record source")
	}
	defer req.Source.Close()

	if !utils.IsValidIdentifier(req.ProjectId) || !utils.IsValidIdentifier(req.RunName) {
		return nil, fmt.Errorf("invalid project %q or run %q", req.ProjectId, req.RunName)
	}
	if req.Mode == importMode.Unknown {
		return nil, errors.New("unknown import mode")
	}
	r := &importRun{
		Orchestrator: o,
		req:          req,
		indicator:    req.Progress,
		books:        newBookkeeping(),
		seen:         map[string]bool{},
		result: &ImportResult{
			ProjectId:  req.ProjectId,
			RunName:    req.RunName,
			Zygosities: map[string]int64{},
		},
	}
	r.logger = o.logger.With("project", req.ProjectId, "run", req.RunName)

	beginStep(r.indicator, "checking project")
	src := newPeekingSource(req.Source)
	sampleCount, err := r.checkPloidy(ctx, src)
	if err != nil {
		return nil, err
	}
	if err := r.prepare(ctx); err != nil {
		return nil, err
	}

	if req.Calls != nil {
		beginStep(r.indicator, "checking synonyms")
		if err := r.checkSynonyms(ctx); err != nil {
			return nil, err
		}
	}

	beginStep(r.indicator, "importing genotypes")
	r.engine = persistence.NewEngine(o.store, persistence.Options{
		RecordBudget: o.opts.ChunkRecordBudget,
		SampleCount:  sampleCount,
		BulkMode:     r.bulk,
		Workers:      o.opts.CommitWorkers,
		Logger:       r.logger,
		OnChunk:      o.opts.OnChunk,
	})
	for _, rowErr := range src.rowErrors {
		r.skipRow(rowErr)
	}
	var records RecordSource = src
	if _, ok := req.Source.(variantSplitter); ok {
		grouped, err := r.groupByVariant(ctx, src)
		if err != nil {
			return nil, err
		}
		records = grouped
	}
	if err := r.consume(ctx, records); err != nil {
		r.engine.Discard()
		return nil, err
	}
	summary, err := r.engine.Close(ctx)
	if err != nil {
		return nil, err
	}
	r.result.Persistence = summary
	r.result.SamplesCreated = r.samples.minted

	beginStep(r.indicator, "updating project")
	if err := r.updateProject(ctx); err != nil {
		return nil, err
	}

	r.logger.Info("import finished",
		"variants", r.result.VariantsSubmitted,
		"genotypes", r.result.GenotypesStored,
		"unsaved", len(summary.Unsaved),
		"skipped", len(r.result.SkippedMarkers))
	return r.result, nil
}

// checkPloidy settles the run's ploidy and refuses to append genotypes of
// another ploidy to a project. Nothing has been written when it fails.
func (r *importRun) checkPloidy(ctx context.Context, src *peekingSource) (int, error) {
	project, err := r.loadProject(ctx)
	if err != nil {
		return 0, err
	}

	call, rec, err := src.firstCall(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading %s source: %w", r.req.Format, err)
	}
	found := r.req.DeclaredPloidy
	if found == ploidy.Unknown && call != nil {
		found = c.Ploidy(len(call.Alleles))
	}
	if found == ploidy.Unknown {
		if project != nil && project.Ploidy != ploidy.Unknown {
			found = project.Ploidy
		} else {
			found = ploidy.Diploid
		}
	}
	if !ploidy.IsKnown(int(found)) {
		return 0, fmt.Errorf("unsupported ploidy %d", found)
	}

	if r.req.Mode == importMode.Append && project != nil && project.Ploidy != ploidy.Unknown && project.Ploidy != found {
		return 0, &PloidyMismatchError{ProjectId: r.req.ProjectId, Expected: project.Ploidy, Found: found}
	}
	r.ploidy = found
	r.result.Ploidy = found

	sampleCount := 1
	if rec != nil && len(rec.Calls) > 0 {
		sampleCount = len(rec.Calls)
	}
	return sampleCount, nil
}

func (r *importRun) prepare(ctx context.Context) error {
	if r.req.Mode == importMode.Replace {
		deleted, err := r.store.DeleteVariantRunData(ctx, r.req.ProjectId, r.req.RunName)
		if err != nil {
			return fmt.Errorf("clearing run %s: %w", r.req.RunName, err)
		}
		r.result.DeletedRunRecords = deleted
	}

	count, err := r.store.CountVariants(ctx)
	if err != nil {
		return fmt.Errorf("counting variants: %w", err)
	}
	r.bulk = count == 0
	r.allowUnknown = r.opts.AllowUnknownVariants || count == 0
	r.result.BulkMode = r.bulk

	r.resolver, err = identity.NewResolver(ctx, r.store, r.opts.UsePositionalMatching)
	if err != nil {
		return err
	}
	r.samples, err = newSampleRegistry(ctx, r.store, r.req.ProjectId, r.req.RunName)
	return err
}

func (r *importRun) checkSynonyms(ctx context.Context) error {
	var report bytes.Buffer
	exclusions, err := synonyms.NewChecker(r.resolver, r.logger).Check(ctx, r.req.Calls, &report)
	if err != nil {
		return err
	}
	r.exclusions = exclusions
	if report.Len() == 0 || r.reports == nil {
		return nil
	}

	name := fmt.Sprintf("%s-%s-synonym-conflicts.tsv", r.req.ProjectId, r.req.RunName)
	location, err := r.reports.Save(ctx, name, report.Bytes())
	if err != nil {
		r.logger.Warn("could not store synonym conflict report", "error", err)
		return nil
	}
	r.result.ReportLocation = location
	return nil
}

func (r *importRun) skipMarker(id string, reason string) {
	r.result.SkippedMarkers = append(r.result.SkippedMarkers, SkippedMarker{Id: id, Reason: reason})
	r.logger.Warn("skipping marker", "marker", id, "reason", reason)
}

func (r *importRun) skipRow(err *RowError) {
	r.result.SkippedRows++
	r.logger.Warn("skipping malformed row", "line", err.Line, "reason", err.Reason)
}

func (r *importRun) consume(ctx context.Context, src RecordSource) error {
	percent, hasPercent := src.(interface{ Percent() int })
	if ps, ok := src.(*peekingSource); ok {
		percent, hasPercent = ps.RecordSource.(interface{ Percent() int })
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.indicator != nil && r.indicator.IsAborted() {
			return fmt.Errorf("import aborted: %s", r.indicator.Error())
		}

		rec, err := src.Next(ctx)
		if err == io.EOF {
			return nil
		}
		var rowErr *RowError
		if errors.As(err, &rowErr) {
			r.skipRow(rowErr)
			continue
		}
		if err != nil {
			return fmt.Errorf("reading %s source: %w", r.req.Format, err)
		}

		r.result.RecordsRead++
		if err := r.handle(ctx, rec); err != nil {
			return err
		}

		if r.indicator != nil && r.result.RecordsRead%100 == 0 {
			r.indicator.SetCount(r.result.RecordsRead)
			if hasPercent {
				r.indicator.SetPercent(percent.Percent())
			}
		}
	}
}

// handle resolves, encodes and submits one marker.
func (r *importRun) handle(ctx context.Context, rec *Record) error {
	if r.opts.SkipMonomorphic && rec.Type == variantType.NoVariation {
		r.skipMarker(rec.MarkerId, "monomorphic")
		return nil
	}

	// sourceOrder indexes the record's AD and PL arrays
	sourceOrder := make([]string, len(rec.Alleles))
	declared := make([]string, 0, len(rec.Alleles))
	for i, a := range rec.Alleles {
		sourceOrder[i] = alleles.Normalize(a)
		if !alleles.IsMissingAllele(a) {
			declared = append(declared, sourceOrder[i])
		}
	}

	id, err := r.resolver.Resolve(recordTypeHint(rec), rec.Sequence, rec.Position, rec.Candidates()...)
	isNew := false
	switch {
	case errors.Is(err, identity.ErrDeprecated):
		r.skipMarker(rec.MarkerId, err.Error())
		return nil
	case errors.Is(err, identity.ErrNotFound):
		if !r.allowUnknown {
			r.skipMarker(rec.MarkerId, "unknown variant")
			return nil
		}
		id, isNew = rec.MarkerId, true
	case err != nil:
		return err
	}
	if r.seen[id] {
		r.skipMarker(id, "duplicate variant in run")
		return nil
	}
	r.seen[id] = true

	local, err := r.localVariant(ctx, id, isNew)
	if err != nil {
		return err
	}
	if local.ReferencePosition == nil && rec.Sequence != "" {
		local.ReferencePosition = &indexes.ReferencePosition{Sequence: rec.Sequence, Start: rec.Position, End: rec.Position}
		if len(declared) > 0 {
			local.ReferencePosition.End = rec.Position + int64(len(declared[0])) - 1
		}
	}
	if isNew {
		for _, synonym := range rec.Synonyms {
			if synonym != "" && synonym != id {
				if local.Synonyms == nil {
					local.Synonyms = map[string][]string{}
				}
				local.Synonyms[string(r.req.Format)] = append(local.Synonyms[string(r.req.Format)], synonym)
			}
		}
	}
	for _, a := range declared {
		if alleles.IsValidAlleleSymbol(a) && !contains(local.KnownAlleles, a) {
			local.KnownAlleles = append(local.KnownAlleles, a)
		}
	}

	run := &indexes.VariantRunData{
		ProjectId: r.req.ProjectId,
		RunName:   r.req.RunName,
		VariantId: id,
		Samples:   map[int]indexes.Genotype{},
	}
	for i := range rec.Calls {
		if err := r.encodeCall(ctx, id, &rec.Calls[i], sourceOrder, local, run); err != nil {
			return err
		}
	}
	if err := r.samples.flush(ctx); err != nil {
		return err
	}
	if len(run.Samples) == 0 {
		r.skipMarker(id, "no called genotypes")
		return nil
	}

	if local.Type == variantType.Unset {
		if rec.Type != variantType.Unset {
			local.Type = rec.Type
		} else {
			local.Type = variantType.Classify(local.KnownAlleles)
		}
	}
	if isNew {
		r.resolver.Register(local)
	}
	r.books.observe(local)

	if err := r.engine.Submit(ctx, persistence.Item{Variant: local, RunData: run}); err != nil {
		return err
	}
	r.result.VariantsSubmitted++
	r.result.GenotypesStored += int64(len(run.Samples))
	return nil
}

func (r *importRun) localVariant(ctx context.Context, id string, isNew bool) (*indexes.Variant, error) {
	if isNew || r.bulk {
		return &indexes.Variant{Id: id}, nil
	}
	stored, err := r.store.GetVariant(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return &indexes.Variant{Id: id}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading variant %s: %w", id, err)
	}
	return stored.Copy(), nil
}

func (r *importRun) encodeCall(ctx context.Context, variantId string, call *Call, sourceOrder []string, local *indexes.Variant, run *indexes.VariantRunData) error {
	if r.exclusions.Excludes(variantId, call.IndividualId) {
		r.result.ExcludedCalls++
		return nil
	}
	if call.IsMissing() {
		return nil
	}
	if len(call.Alleles) != int(r.ploidy) {
		r.result.SkippedCalls++
		r.logger.Debug("skipping call of unexpected ploidy", "variant", variantId, "individual", call.IndividualId, "alleles", len(call.Alleles))
		return nil
	}

	code, err := alleles.Encode(call.Alleles, &local.KnownAlleles, call.Phased)
	var unknown *alleles.UnknownAlleleError
	switch {
	case errors.Is(err, alleles.ErrMissingData):
		return nil
	case errors.As(err, &unknown):
		r.result.SkippedCalls++
		r.logger.Warn("skipping call with unknown allele", "variant", variantId, "individual", call.IndividualId, "allele", unknown.Allele)
		return nil
	case err != nil:
		return err
	}

	sampleId, err := r.samples.idFor(ctx, call.IndividualId, call.Population)
	if err != nil {
		return err
	}
	if _, ok := run.Samples[sampleId]; ok {
		// already reported under another synonym
		return nil
	}
	g := indexes.Genotype{Code: code, Annotations: annotations(call, sourceOrder, local.KnownAlleles, code)}
	run.Samples[sampleId] = g
	r.result.Zygosities[zygosity.ZygosityToString(zygosity.FromGenotypeCode(code))]++
	return nil
}

// annotations copies the call's typed annotations, moving allele depths and
// likelihoods from the source's allele order into the variant's.
func annotations(call *Call, sourceOrder []string, known []string, code string) *indexes.GenotypeAnnotations {
	ann := indexes.GenotypeAnnotations{
		Depth:           call.Depth,
		GenotypeQuality: call.GenotypeQuality,
		PhaseGroup:      call.PhaseGroup,
	}
	if len(call.Extras) > 0 {
		ann.Extras = make(map[string]string, len(call.Extras)+1)
		for k, v := range call.Extras {
			ann.Extras[k] = v
		}
	}
	if len(call.AlleleDepths) > 0 {
		ann.AlleleDepths = call.AlleleDepths
		if len(sourceOrder) > 0 {
			ann.AlleleDepths = alleles.RemapDepthArray(call.AlleleDepths, sourceOrder, known)
		}
	}
	if len(call.PhredLikelihoods) > 0 {
		ann.PhredLikelihoods = call.PhredLikelihoods
		if len(sourceOrder) > 0 {
			ann.PhredLikelihoods = alleles.RemapLikelihoodArray(call.PhredLikelihoods, alleles.Ploidy(code), sourceOrder, known)
		}
	}
	if call.Phased {
		indices := make([]int, 0, len(call.Alleles))
		for _, a := range call.Alleles {
			indices = append(indices, indexOf(known, alleles.Normalize(a)))
		}
		if ordered := alleles.JoinIndices(indices, true); ordered != code {
			if ann.Extras == nil {
				ann.Extras = map[string]string{}
			}
			ann.Extras[PhasedOrderKey] = ordered
		}
	}
	if ann.IsEmpty() {
		return nil
	}
	return &ann
}

func indexOf(list []string, value string) int {
	for i, v := range list {
		if v == value {
			return i
		}
	}
	return -1
}

func contains(list []string, value string) bool {
	return indexOf(list, value) >= 0
}
