// Package pipeline turns a raw purchase document into a validated,
// summarized ExtractionResult: classify, split, extract, resolve codes,
// validate and summarize.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/order-intake/internal/classify"
	"github.com/sells-group/order-intake/internal/config"
	"github.com/sells-group/order-intake/internal/customer"
	"github.com/sells-group/order-intake/internal/extract"
	"github.com/sells-group/order-intake/internal/model"
	"github.com/sells-group/order-intake/internal/ocr"
	"github.com/sells-group/order-intake/internal/patterns"
	"github.com/sells-group/order-intake/internal/split"
	"github.com/sells-group/order-intake/internal/xref"
)

// Fatal conditions. A result that ends in StateFailed carries one of these
// in its error chain.
var (
	ErrTextExtraction = eris.New("pipeline: text extraction failed")
	ErrUnknownFormat  = eris.New("pipeline: unknown document format")
	ErrNoSections     = eris.New("pipeline: no extractable sections")
)

// Stage names used for metrics.
const (
	stageText     = "text"
	stageClassify = "classify"
	stageSplit    = "split"
	stageExtract  = "extract"
	stageResolve  = "resolve"
)

// Pipeline processes documents. It is safe for concurrent use; the only
// state shared between documents is the resolver's memo cache.
type Pipeline struct {
	cfg        config.PipelineConfig
	lib        *patterns.Library
	text       ocr.Extractor
	classifier *classify.Classifier
	splitter   *split.Splitter
	extractors *extract.Registry
	resolver   *xref.Resolver
	customers  customer.Directory
	metrics    *Metrics
	now        func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTextExtractor sets the backend used by Process.
func WithTextExtractor(e ocr.Extractor) Option {
	return func(p *Pipeline) { p.text = e }
}

// WithCustomers sets the directory used to enrich branch headers.
func WithCustomers(d customer.Directory) Option {
	return func(p *Pipeline) { p.customers = d }
}

// WithMetrics sets the collectors the pipeline reports to.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides the time source for ProcessedAt.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New builds a pipeline over the pattern library and resolver.
func New(cfg config.PipelineConfig, lib *patterns.Library, resolver *xref.Resolver, opts ...Option) (*Pipeline, error) {
	if lib == nil {
		return nil, eris.New("pipeline: pattern library is required")
	}
	if resolver == nil {
		return nil, eris.New("pipeline: resolver is required")
	}
	registry, err := extract.DefaultRegistry(lib)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build extractors")
	}
	if cfg.ClassifyPages < 1 {
		cfg.ClassifyPages = 2
	}
	p := &Pipeline{
		cfg:        cfg,
		lib:        lib,
		classifier: classify.New(lib),
		splitter:   split.New(lib),
		extractors: registry,
		resolver:   resolver,
		customers:  customer.Nop{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	return p, nil
}

// Resolver returns the cross-reference resolver shared by every document.
func (p *Pipeline) Resolver() *xref.Resolver {
	return p.resolver
}

// Process extracts text from raw and runs the pipeline on it. The result is
// never nil; the error is non-nil exactly when the result is Failed.
func (p *Pipeline) Process(ctx context.Context, raw []byte, hint *model.FormatKey) (*model.ExtractionResult, error) {
	res := p.newResult()
	if p.text == nil {
		return p.fail(res, eris.Wrap(ErrTextExtraction, "no text extractor configured"))
	}

	start := time.Now()
	text, err := p.text.ExtractText(ctx, raw)
	p.metrics.observeStage(stageText, start)
	if err != nil {
		return p.fail(res, eris.Wrapf(ErrTextExtraction, "%v", err))
	}
	return p.run(ctx, res, text, hint)
}

// ProcessText runs the pipeline on already extracted text.
func (p *Pipeline) ProcessText(ctx context.Context, text string, hint *model.FormatKey) (*model.ExtractionResult, error) {
	return p.run(ctx, p.newResult(), text, hint)
}

func (p *Pipeline) newResult() *model.ExtractionResult {
	return &model.ExtractionResult{
		ID:       uuid.NewString(),
		Status:   model.StateReceived,
		States:   []model.ProcessState{model.StateReceived},
		Errors:   []string{},
		Warnings: []string{},
	}
}

func (p *Pipeline) run(ctx context.Context, res *model.ExtractionResult, text string, hint *model.FormatKey) (*model.ExtractionResult, error) {
	log := zap.L().With(zap.String("document_id", res.ID))
	log.Info("pipeline: processing document", zap.Int("text_bytes", len(text)))

	// Classified
	start := time.Now()
	spec, err := p.identify(res, text, hint)
	p.metrics.observeStage(stageClassify, start)
	if err != nil {
		return p.fail(res, err)
	}
	p.advance(res, model.StateClassified)

	// Split
	start = time.Now()
	sections := p.splitter.Split(text, spec.Format.Layout, spec.Anchor)
	p.metrics.observeStage(stageSplit, start)
	if len(sections) == 0 {
		return p.fail(res, eris.Wrap(ErrNoSections, "splitter produced no non-empty section"))
	}
	p.metrics.Sections.Add(float64(len(sections)))
	p.advance(res, model.StateSplit)

	// Extracting
	extractor, ok := p.extractors.For(spec.Format.Variant)
	if !ok {
		return p.fail(res, eris.Wrapf(ErrUnknownFormat, "no extractor for variant %s", spec.Format.Variant))
	}
	p.advance(res, model.StateExtracting)
	start = time.Now()
	p.extractSections(res, extractor, sections)
	customer.Enrich(ctx, p.customers, res.Branches)
	p.metrics.observeStage(stageExtract, start)

	// Normalizing
	p.advance(res, model.StateNormalizing)
	start = time.Now()
	p.resolveItems(ctx, res)
	p.metrics.observeStage(stageResolve, start)

	// Validated
	p.validate(res)
	p.advance(res, model.StateValidated)

	// Summarized
	res.Summary = Summarize(res.Branches, res.ItemsByBranch)
	res.ProcessedAt = p.now().UTC()
	p.advance(res, model.StateSummarized)

	p.metrics.Documents.WithLabelValues(string(model.StateSummarized)).Inc()
	p.metrics.ItemsAccepted.Add(float64(res.Summary.TotalItems))
	p.metrics.CrossRefMisses.Add(float64(res.Summary.ItemsWithoutCrossReference))

	log.Info("pipeline: document summarized",
		zap.String("format", spec.Format.Key.String()),
		zap.String("document_number", res.Identity.DocumentNumber),
		zap.Int("branches", res.Summary.TotalBranches),
		zap.Int("items", res.Summary.TotalItems),
		zap.Int("unresolved", res.Summary.ItemsWithoutCrossReference),
		zap.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

// identify classifies the text and selects the format. A hint overrides the
// issuer and subtype; without one, an Unknown axis is fatal.
func (p *Pipeline) identify(res *model.ExtractionResult, text string, hint *model.FormatKey) (patterns.FormatSpec, error) {
	extended := classify.FirstPages(text, p.cfg.ClassifyPages)
	id := p.classifier.Classify(classify.FirstPage(text), extended)

	if hint != nil {
		id.Issuer = hint.Issuer
		id.Subtype = hint.Subtype
		id.IssuerScore, id.SubtypeScore, id.Confidence = 1, 1, 1
		id.Evidence = joinEvidence(id.Evidence, "format_hint="+hint.String())
		if n := p.classifier.DocumentNumber(*hint, extended); n != id.DocumentNumber {
			id.DocumentNumber = n
			id.Evidence = joinEvidence(id.Evidence, "hinted_document_number="+n)
		}
	}
	res.Identity = id

	if hint == nil {
		switch {
		case !id.Issuer.Known() && !id.Subtype.Known():
			return patterns.FormatSpec{}, eris.Wrap(ErrUnknownFormat, "issuer and document subtype not recognized")
		case !id.Issuer.Known():
			return patterns.FormatSpec{}, eris.Wrap(ErrUnknownFormat, "issuer not recognized")
		case !id.Subtype.Known():
			return patterns.FormatSpec{}, eris.Wrap(ErrUnknownFormat, "document subtype not recognized")
		}
		if id.Confidence < p.cfg.MinConfidence {
			p.warn(res, fmt.Sprintf("low classification confidence %.2f (minimum %.2f): %s",
				id.Confidence, p.cfg.MinConfidence, id.Evidence))
		}
	}

	spec, ok := p.lib.Format(id.FormatKey())
	if !ok {
		return patterns.FormatSpec{}, eris.Wrapf(ErrUnknownFormat, "no format registered for %s", id.FormatKey())
	}
	f := spec.Format
	res.Format = &f
	return spec, nil
}

func (p *Pipeline) extractSections(res *model.ExtractionResult, ex extract.Extractor, sections []model.BranchSection) {
	for _, sec := range sections {
		out := ex.Extract(sec)
		label := fmt.Sprintf("section %d", sec.Index+1)

		if out.Header.FieldCount() == 0 {
			p.warn(res, fmt.Sprintf("document %s %s: no header fields found", p.docRef(res), label))
		}
		if len(out.Items) == 0 {
			p.warn(res, fmt.Sprintf("document %s %s: no line items found", p.docRef(res), label))
		}
		for _, s := range out.Skipped {
			p.warn(res, fmt.Sprintf("document %s %s: skipped %s", p.docRef(res), label, s.String()))
		}

		items := out.Items
		if items == nil {
			items = []model.LineItem{}
		}
		res.Branches = append(res.Branches, out.Header)
		res.ItemsByBranch = append(res.ItemsByBranch, items)

		zap.L().Debug("pipeline: section extracted",
			zap.String("document_id", res.ID),
			zap.Int("section", sec.Index),
			zap.String("strategy", out.Strategy),
			zap.Int("items", len(items)),
			zap.Int("skipped", len(out.Skipped)),
		)
	}
}

// resolveItems maps vendor codes to internal codes. Lines that validation
// will drop are not looked up.
func (p *Pipeline) resolveItems(ctx context.Context, res *model.ExtractionResult) {
	for bi := range res.ItemsByBranch {
		taxID := ""
		if bi < len(res.Branches) {
			taxID = res.Branches[bi].TaxID
		}
		for ii := range res.ItemsByBranch[bi] {
			item := &res.ItemsByBranch[bi][ii]
			if !item.Valid() {
				continue
			}
			code := item.VendorCodeNormalized
			if code == "" {
				code = item.VendorCode
			}
			r := p.resolver.Resolve(ctx, code, taxID)
			item.ApplyCrossReference(r)
			if !r.Found() {
				p.warn(res, fmt.Sprintf("document %s: vendor code %s has no cross-reference", p.docRef(res), item.VendorCode))
			}
		}
	}
}

// validate drops lines with a non-positive quantity or price or no vendor
// code, one warning per dropped line.
func (p *Pipeline) validate(res *model.ExtractionResult) {
	for bi, items := range res.ItemsByBranch {
		kept := items[:0]
		for _, item := range items {
			if reason := invalidReason(item); reason != "" {
				p.warn(res, fmt.Sprintf("document %s: dropped line %d (code %s): %s",
					p.docRef(res), item.Sequence, item.VendorCode, reason))
				p.metrics.ItemsDropped.Inc()
				continue
			}
			kept = append(kept, item)
		}
		res.ItemsByBranch[bi] = kept
	}
}

func invalidReason(item model.LineItem) string {
	switch {
	case item.VendorCode == "":
		return "missing vendor code"
	case item.Quantity <= 0:
		return fmt.Sprintf("quantity %d is not positive", item.Quantity)
	case !item.UnitPrice.IsPositive():
		return fmt.Sprintf("unit price %s is not positive", item.UnitPrice.String())
	}
	return ""
}

func (p *Pipeline) fail(res *model.ExtractionResult, err error) (*model.ExtractionResult, error) {
	res.Status = model.StateFailed
	res.States = append(res.States, model.StateFailed)
	res.FailureReason = err.Error()
	res.Errors = append(res.Errors, err.Error())
	res.Branches = nil
	res.ItemsByBranch = nil
	res.ProcessedAt = p.now().UTC()

	p.metrics.Documents.WithLabelValues(string(model.StateFailed)).Inc()
	zap.L().Warn("pipeline: document failed",
		zap.String("document_id", res.ID),
		zap.Error(err),
	)
	return res, err
}

func (p *Pipeline) advance(res *model.ExtractionResult, s model.ProcessState) {
	res.Status = s
	res.States = append(res.States, s)
}

func (p *Pipeline) warn(res *model.ExtractionResult, msg string) {
	res.Warnings = append(res.Warnings, msg)
	zap.L().Debug("pipeline: warning", zap.String("document_id", res.ID), zap.String("warning", msg))
}

// docRef names a document in warnings: its printed number when known.
func (p *Pipeline) docRef(res *model.ExtractionResult) string {
	if res.Identity.DocumentNumber != "" {
		return res.Identity.DocumentNumber
	}
	return res.ID
}

func joinEvidence(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
