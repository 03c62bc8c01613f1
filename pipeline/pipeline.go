// Package pipeline runs the full protection sequence over one image:
//
//	hash-original -> keygen -> sign -> perturb -> cloak -> hash-protected -> certificate
//
// Every request gets its own key pair, random source and pixel buffers, so a
// Protector can serve concurrent calls. The context is checked between
// stages only; a stage that has started runs to completion.
package pipeline

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"virtius.io/virtius/certificate"
	"virtius.io/virtius/cloak"
	"virtius.io/virtius/errs"
	"virtius.io/virtius/hasher"
	"virtius.io/virtius/imagebuf"
	"virtius.io/virtius/keys"
	"virtius.io/virtius/perturb"
	"virtius.io/virtius/tracing"
)

// Result is everything a successful Protect produces.
type Result struct {
	OriginalHash      string
	ProtectedHash     string
	Signature         string
	PublicKey         string
	ManipulationScore float64
	CloakingScore     float64
	CloakingLevel     cloak.Level
	Certificate       certificate.Certificate
	ProtectedImage    []byte
	Format            imagebuf.Format
	Width             int
	Height            int
}

// Option configures a Protector.
type Option func(*Protector)

// WithLevel sets the cloaking level. The default is high.
func WithLevel(l cloak.Level) Option {
	return func(p *Protector) { p.level = l }
}

// WithRandSource sets the factory for the per-request perturbation source.
// The default draws a ChaCha8 source seeded from crypto/rand.
func WithRandSource(newSource func() rand.Source) Option {
	return func(p *Protector) { p.newSource = newSource }
}

// WithKeyRand sets the factory for the per-request key generation reader
// (crypto/rand when unset). It is called once per Protect, so concurrent
// calls never share a reader.
func WithKeyRand(newReader func() io.Reader) Option {
	return func(p *Protector) { p.newKeyRand = newReader }
}

// WithLogger sets the logger; stage timings are logged at debug.
func WithLogger(l *slog.Logger) Option {
	return func(p *Protector) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithChunkSize sets the read size used when hashing. Values <= 0 keep the
// default.
func WithChunkSize(n int) Option {
	return func(p *Protector) { p.hasher = hasher.New(hasher.WithChunkSize(n)) }
}

// WithMaxPixels bounds the decoded image size. Zero disables the bound.
func WithMaxPixels(n int) Option {
	return func(p *Protector) { p.maxPixels = n }
}

// Protector runs the pipeline. It holds configuration only.
type Protector struct {
	level      cloak.Level
	newSource  func() rand.Source
	newKeyRand func() io.Reader
	logger     *slog.Logger
	hasher     *hasher.Hasher
	maxPixels  int
}

// New returns a Protector with the given options applied over the defaults.
func New(opts ...Option) *Protector {
	p := &Protector{
		level:     cloak.DefaultLevel,
		logger:    slog.Default(),
		hasher:    hasher.New(),
		maxPixels: imagebuf.DefaultMaxPixels,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Level is the cloaking level this Protector applies.
func (p *Protector) Level() cloak.Level { return p.level }

// run is the per-request state threaded through the stages.
type run struct {
	input []byte

	originalHash string
	keyPair      keys.KeyPair
	signature    string

	original  *imagebuf.Buffer
	perturbed []byte
	protected []byte
	final     *imagebuf.Buffer

	protectedHash string
	manipulation  float64
	cloaking      float64
	cert          certificate.Certificate
}

type stage struct {
	name Stage
	fn   func(context.Context, *run) error
}

func (p *Protector) stages() []stage {
	return []stage{
		{StageHashOriginal, p.hashOriginal},
		{StageKeygen, p.keygen},
		{StageSign, p.sign},
		{StagePerturb, p.perturb},
		{StageCloak, p.cloak},
		{StageHashProtected, p.hashProtected},
		{StageCertificate, p.certificate},
	}
}

// Protect runs every stage over image. On failure it returns a *StageError
// naming the stage and no partial result.
func (p *Protector) Protect(ctx context.Context, image []byte) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Protect")
	defer span.End()
	span.SetAttributes(tracing.IntAttr("input_bytes", len(image)), tracing.StringAttr("cloak_level", string(p.level)))

	r := &run{input: image}
	for _, s := range p.stages() {
		if err := ctx.Err(); err != nil {
			serr := &StageError{Stage: s.name, Err: err}
			tracing.RecordError(span, serr)
			return nil, serr
		}
		if err := p.runStage(ctx, s, r); err != nil {
			serr := &StageError{Stage: s.name, Err: err}
			tracing.RecordError(span, serr)
			p.logger.WarnContext(ctx, "protection failed", "stage", string(s.name), "error", err)
			return nil, serr
		}
	}

	res := &Result{
		OriginalHash:      r.originalHash,
		ProtectedHash:     r.protectedHash,
		Signature:         r.signature,
		PublicKey:         r.keyPair.PublicPEM,
		ManipulationScore: r.manipulation,
		CloakingScore:     r.cloaking,
		CloakingLevel:     p.level,
		Certificate:       r.cert,
		ProtectedImage:    r.protected,
		Format:            r.final.Meta.Format,
		Width:             r.final.Width,
		Height:            r.final.Height,
	}
	span.SetAttributes(
		tracing.StringAttr("original_hash", res.OriginalHash),
		tracing.Float64Attr("manipulation_score", res.ManipulationScore),
		tracing.Float64Attr("cloaking_score", res.CloakingScore),
	)
	tracing.SetOK(span)
	p.logger.InfoContext(ctx, "image protected",
		"original_hash", res.OriginalHash,
		"protected_hash", res.ProtectedHash,
		"format", string(res.Format),
		"width", res.Width,
		"height", res.Height,
		"manipulation_score", res.ManipulationScore,
		"cloaking_score", res.CloakingScore,
	)
	return res, nil
}

func (p *Protector) runStage(ctx context.Context, s stage, r *run) error {
	ctx, span := tracing.StartSpan(ctx, "pipeline."+string(s.name))
	defer span.End()

	start := time.Now()
	if err := s.fn(ctx, r); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	tracing.SetOK(span)
	p.logger.DebugContext(ctx, "stage complete", "stage", string(s.name), "duration", time.Since(start))
	return nil
}

func (p *Protector) hashOriginal(_ context.Context, r *run) error {
	h, err := p.hasher.Sum(bytes.NewReader(r.input))
	if err != nil {
		return errs.Wrap(errs.KindInternal, "hash", "hash original", err)
	}
	r.originalHash = h
	return nil
}

func (p *Protector) keygen(_ context.Context, r *run) error {
	var rnd io.Reader
	if p.newKeyRand != nil {
		rnd = p.newKeyRand()
	}
	kp, err := keys.GenerateKeyPair(rnd)
	if err != nil {
		return err
	}
	r.keyPair = kp
	return nil
}

func (p *Protector) sign(ctx context.Context, r *run) error {
	sig, err := keys.Sign(r.originalHash, r.keyPair.PrivatePEM)
	if err != nil {
		return err
	}
	r.signature = sig
	if fp, err := keys.Fingerprint(r.keyPair.PublicPEM); err == nil {
		p.logger.DebugContext(ctx, "signed original", "key_fingerprint", fp)
	}
	return nil
}

func (p *Protector) perturb(_ context.Context, r *run) error {
	buf, err := imagebuf.DecodeWithLimit(r.input, p.maxPixels)
	if err != nil {
		return err
	}
	src, err := p.source()
	if err != nil {
		return err
	}
	out := perturb.Perturb(buf, src)
	if err := checkShape("perturb", buf, out); err != nil {
		return err
	}
	encoded, err := imagebuf.Encode(out)
	if err != nil {
		return err
	}
	r.original = buf
	r.perturbed = encoded
	return nil
}

// cloak works on the encoded perturber output, so any container loss from
// the first re-encode is part of what gets cloaked.
func (p *Protector) cloak(_ context.Context, r *run) error {
	buf, err := imagebuf.DecodeWithLimit(r.perturbed, p.maxPixels)
	if err != nil {
		return err
	}
	if err := checkShape("cloak", r.original, buf); err != nil {
		return err
	}
	out := cloak.Cloak(buf, p.level)
	if err := checkShape("cloak", buf, out); err != nil {
		return err
	}
	encoded, err := imagebuf.Encode(out)
	if err != nil {
		return err
	}
	final, err := imagebuf.DecodeWithLimit(encoded, p.maxPixels)
	if err != nil {
		return err
	}
	if err := checkShape("cloak", r.original, final); err != nil {
		return err
	}
	r.protected = encoded
	r.final = final
	return nil
}

func (p *Protector) hashProtected(_ context.Context, r *run) error {
	h, err := p.hasher.Sum(bytes.NewReader(r.protected))
	if err != nil {
		return errs.Wrap(errs.KindInternal, "hash", "hash protected", err)
	}
	r.protectedHash = h
	return nil
}

// certificate scores the final image against the original, then issues the
// certificate. Scoring cannot fail.
func (p *Protector) certificate(_ context.Context, r *run) error {
	r.manipulation = perturb.ManipulationScoreBuffers(r.original, r.final)
	r.cloaking = cloak.EffectivenessScoreBuffers(r.original, r.final)

	c := certificate.Issue(r.signature, r.originalHash, r.keyPair.PublicPEM)
	if _, err := c.JSON(); err != nil {
		return errs.Wrap(errs.KindInternal, "certificate", "render certificate", err)
	}
	r.cert = c
	return nil
}

func (p *Protector) source() (rand.Source, error) {
	if p.newSource != nil {
		return p.newSource(), nil
	}
	return perturb.SecureSource()
}

func checkShape(op string, want, got *imagebuf.Buffer) error {
	if err := got.Validate(); err != nil {
		return err
	}
	if !imagebuf.SameShape(want, got) {
		return errs.New(errs.KindDimensionMismatch, op, "image shape changed between stages")
	}
	return nil
}

// Verify re-checks a signature over a hex digest. It never errors.
func Verify(digestHex, signatureB64, publicPEM string) bool {
	return keys.Verify(digestHex, signatureB64, publicPEM)
}

// VerifyOriginal reports whether original hashes to the certificate's
// content hash and the certificate's signature checks out.
func VerifyOriginal(original []byte, c certificate.Certificate) bool {
	return hasher.SumBytes(original) == c.ContentHash && c.Check()
}
