// Package service ties the protection pipeline to storage and the record
// registry: uploads are stored, protected, certified and recorded; hashes
// are looked up and re-verified.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"virtius.io/virtius/certificate"
	"virtius.io/virtius/errs"
	"virtius.io/virtius/keys"
	"virtius.io/virtius/pipeline"
	"virtius.io/virtius/registry"
	"virtius.io/virtius/storage"
	"virtius.io/virtius/storage/bundle"
	"virtius.io/virtius/tracing"
)

var (
	// ErrInvalidRequest reports a missing user or empty upload.
	ErrInvalidRequest = errors.New("service: invalid request")
	// ErrNotFound reports that no record matches a hash.
	ErrNotFound = registry.ErrNotFound
)

// Records is the subset of *registry.Registry the service uses.
type Records interface {
	Put(ctx context.Context, rec *registry.ContentRecord) error
	FindByHash(ctx context.Context, hash string) (*registry.ContentRecord, error)
	ListByUser(ctx context.Context, userID string) ([]*registry.ContentRecord, error)
	RecordVerification(ctx context.Context, contentID, hash string) (*registry.Verification, error)
}

// Outcome is the result of a successful Protect.
type Outcome struct {
	Record             *registry.ContentRecord
	Result             *pipeline.Result
	OriginalLocator    storage.Locator
	ProtectedLocator   storage.Locator
	CertificateLocator storage.Locator
	CertificateCID     string
}

// Verification is the answer to a hash lookup.
type Verification struct {
	Record *registry.ContentRecord
	Event  *registry.Verification
	// MatchedProtected is true when the queried hash is the protected
	// image's rather than the original's.
	MatchedProtected bool
	// SignaturesValid re-checks the stored signature over the original hash.
	SignaturesValid bool
}

// Service is safe for concurrent use when its collaborators are.
type Service struct {
	cas       storage.CAS
	records   Records
	protector *pipeline.Protector
	logger    *slog.Logger
}

// New builds a Service. A nil logger uses slog.Default().
func New(cas storage.CAS, records Records, protector *pipeline.Protector, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cas: cas, records: records, protector: protector, logger: logger}
}

// Protect runs the pipeline over an upload, then stores the original, the
// protected image and its certificate, and records the result for userID.
// A pipeline failure leaves storage untouched.
func (s *Service) Protect(ctx context.Context, userID, filename string, data []byte) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "service.Protect")
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrInvalidRequest)
	}
	names := namesFor(filename)

	// The CAS is write-once, so nothing is stored until the pipeline and
	// the certificate rendering have both succeeded.
	res, err := s.protector.Protect(ctx, data)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	doc, err := certificate.NewDocument(res.Certificate)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, errs.Wrap(errs.KindInternal, "certificate", "render certificate", err)
	}

	origLoc, err := storage.PutNamed(s.cas, names.original, data)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	protLoc, err := storage.PutNamed(s.cas, names.protected, res.ProtectedImage)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	certLoc, err := storage.PutNamed(s.cas, names.certificate, doc.Bytes)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	fp, _ := keys.Fingerprint(res.PublicKey)
	rec := &registry.ContentRecord{
		UserID:             userID,
		Filename:           names.original,
		OriginalHash:       res.OriginalHash,
		ProtectedHash:      res.ProtectedHash,
		Signature:          res.Signature,
		PublicKey:          res.PublicKey,
		KeyFingerprint:     fp,
		ManipulationScore:  res.ManipulationScore,
		CloakingScore:      res.CloakingScore,
		CloakingLevel:      string(res.CloakingLevel),
		OriginalLocator:    origLoc.String(),
		ProtectedLocator:   protLoc.String(),
		CertificateLocator: certLoc.String(),
	}
	if err := s.records.Put(ctx, rec); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	tracing.SetOK(span)
	s.logger.InfoContext(ctx, "content protected",
		"content_id", rec.ID,
		"user_id", userID,
		"original_hash", rec.OriginalHash,
		"protected", protLoc.String(),
	)
	return &Outcome{
		Record:             rec,
		Result:             res,
		OriginalLocator:    origLoc,
		ProtectedLocator:   protLoc,
		CertificateLocator: certLoc,
		CertificateCID:     doc.CID,
	}, nil
}

// VerifyContent looks up a record by original or protected hash, logs the
// lookup and re-checks the stored signature.
func (s *Service) VerifyContent(ctx context.Context, hash string) (*Verification, error) {
	ctx, span := tracing.StartSpan(ctx, "service.VerifyContent")
	defer span.End()

	hash = strings.ToLower(strings.TrimSpace(hash))
	rec, err := s.records.FindByHash(ctx, hash)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	ev, err := s.records.RecordVerification(ctx, rec.ID, hash)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	v := &Verification{
		Record:           rec,
		Event:            ev,
		MatchedProtected: hash == rec.ProtectedHash && hash != rec.OriginalHash,
		SignaturesValid:  keys.Verify(rec.OriginalHash, rec.Signature, rec.PublicKey),
	}
	tracing.SetOK(span)
	s.logger.InfoContext(ctx, "content verified",
		"content_id", rec.ID,
		"hash", hash,
		"signatures_valid", v.SignaturesValid,
	)
	return v, nil
}

// Certificate loads the stored certificate of the record matching hash.
func (s *Service) Certificate(ctx context.Context, hash string) (certificate.Certificate, error) {
	rec, err := s.records.FindByHash(ctx, strings.ToLower(strings.TrimSpace(hash)))
	if err != nil {
		return certificate.Certificate{}, err
	}
	loc, err := storage.ParseLocator(rec.CertificateLocator)
	if err != nil {
		return certificate.Certificate{}, storage.Wrap("certificate", err)
	}
	b, err := storage.GetNamed(s.cas, loc)
	if err != nil {
		return certificate.Certificate{}, err
	}
	return certificate.Parse(b)
}

// History lists a user's records, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]*registry.ContentRecord, error) {
	return s.records.ListByUser(ctx, userID)
}

// Export writes a bundle of every stored artifact (original, protected
// image, certificate) belonging to userID.
func (s *Service) Export(ctx context.Context, w io.Writer, userID string, opts bundle.ExportOptions) (int, error) {
	recs, err := s.records.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	var locs []storage.Locator
	for _, rec := range recs {
		for _, raw := range []string{rec.OriginalLocator, rec.ProtectedLocator, rec.CertificateLocator} {
			if raw == "" {
				continue
			}
			loc, err := storage.ParseLocator(raw)
			if err != nil {
				return 0, storage.Wrap("export", err)
			}
			locs = append(locs, loc)
		}
	}
	start := time.Now()
	if err := bundle.Export(w, s.cas, locs, opts); err != nil {
		return 0, storage.Wrap("export", err)
	}
	s.logger.InfoContext(ctx, "bundle exported", "user_id", userID, "records", len(recs), "duration", time.Since(start))
	return len(recs), nil
}

type artifactNames struct {
	original    string
	protected   string
	certificate string
}

// namesFor derives locator names from an upload's file name. Directory
// components are dropped; an unusable name falls back to "upload".
func namesFor(filename string) artifactNames {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	base = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, base)
	if base == "" || base == "." || base == ".." || base == "/" {
		base = "upload"
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem = "upload"
	}
	return artifactNames{
		original:    stem + ext,
		protected:   stem + "_protected" + ext,
		certificate: stem + ".certificate.json",
	}
}
