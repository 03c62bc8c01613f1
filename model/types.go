package model

import (
	"time"

	"virtius.io/virtius/certificate"
	"virtius.io/virtius/hasher"
	"virtius.io/virtius/registry"
	"virtius.io/virtius/service"
)

// ProtectionStats summarises what the pipeline applied.
type ProtectionStats struct {
	CryptographicSigning bool    `json:"cryptographic_signing"`
	BinaryManipulation   bool    `json:"binary_manipulation"`
	AICloaking           bool    `json:"ai_cloaking"`
	CloakingLevel        string  `json:"cloaking_level"`
	ManipulationScore    float64 `json:"manipulation_score"`
	ProtectionScore      float64 `json:"protection_score"`
}

type ProtectResponse struct {
	Status             string          `json:"status"`
	ContentID          string          `json:"content_id"`
	OriginalHash       string          `json:"original_hash"`
	ProtectedHash      string          `json:"protected_hash"`
	Signature          string          `json:"signature"`
	OriginalLocator    string          `json:"original_locator"`
	ProtectedLocator   string          `json:"protected_locator"`
	CertificateLocator string          `json:"certificate_locator"`
	Stats              ProtectionStats `json:"stats"`
}

type VerifyResponse struct {
	Verified        bool      `json:"verified"`
	ContentID       string    `json:"content_id"`
	Creator         string    `json:"creator"`
	Timestamp       time.Time `json:"timestamp"`
	ProtectionLevel string    `json:"protection_level"`
	SignaturesValid bool      `json:"signatures_valid"`
	MatchedHash     string    `json:"matched_hash"`
}

// ContentSummary is one entry of a user's history.
type ContentSummary struct {
	ContentID         string    `json:"content_id"`
	Filename          string    `json:"filename"`
	OriginalHash      string    `json:"original_hash"`
	ProtectedHash     string    `json:"protected_hash"`
	CloakingLevel     string    `json:"cloaking_level"`
	ManipulationScore float64   `json:"manipulation_score"`
	ProtectionScore   float64   `json:"protection_score"`
	ProtectedLocator  string    `json:"protected_locator"`
	CreatedAt         time.Time `json:"created_at"`
}

// CertificateCheck is the result of re-verifying a certificate document.
type CertificateCheck struct {
	Valid       bool   `json:"valid"`
	ContentHash string `json:"content_hash"`
	// OriginalMatches is set only when an original image was supplied.
	OriginalMatches *bool `json:"original_matches,omitempty"`
}

func NewProtectResponse(o *service.Outcome) ProtectResponse {
	rec := o.Record
	return ProtectResponse{
		Status:             "success",
		ContentID:          rec.ID,
		OriginalHash:       rec.OriginalHash,
		ProtectedHash:      rec.ProtectedHash,
		Signature:          rec.Signature,
		OriginalLocator:    rec.OriginalLocator,
		ProtectedLocator:   rec.ProtectedLocator,
		CertificateLocator: rec.CertificateLocator,
		Stats: ProtectionStats{
			CryptographicSigning: true,
			BinaryManipulation:   true,
			AICloaking:           true,
			CloakingLevel:        rec.CloakingLevel,
			ManipulationScore:    rec.ManipulationScore,
			ProtectionScore:      rec.CloakingScore,
		},
	}
}

func NewVerifyResponse(v *service.Verification) VerifyResponse {
	matched := "original"
	if v.MatchedProtected {
		matched = "protected"
	}
	return VerifyResponse{
		Verified:        true,
		ContentID:       v.Record.ID,
		Creator:         v.Record.UserID,
		Timestamp:       v.Record.CreatedAt,
		ProtectionLevel: v.Record.CloakingLevel,
		SignaturesValid: v.SignaturesValid,
		MatchedHash:     matched,
	}
}

func NewContentSummaries(recs []*registry.ContentRecord) []ContentSummary {
	out := make([]ContentSummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, ContentSummary{
			ContentID:         r.ID,
			Filename:          r.Filename,
			OriginalHash:      r.OriginalHash,
			ProtectedHash:     r.ProtectedHash,
			CloakingLevel:     r.CloakingLevel,
			ManipulationScore: r.ManipulationScore,
			ProtectionScore:   r.CloakingScore,
			ProtectedLocator:  r.ProtectedLocator,
			CreatedAt:         r.CreatedAt,
		})
	}
	return out
}

// NewCertificateCheck re-verifies c and, when original is non-nil, whether
// it hashes to the certified content hash.
func NewCertificateCheck(c certificate.Certificate, original []byte) CertificateCheck {
	out := CertificateCheck{Valid: c.Check(), ContentHash: c.ContentHash}
	if original != nil {
		matches := hasher.SumBytes(original) == c.ContentHash
		out.OriginalMatches = &matches
	}
	return out
}
