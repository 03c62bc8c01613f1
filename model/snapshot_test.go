package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"virtius.io/virtius/certificate"
	"virtius.io/virtius/errs"
	"virtius.io/virtius/pipeline"
	"virtius.io/virtius/registry"
	"virtius.io/virtius/service"
	"virtius.io/virtius/storage"
)

func TestSnapshot_ProtectResponse_JSONShape(t *testing.T) {
	resp := NewProtectResponse(&service.Outcome{Record: &registry.ContentRecord{
		ID:                 "01J0000000000000000000000A",
		OriginalHash:       "aa",
		ProtectedHash:      "bb",
		Signature:          "c2ln",
		CloakingLevel:      "high",
		ManipulationScore:  1.5,
		CloakingScore:      40,
		OriginalLocator:    "cas://bafk-orig/a.png",
		ProtectedLocator:   "cas://bafk-prot/a_protected.png",
		CertificateLocator: "cas://bafk-cert/a.certificate.json",
	}})

	b, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		t.Fatalf("MarshalIndent failed: %v", err)
	}

	const want = "{\n" +
		"  \"status\": \"success\",\n" +
		"  \"content_id\": \"01J0000000000000000000000A\",\n" +
		"  \"original_hash\": \"aa\",\n" +
		"  \"protected_hash\": \"bb\",\n" +
		"  \"signature\": \"c2ln\",\n" +
		"  \"original_locator\": \"cas://bafk-orig/a.png\",\n" +
		"  \"protected_locator\": \"cas://bafk-prot/a_protected.png\",\n" +
		"  \"certificate_locator\": \"cas://bafk-cert/a.certificate.json\",\n" +
		"  \"stats\": {\n" +
		"    \"cryptographic_signing\": true,\n" +
		"    \"binary_manipulation\": true,\n" +
		"    \"ai_cloaking\": true,\n" +
		"    \"cloaking_level\": \"high\",\n" +
		"    \"manipulation_score\": 1.5,\n" +
		"    \"protection_score\": 40\n" +
		"  }\n" +
		"}"

	if string(b) != want {
		t.Fatalf("snapshot mismatch:\n%s", string(b))
	}
}

func TestSnapshot_VerifyResponse_JSONShape(t *testing.T) {
	resp := NewVerifyResponse(&service.Verification{
		Record: &registry.ContentRecord{
			ID:            "01J0000000000000000000000A",
			UserID:        "alice",
			CloakingLevel: "mid",
			CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		MatchedProtected: true,
		SignaturesValid:  true,
	})

	b, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		t.Fatalf("MarshalIndent failed: %v", err)
	}

	const want = "{\n" +
		"  \"verified\": true,\n" +
		"  \"content_id\": \"01J0000000000000000000000A\",\n" +
		"  \"creator\": \"alice\",\n" +
		"  \"timestamp\": \"2026-03-01T12:00:00Z\",\n" +
		"  \"protection_level\": \"mid\",\n" +
		"  \"signatures_valid\": true,\n" +
		"  \"matched_hash\": \"protected\"\n" +
		"}"

	if string(b) != want {
		t.Fatalf("snapshot mismatch:\n%s", string(b))
	}
}

func TestNewContentSummaries_Empty(t *testing.T) {
	b, err := json.Marshal(NewContentSummaries(nil))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(b) != "[]" {
		t.Fatalf("empty history must render as [], got %s", b)
	}
}

func TestNewCertificateCheck(t *testing.T) {
	c := certificate.Issue("bad", "00", "bad")
	got := NewCertificateCheck(c, nil)
	if got.Valid || got.OriginalMatches != nil {
		t.Fatalf("unexpected check: %+v", got)
	}
	b, _ := json.Marshal(got)
	if string(b) != `{"valid":false,"content_hash":"00"}` {
		t.Fatalf("unexpected JSON: %s", b)
	}
	got = NewCertificateCheck(c, []byte("x"))
	if got.OriginalMatches == nil || *got.OriginalMatches {
		t.Fatalf("original must be reported as not matching")
	}
}

func TestFromError(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		code  ErrorCode
		stage string
	}{
		{"invalid request", fmt.Errorf("%w: empty upload", service.ErrInvalidRequest), ErrInvalidRequest, ""},
		{"registry miss", registry.ErrNotFound, ErrNotFound, ""},
		{"storage miss", storage.Wrap("get", storage.ErrNotFound), ErrNotFound, ""},
		{"bad locator", storage.ErrInvalidLocator, ErrInvalidCID, ""},
		{"cid mismatch", storage.Wrap("put", storage.ErrCIDMismatch), ErrCIDMismatch, ""},
		{"storage", storage.Wrap("put", errors.New("disk full")), ErrStorage, ""},
		{
			"decode in pipeline",
			&pipeline.StageError{Stage: pipeline.StagePerturb, Err: errs.New(errs.KindDecode, "decode", "bad")},
			ErrDecode, "perturb",
		},
		{
			"keygen",
			&pipeline.StageError{Stage: pipeline.StageKeygen, Err: errs.New(errs.KindCryptoUnavailable, "keygen", "no entropy")},
			ErrCryptoUnavailable, "keygen",
		},
		{"invalid key", errs.New(errs.KindInvalidKey, "sign", "bad pem"), ErrInvalidKey, ""},
		{"dimensions", errs.New(errs.KindDimensionMismatch, "cloak", "shape"), ErrDimensionMismatch, ""},
		{"cancelled", &pipeline.StageError{Stage: pipeline.StageCloak, Err: context.Canceled}, ErrInternal, "cloak"},
		{"plain", errors.New("boom"), ErrInternal, ""},
	}
	for _, tc := range cases {
		got := FromError(tc.err)
		if got.Code != tc.code || got.Stage != tc.stage {
			t.Fatalf("%s: got %s/%q, want %s/%q", tc.name, got.Code, got.Stage, tc.code, tc.stage)
		}
	}
	if FromError(nil) != nil {
		t.Fatalf("nil error must map to nil")
	}
	ce := NewError(ErrNotFound, "gone")
	if FromError(fmt.Errorf("wrapped: %w", ce)) != ce {
		t.Fatalf("coded errors pass through")
	}
	if ce.Error() != "NOT_FOUND: gone" {
		t.Fatalf("Error(): %q", ce.Error())
	}
}
