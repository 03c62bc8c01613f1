package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"virtius.io/virtius/certificate"
	"virtius.io/virtius/cloak"
	"virtius.io/virtius/hasher"
	"virtius.io/virtius/imagebuf"
	"virtius.io/virtius/keys"
	"virtius.io/virtius/model"
	"virtius.io/virtius/perturb"
)

// The commands in this file need no config, storage or registry.

func cmdVerifyCert(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("verify-cert", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var originalPath string
	var asJSON bool
	fs.StringVar(&originalPath, "original", "", "Original image to check against content_hash")
	fs.BoolVar(&asJSON, "json", false, "Print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: virtius verify-cert [--original <image>] [--json] <certificate.json>")
		return 2
	}

	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read certificate: %v\n", err)
		return 1
	}
	c, err := certificate.Parse(raw)
	if err != nil {
		fmt.Fprintf(errOut, "invalid certificate: %v\n", err)
		return 1
	}
	var original []byte
	if originalPath != "" {
		if original, err = os.ReadFile(originalPath); err != nil {
			fmt.Fprintf(errOut, "read --original: %v\n", err)
			return 1
		}
	}

	check := model.NewCertificateCheck(c, original)
	ok := check.Valid && (check.OriginalMatches == nil || *check.OriginalMatches)
	if asJSON {
		if rc := writeJSON(out, errOut, check); rc != 0 {
			return rc
		}
	} else {
		fmt.Fprintf(out, "signature_valid:   %t\n", check.Valid)
		fmt.Fprintf(out, "content_hash:      %s\n", check.ContentHash)
		if check.OriginalMatches != nil {
			fmt.Fprintf(out, "original_matches:  %t\n", *check.OriginalMatches)
		}
	}
	if !ok {
		return 1
	}
	return 0
}

func cmdHash(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var algo string
	var chunkSize int
	fs.StringVar(&algo, "algo", string(hasher.SHA256), "Digest algorithm")
	fs.IntVar(&chunkSize, "chunk-size", hasher.DefaultChunkSize, "Read size in bytes")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(errOut, "usage: virtius hash [--algo A] [--chunk-size N] <file> [<file> ...]")
		return 2
	}
	alg, err := hasher.ParseAlgorithm(algo)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --algo: %v\n", err)
		return 2
	}
	h := hasher.New(hasher.WithAlgorithm(alg), hasher.WithChunkSize(chunkSize))

	rc := 0
	for _, path := range fs.Args() {
		sum, err := h.SumFile(path)
		if err != nil {
			fmt.Fprintf(errOut, "hash %s: %v\n", path, err)
			rc = 1
			continue
		}
		fmt.Fprintf(out, "%s  %s\n", sum, path)
	}
	return rc
}

func cmdKeygen(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var outDir, seedHex string
	fs.StringVar(&outDir, "out-dir", "", "Write private.pem and public.pem here instead of stdout")
	fs.StringVar(&seedHex, "seed-hex", "", "Optional Ed25519 seed as 64 hex chars (for reproducible demos)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(errOut, "usage: virtius keygen [--out-dir <dir>] [--seed-hex <64hex>]")
		return 2
	}

	var kp keys.KeyPair
	var err error
	if seedHex != "" {
		seed, derr := hex.DecodeString(seedHex)
		if derr != nil {
			fmt.Fprintf(errOut, "invalid --seed-hex: %v\n", derr)
			return 2
		}
		kp, err = keys.KeyPairFromSeed(seed)
	} else {
		kp, err = keys.GenerateKeyPair(nil)
	}
	if err != nil {
		fmt.Fprintf(errOut, "keygen: %v\n", err)
		return 1
	}
	fp, err := keys.Fingerprint(kp.PublicPEM)
	if err != nil {
		fmt.Fprintf(errOut, "fingerprint: %v\n", err)
		return 1
	}

	if outDir == "" {
		fmt.Fprint(out, kp.PrivatePEM)
		fmt.Fprint(out, kp.PublicPEM)
		fmt.Fprintf(errOut, "fingerprint: %s\n", fp)
		return 0
	}
	if err := os.MkdirAll(outDir, 0o700); err != nil {
		fmt.Fprintf(errOut, "create --out-dir: %v\n", err)
		return 1
	}
	if err := os.WriteFile(filepath.Join(outDir, "private.pem"), []byte(kp.PrivatePEM), 0o600); err != nil {
		fmt.Fprintf(errOut, "write private key: %v\n", err)
		return 1
	}
	if err := os.WriteFile(filepath.Join(outDir, "public.pem"), []byte(kp.PublicPEM), 0o644); err != nil {
		fmt.Fprintf(errOut, "write public key: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, fp)
	return 0
}

func cmdRecommend(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("recommend", flag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: virtius recommend <image>")
		return 2
	}
	buf, err := readImage(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "recommend: %v\n", err)
		return 1
	}
	l := cloak.RecommendLevel(buf.Width, buf.Height)
	fmt.Fprintf(out, "%s\t%dx%d\tintensity=%g\n", l, buf.Width, buf.Height, cloak.Intensity(l))
	return 0
}

func cmdScore(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var originalPath, protectedPath string
	fs.StringVar(&originalPath, "original", "", "Original image")
	fs.StringVar(&protectedPath, "protected", "", "Protected image")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if originalPath == "" || protectedPath == "" || fs.NArg() != 0 {
		fmt.Fprintln(errOut, "usage: virtius score --original <image> --protected <image>")
		return 2
	}
	orig, err := os.ReadFile(originalPath)
	if err != nil {
		fmt.Fprintf(errOut, "read --original: %v\n", err)
		return 1
	}
	prot, err := os.ReadFile(protectedPath)
	if err != nil {
		fmt.Fprintf(errOut, "read --protected: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "manipulation_score:  %.2f\n", perturb.ManipulationScore(orig, prot))
	fmt.Fprintf(out, "protection_score:    %.2f\n", cloak.EffectivenessScore(orig, prot))
	fmt.Fprintf(out, "integrity:           %t\n", perturb.ValidateIntegrity(prot))
	return 0
}

func readImage(path string) (*imagebuf.Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return imagebuf.Decode(data)
}
