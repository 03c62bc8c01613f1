package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"virtius.io/virtius/cloak"
	"virtius.io/virtius/model"
	"virtius.io/virtius/storage/bundle"
	"virtius.io/virtius/storage/casregistry"

	_ "virtius.io/virtius/storage/grpccas"
	_ "virtius.io/virtius/storage/localfs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "protect":
		return cmdProtect(ctx, args[1:], out, errOut)
	case "verify":
		return cmdVerify(ctx, args[1:], out, errOut)
	case "lookup":
		return cmdLookup(ctx, args[1:], out, errOut)
	case "history":
		return cmdHistory(ctx, args[1:], out, errOut)
	case "export":
		return cmdExport(ctx, args[1:], out, errOut)
	case "import":
		return cmdImport(ctx, args[1:], out, errOut)
	case "verify-cert":
		return cmdVerifyCert(args[1:], out, errOut)
	case "hash":
		return cmdHash(args[1:], out, errOut)
	case "keygen":
		return cmdKeygen(args[1:], out, errOut)
	case "recommend":
		return cmdRecommend(args[1:], out, errOut)
	case "score":
		return cmdScore(args[1:], out, errOut)
	case "backends":
		return cmdBackends(out)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "virtius: image protection and provenance CLI")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  virtius protect --user <id> [--level min|low|mid|high] [--out <file>] [--cert <file>] [--json] <image>")
	fmt.Fprintln(w, "  virtius verify [--json] <sha256-hex>")
	fmt.Fprintln(w, "  virtius lookup <sha256-hex>")
	fmt.Fprintln(w, "  virtius history --user <id> [--json]")
	fmt.Fprintln(w, "  virtius export --user <id> --out <bundle.tar[.zst]> [--zstd] [--no-index]")
	fmt.Fprintln(w, "  virtius import [--ignore-unknown] <bundle>")
	fmt.Fprintln(w, "  virtius verify-cert [--original <image>] [--json] <certificate.json>")
	fmt.Fprintln(w, "  virtius hash [--algo sha256|sha512|sha3-256|blake3] [--chunk-size <bytes>] <file> [<file> ...]")
	fmt.Fprintln(w, "  virtius keygen [--out-dir <dir>] [--seed-hex <64hex>]")
	fmt.Fprintln(w, "  virtius recommend <image>")
	fmt.Fprintln(w, "  virtius score --original <image> --protected <image>")
	fmt.Fprintln(w, "  virtius backends")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - commands that touch storage accept --config <file> (default $VIRTIUS_CONFIG or virtius.yaml)")
	fmt.Fprintln(w, "  - a missing config file means defaults: ./data/cas and ./data/virtius.db")
	fmt.Fprintln(w, "  - every protect run signs with a fresh Ed25519 key; the public key travels in the certificate")
	fmt.Fprintln(w, "  - verify exits 1 when the hash is unknown or the stored signature does not check out")
}

func defaultConfigPath() string {
	if p := os.Getenv("VIRTIUS_CONFIG"); p != "" {
		return p
	}
	return "virtius.yaml"
}

func cmdProtect(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("protect", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var configPath, user, level, outPath, certPath string
	var asJSON bool
	fs.StringVar(&configPath, "config", defaultConfigPath(), "Config file")
	fs.StringVar(&user, "user", "", "Owner of the upload")
	fs.StringVar(&level, "level", "", "Cloaking level (default from config)")
	fs.StringVar(&outPath, "out", "", "Write the protected image here")
	fs.StringVar(&certPath, "cert", "", "Write the certificate JSON here")
	fs.BoolVar(&asJSON, "json", false, "Print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 || user == "" {
		fmt.Fprintln(errOut, "usage: virtius protect --user <id> [--level L] [--out <file>] [--cert <file>] [--json] <image>")
		return 2
	}
	if level != "" {
		if _, err := cloak.ParseLevel(level); err != nil {
			fmt.Fprintf(errOut, "invalid --level: %v\n", err)
			return 2
		}
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read image: %v\n", err)
		return 1
	}

	a, err := openApp(ctx, configPath, func(cfg *appOverrides) { cfg.level = level })
	if err != nil {
		fmt.Fprintf(errOut, "setup: %v\n", err)
		return 1
	}
	defer a.Close()

	o, err := a.svc.Protect(ctx, user, fs.Arg(0), data)
	if err != nil {
		return reportError(out, errOut, "protect", err, asJSON)
	}
	if outPath != "" {
		if err := os.WriteFile(outPath, o.Result.ProtectedImage, 0o644); err != nil {
			fmt.Fprintf(errOut, "write --out: %v\n", err)
			return 1
		}
	}
	if certPath != "" {
		b, err := o.Result.Certificate.JSON()
		if err != nil {
			fmt.Fprintf(errOut, "render certificate: %v\n", err)
			return 1
		}
		if err := os.WriteFile(certPath, append(b, '\n'), 0o644); err != nil {
			fmt.Fprintf(errOut, "write --cert: %v\n", err)
			return 1
		}
	}

	resp := model.NewProtectResponse(o)
	if asJSON {
		return writeJSON(out, errOut, resp)
	}
	fmt.Fprintf(out, "content_id:          %s\n", resp.ContentID)
	fmt.Fprintf(out, "original_hash:       %s\n", resp.OriginalHash)
	fmt.Fprintf(out, "protected_hash:      %s\n", resp.ProtectedHash)
	fmt.Fprintf(out, "protected:           %s\n", resp.ProtectedLocator)
	fmt.Fprintf(out, "certificate:         %s\n", resp.CertificateLocator)
	fmt.Fprintf(out, "cloaking_level:      %s\n", resp.Stats.CloakingLevel)
	fmt.Fprintf(out, "manipulation_score:  %.2f\n", resp.Stats.ManipulationScore)
	fmt.Fprintf(out, "protection_score:    %.2f\n", resp.Stats.ProtectionScore)
	return 0
}

func cmdVerify(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var configPath string
	var asJSON bool
	fs.StringVar(&configPath, "config", defaultConfigPath(), "Config file")
	fs.BoolVar(&asJSON, "json", false, "Print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: virtius verify [--json] <sha256-hex>")
		return 2
	}

	a, err := openApp(ctx, configPath, nil)
	if err != nil {
		fmt.Fprintf(errOut, "setup: %v\n", err)
		return 1
	}
	defer a.Close()

	v, err := a.svc.VerifyContent(ctx, fs.Arg(0))
	if err != nil {
		return reportError(out, errOut, "verify", err, asJSON)
	}
	resp := model.NewVerifyResponse(v)
	code := 0
	if !resp.SignaturesValid {
		code = 1
	}
	if asJSON {
		if rc := writeJSON(out, errOut, resp); rc != 0 {
			return rc
		}
		return code
	}
	fmt.Fprintf(out, "verified:          %t\n", resp.Verified)
	fmt.Fprintf(out, "content_id:        %s\n", resp.ContentID)
	fmt.Fprintf(out, "creator:           %s\n", resp.Creator)
	fmt.Fprintf(out, "timestamp:         %s\n", resp.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(out, "protection_level:  %s\n", resp.ProtectionLevel)
	fmt.Fprintf(out, "matched:           %s\n", resp.MatchedHash)
	fmt.Fprintf(out, "signatures_valid:  %t\n", resp.SignaturesValid)
	return code
}

func cmdLookup(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("lookup", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var configPath string
	fs.StringVar(&configPath, "config", defaultConfigPath(), "Config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: virtius lookup <sha256-hex>")
		return 2
	}

	a, err := openApp(ctx, configPath, nil)
	if err != nil {
		fmt.Fprintf(errOut, "setup: %v\n", err)
		return 1
	}
	defer a.Close()

	c, err := a.svc.Certificate(ctx, fs.Arg(0))
	if err != nil {
		return reportError(out, errOut, "lookup", err, false)
	}
	b, err := c.JSON()
	if err != nil {
		fmt.Fprintf(errOut, "render certificate: %v\n", err)
		return 1
	}
	_, _ = out.Write(append(b, '\n'))
	return 0
}

func cmdHistory(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var configPath, user string
	var asJSON bool
	fs.StringVar(&configPath, "config", defaultConfigPath(), "Config file")
	fs.StringVar(&user, "user", "", "Owner whose uploads to list")
	fs.BoolVar(&asJSON, "json", false, "Print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if user == "" || fs.NArg() != 0 {
		fmt.Fprintln(errOut, "usage: virtius history --user <id> [--json]")
		return 2
	}

	a, err := openApp(ctx, configPath, nil)
	if err != nil {
		fmt.Fprintf(errOut, "setup: %v\n", err)
		return 1
	}
	defer a.Close()

	recs, err := a.svc.History(ctx, user)
	if err != nil {
		return reportError(out, errOut, "history", err, asJSON)
	}
	items := model.NewContentSummaries(recs)
	if asJSON {
		return writeJSON(out, errOut, items)
	}
	for _, it := range items {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n",
			it.ContentID, it.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), it.CloakingLevel, it.OriginalHash, it.Filename)
	}
	return 0
}

func cmdExport(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var configPath, user, outPath string
	var compress, noIndex bool
	fs.StringVar(&configPath, "config", defaultConfigPath(), "Config file")
	fs.StringVar(&user, "user", "", "Owner whose artifacts to export")
	fs.StringVar(&outPath, "out", "", "Bundle file to write")
	fs.BoolVar(&compress, "zstd", false, "Compress the bundle with zstd")
	fs.BoolVar(&noIndex, "no-index", false, "Omit index.json")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if user == "" || outPath == "" || fs.NArg() != 0 {
		fmt.Fprintln(errOut, "usage: virtius export --user <id> --out <file> [--zstd] [--no-index]")
		return 2
	}

	a, err := openApp(ctx, configPath, nil)
	if err != nil {
		fmt.Fprintf(errOut, "setup: %v\n", err)
		return 1
	}
	defer a.Close()

	var buf bytes.Buffer
	n, err := a.svc.Export(ctx, &buf, user, bundle.ExportOptions{IncludeIndex: !noIndex, Compress: compress})
	if err != nil {
		return reportError(out, errOut, "export", err, false)
	}
	if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
		fmt.Fprintf(errOut, "write --out: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "exported %d records to %s\n", n, outPath)
	return 0
}

func cmdImport(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var configPath string
	var ignoreUnknown bool
	fs.StringVar(&configPath, "config", defaultConfigPath(), "Config file")
	fs.BoolVar(&ignoreUnknown, "ignore-unknown", false, "Skip entries outside the bundle layout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: virtius import [--ignore-unknown] <bundle>")
		return 2
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "open bundle: %v\n", err)
		return 1
	}
	defer f.Close()

	a, err := openApp(ctx, configPath, nil)
	if err != nil {
		fmt.Fprintf(errOut, "setup: %v\n", err)
		return 1
	}
	defer a.Close()

	m, err := bundle.ImportWithOptions(f, a.cas, bundle.ImportOptions{IgnoreUnknown: ignoreUnknown})
	if err != nil {
		return reportError(out, errOut, "import", err, false)
	}
	for _, l := range m.Locators {
		fmt.Fprintln(out, l.String())
	}
	fmt.Fprintf(errOut, "imported %d blobs\n", len(m.Blobs))
	return 0
}

func cmdBackends(out io.Writer) int {
	for _, b := range casregistry.List(casregistry.UsageCLI) {
		if b.Description == "" {
			_, _ = fmt.Fprintf(out, "%s\n", b.Name)
			continue
		}
		_, _ = fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
	}
	return 0
}

// reportError prints err in its coded form and returns the exit status.
func reportError(out, errOut io.Writer, cmd string, err error, asJSON bool) int {
	coded := model.FromError(err)
	if asJSON {
		_ = writeJSON(out, errOut, coded)
		return 1
	}
	fmt.Fprintf(errOut, "%s: %s\n", cmd, strings.TrimSpace(coded.Error()))
	return 1
}

func writeJSON(out, errOut io.Writer, v any) int {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(errOut, "encode json: %v\n", err)
		return 1
	}
	return 0
}
