package acquire

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"repoanalyzer/internal/sandbox"
)

const archiveName = "source.archive"

var (
	archiveExt = regexp.MustCompile(`(?i)\.(zip|tar|tgz|tar\.gz)$`)
	slugUnsafe = regexp.MustCompile(`[^a-z0-9_-]+`)
)

// Slug derives a directory name from an uploaded file name.
func Slug(filename string) string {
	base := filename
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	base = archiveExt.ReplaceAllString(base, "")
	slug := strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(base), "-"), "-")
	if slug == "" {
		return "upload"
	}
	return slug
}

// freshDir returns a path under base named after slug that does not exist
// yet, appending -2, -3, ... on collision.
func freshDir(ctx context.Context, env sandbox.Environment, base, slug string) (string, error) {
	candidate := path.Join(base, slug)
	for i := 2; ; i++ {
		taken, err := exists(ctx, env, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		if i > 1000 {
			return "", fmt.Errorf("no free directory for %q", slug)
		}
		candidate = path.Join(base, slug+"-"+strconv.Itoa(i))
	}
}

func (a *Acquirer) acquireUpload(ctx context.Context, env sandbox.Environment, data []byte, filename string, progress Progress) (AcquiredRoot, error) {
	if filename == "" {
		filename = "upload"
	}
	dir, err := freshDir(ctx, env, env.Workspace(), Slug(filename))
	if err != nil {
		return AcquiredRoot{}, fmt.Errorf("%w: %v", ErrAcquireFailed, err)
	}
	progress.send("Preparing upload directory: " + dir)
	if _, err := run(ctx, env, sandbox.Command("mkdir", "-p", dir)); err != nil {
		return AcquiredRoot{}, fmt.Errorf("%w: %v", ErrAcquireFailed, err)
	}

	archive := path.Join(dir, archiveName)
	progress.send(fmt.Sprintf("Uploading archive (%d bytes)...", len(data)))
	if err := env.WriteFile(ctx, archive, data); err != nil {
		return AcquiredRoot{}, fmt.Errorf("%w: write archive: %v", ErrAcquireFailed, err)
	}
	return a.unpack(ctx, env, dir, archive, ProvenanceUpload, progress)
}

func (a *Acquirer) acquireRemoteArchive(ctx context.Context, env sandbox.Environment, archiveURL string, progress Progress) (AcquiredRoot, error) {
	dir, err := freshDir(ctx, env, env.Workspace(), "remote-"+strconv.FormatInt(a.now(), 10))
	if err != nil {
		return AcquiredRoot{}, fmt.Errorf("%w: %v", ErrAcquireFailed, err)
	}
	if _, err := run(ctx, env, sandbox.Command("mkdir", "-p", dir)); err != nil {
		return AcquiredRoot{}, fmt.Errorf("%w: %v", ErrAcquireFailed, err)
	}

	archive := path.Join(dir, archiveName)
	progress.send("Downloading archive from remote...")
	res, err := env.Exec(ctx, downloadCommand(archiveURL, archive))
	if err != nil {
		return AcquiredRoot{}, fmt.Errorf("%w: download: %v", ErrAcquireFailed, err)
	}
	if !res.Success || !strings.Contains(res.Stdout, "ok") {
		detail := strings.TrimSpace(res.Output())
		if detail == "" {
			detail = "unknown error"
		}
		progress.send("Remote download failed: " + detail)
		return AcquiredRoot{}, fmt.Errorf("%w: download %s: %s", ErrAcquireFailed, archiveURL, detail)
	}
	return a.unpack(ctx, env, dir, archive, ProvenanceRemoteArchive, progress)
}

// downloadCommand fetches src into dst with curl, else wget, and prints ok
// when dst is non-empty.
func downloadCommand(src, dst string) string {
	return fmt.Sprintf(
		"if command -v curl >/dev/null 2>&1; then %s || exit 11; "+
			"elif command -v wget >/dev/null 2>&1; then %s || exit 12; "+
			"else exit 13; fi; "+
			"%s && echo ok || { echo empty; exit 14; }",
		sandbox.Command("curl", "-fsSL", src, "-o", dst),
		sandbox.Command("wget", "-qO", dst, src),
		sandbox.Command("test", "-s", dst),
	)
}

func (a *Acquirer) unpack(ctx context.Context, env sandbox.Environment, dir, archive string, prov Provenance, progress Progress) (AcquiredRoot, error) {
	if err := a.Extract(ctx, env, dir, archive, progress); err != nil {
		return AcquiredRoot{}, err
	}
	root, err := a.DetectRoot(ctx, env, dir, progress)
	if err != nil {
		return AcquiredRoot{}, err
	}
	progress.send("Upload ready at: " + root)
	return AcquiredRoot{Path: root, Provenance: prov}, nil
}

// DetectMIME reports the media type of file as seen by file(1).
func DetectMIME(ctx context.Context, env sandbox.Environment, file string) string {
	res, err := env.Exec(ctx, sandbox.Command("file", "-b", "--mime-type", file)+" || echo unknown")
	if err != nil {
		return "unknown"
	}
	mime := strings.TrimSpace(res.Stdout)
	if mime == "" {
		mime = strings.TrimSpace(res.Stderr)
	}
	if mime == "" {
		return "unknown"
	}
	return mime
}

// extractors returns the commands to try for mime, most specific first.
func extractors(mime, archive string) [][]string {
	var cmds [][]string
	switch mime {
	case "application/zip":
		cmds = append(cmds, []string{"unzip", "-q", "-o", archive})
	case "application/gzip", "application/x-gzip":
		cmds = append(cmds, []string{"tar", "-xzf", archive})
	case "application/x-tar":
		cmds = append(cmds, []string{"tar", "-xf", archive})
	}
	cmds = append(cmds,
		[]string{"bsdtar", "-xf", archive},
		[]string{"unzip", "-q", "-o", archive},
	)

	seen := make(map[string]bool, len(cmds))
	out := cmds[:0]
	for _, c := range cmds {
		key := strings.Join(c, "\x00")
		if !seen[key] {
			seen[key] = true
			out = append(out, c)
		}
	}
	return out
}

// Extract unpacks archive into dir and removes the archive afterwards. The
// media type is detected from content, not the file name.
func (a *Acquirer) Extract(ctx context.Context, env sandbox.Environment, dir, archive string, progress Progress) error {
	progress.send("Unzipping...")
	mime := DetectMIME(ctx, env, archive)

	extracted := false
	for _, argv := range extractors(mime, archive) {
		cmd := sandbox.And(sandbox.Command("cd", dir), sandbox.Command(argv[0], argv[1:]...))
		if _, err := run(ctx, env, cmd); err != nil {
			a.logger.Debug("extractor failed", zap.String("tool", argv[0]), zap.String("mime", mime), zap.Error(err))
			continue
		}
		extracted = true
		break
	}

	if _, err := env.Exec(ctx, sandbox.Command("rm", "-f", archive)); err != nil {
		a.logger.Warn("remove archive", zap.String("path", archive), zap.Error(err))
	}
	if !extracted {
		progress.send("Warning: archive extraction failed (mime=" + mime + ").")
		return fmt.Errorf("%w: mime=%s", ErrExtractFailed, mime)
	}
	return nil
}
