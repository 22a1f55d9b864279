// Package media implements the MediaFetcher collaborator by shelling out to
// the yt-dlp binary, the same external-tool-wrapper shape used elsewhere in
// this family of download managers: a line-scanner tolerant of \r-delimited
// progress output, regex-based percent parsing, and custom JSON
// unmarshaling for yt-dlp's inconsistently-typed fields.
package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	apperr "kingo/internal/errors"
	"kingo/internal/model"

	"github.com/rs/zerolog"
)

var progressRegex = regexp.MustCompile(`(\d+\.?\d*)%`)
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// ErrSubtitleUnavailable is the structured sentinel a subtitle-only failure
// wraps: errors.Is(err, ErrSubtitleUnavailable) holds for every *SubtitleError.
// The Download Service extracts the *SubtitleError with errors.As to implement
// the subtitle non-fatal rule instead of matching on error text.
var ErrSubtitleUnavailable = errors.New("subtitle unavailable")

// SubtitleError is returned by Fetch when the main media artifact downloaded
// successfully but a requested subtitle track could not be fetched. Path is
// the already-valid main media output.
type SubtitleError struct {
	Path string
	Err  error
}

func (e *SubtitleError) Error() string { return fmt.Sprintf("subtitle unavailable: %v", e.Err) }
func (e *SubtitleError) Unwrap() error { return ErrSubtitleUnavailable }

// ProgressSink receives raw byte-level progress during Fetch. The Download
// Service wraps this with its own throttling and cancellation checks; Fetch
// itself makes no throttling decisions.
type ProgressSink func(downloadedBytes, totalBytes int64, percent float64)

// Fetcher is the MediaFetcher capability the Download Service consumes.
type Fetcher interface {
	Describe(ctx context.Context, url string) (model.VideoDescriptor, error)
	Fetch(ctx context.Context, descriptor model.VideoDescriptor, outputDir string, sink ProgressSink) (string, error)
}

// FlexibleInt accepts a JSON field that yt-dlp may render as either an int or
// a float depending on which extractor produced it.
type FlexibleInt int

func (f *FlexibleInt) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = 0
		return nil
	}
	var i int
	if err := json.Unmarshal(data, &i); err == nil {
		*f = FlexibleInt(i)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexibleInt(int(n))
		return nil
	}
	*f = 0
	return nil
}

// Resolution accepts yt-dlp's format.resolution field, which is either a
// string or null.
type Resolution string

func (r *Resolution) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*r = ""
		return nil
	}
	*r = Resolution(s)
	return nil
}

type ytdlpVideoInfo struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Uploader  string        `json:"uploader"`
	Duration  FlexibleInt   `json:"duration"`
	Thumbnail string        `json:"thumbnail"`
	Formats   []ytdlpFormat `json:"formats"`
}

type ytdlpFormat struct {
	FormatID   string     `json:"format_id"`
	Resolution Resolution `json:"resolution"`
	Ext        string     `json:"ext"`
}

// YtDlpFetcher is the concrete Fetcher backed by a yt-dlp subprocess.
type YtDlpFetcher struct {
	ytDlpPath  string
	ffmpegPath string
	log        *zerolog.Logger
}

// NewYtDlpFetcher constructs a Fetcher bound to the given sidecar binaries.
func NewYtDlpFetcher(ytDlpPath, ffmpegPath string, log *zerolog.Logger) *YtDlpFetcher {
	return &YtDlpFetcher{ytDlpPath: ytDlpPath, ffmpegPath: ffmpegPath, log: log}
}

func (f *YtDlpFetcher) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, f.ytDlpPath, args...)
	cmd.Env = append(cmd.Environ(), "PYTHONIOENCODING=utf-8", "PYTHONUTF8=1", "LC_ALL=en_US.UTF-8")
	return cmd
}

// Describe fetches metadata for url without downloading anything.
func (f *YtDlpFetcher) Describe(ctx context.Context, url string) (model.VideoDescriptor, error) {
	cmd := f.command(ctx,
		"--dump-json", "--no-playlist",
		"--no-check-formats", "--no-check-certificate", "--no-warnings",
		"--socket-timeout", "10",
		url,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return model.VideoDescriptor{}, apperr.NewWithMessage("media.Describe", apperr.ErrDownloadFailed, msg)
	}

	var info ytdlpVideoInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return model.VideoDescriptor{}, apperr.Wrap("media.Describe", err)
	}

	qualities := make([]string, 0, len(info.Formats))
	seen := make(map[string]bool)
	for _, fmtInfo := range info.Formats {
		if fmtInfo.Resolution == "" || seen[string(fmtInfo.Resolution)] {
			continue
		}
		seen[string(fmtInfo.Resolution)] = true
		qualities = append(qualities, string(fmtInfo.Resolution))
	}

	return model.NewVideoDescriptor(url, info.Title, info.Uploader, int(info.Duration), info.Thumbnail, qualities, "best", "", false)
}

// Fetch downloads descriptor into outputDir, reporting byte/percent progress
// through sink. If descriptor.DownloadSubtitles is set and the main media
// succeeds but the subtitle track cannot be fetched, Fetch returns the valid
// media path wrapped in a *SubtitleError rather than failing the whole call.
func (f *YtDlpFetcher) Fetch(ctx context.Context, descriptor model.VideoDescriptor, outputDir string, sink ProgressSink) (string, error) {
	path, err := f.fetchMedia(ctx, descriptor, outputDir, sink)
	if err != nil {
		return "", err
	}

	if descriptor.DownloadSubtitles {
		if subErr := f.fetchSubtitles(ctx, descriptor, outputDir); subErr != nil {
			return path, &SubtitleError{Path: path, Err: subErr}
		}
	}
	return path, nil
}

func (f *YtDlpFetcher) fetchMedia(ctx context.Context, descriptor model.VideoDescriptor, outputDir string, sink ProgressSink) (string, error) {
	format := descriptor.SelectedQuality
	if format == "" {
		format = "best"
	}

	args := []string{
		"--ffmpeg-location", f.ffmpegPath,
		"--newline",
		"-o", fmt.Sprintf("%s/%%(title)s.%%(ext)s", outputDir),
		"--no-playlist",
		"--no-check-certificate",
		"--no-warnings",
		"-f", format,
		"--print", "after_move:filepath",
		descriptor.URL,
	}

	cmd := f.command(ctx, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", apperr.Wrap("media.Fetch", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return "", apperr.Wrap("media.Fetch", err)
	}

	var finalPath string
	scanner := bufio.NewScanner(stdout)
	scanner.Split(scanLinesCROrLF)
	for scanner.Scan() {
		line := strings.TrimSpace(ansiRegex.ReplaceAllString(scanner.Text(), ""))
		if line == "" {
			continue
		}

		if matches := progressRegex.FindStringSubmatch(line); len(matches) >= 2 {
			if percent, perr := strconv.ParseFloat(matches[1], 64); perr == nil && sink != nil {
				sink(0, 0, percent)
			}
			continue
		}
		if strings.HasPrefix(line, "/") || strings.Contains(line, outputDir) {
			finalPath = line
		}
	}

	if err := cmd.Wait(); err != nil {
		select {
		case <-ctx.Done():
			return "", apperr.NewWithMessage("media.Fetch", apperr.ErrCancelled, "cancelled")
		default:
			return "", apperr.NewWithMessage("media.Fetch", apperr.ErrDownloadFailed, err.Error())
		}
	}
	if finalPath == "" {
		return "", apperr.NewWithMessage("media.Fetch", apperr.ErrDownloadFailed, "yt-dlp did not report an output path")
	}
	return finalPath, nil
}

func (f *YtDlpFetcher) fetchSubtitles(ctx context.Context, descriptor model.VideoDescriptor, outputDir string) error {
	args := []string{
		"--skip-download",
		"--write-subs", "--write-auto-subs",
		"--sub-langs", "en",
		"-o", fmt.Sprintf("%s/%%(title)s.%%(ext)s", outputDir),
		"--no-warnings",
		descriptor.URL,
	}
	cmd := f.command(ctx, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return errors.New(msg)
	}
	return nil
}

// scanLinesCROrLF splits on either \r or \n, matching yt-dlp's progress
// lines which use \r to overwrite the current line in a real terminal.
func scanLinesCROrLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			return i + 2, data[0:i], nil
		}
		return i + 1, data[0:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
