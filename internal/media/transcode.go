package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	// Registers the WebP decoder with image.Decode for sticker conversion.
	_ "golang.org/x/image/webp"

	"whatstopic/internal/constants"
	apperrors "whatstopic/internal/errors"
	"whatstopic/internal/security"
)

// Hint names the target format of a transcode step
type Hint string

const (
	HintNone Hint = ""
	// HintVoice produces mono 48kHz Ogg/Opus.
	HintVoice Hint = "voice"
	// HintVideoNote produces a square H.264/AAC MP4 with faststart.
	HintVideoNote Hint = "video_note"
	// HintStaticImage turns a sticker into a PNG.
	HintStaticImage Hint = "static_image"
)

// Transcoder converts the file at in to the format named by hint, writing out.
type Transcoder interface {
	Transcode(ctx context.Context, in, out string, hint Hint) error
}

// FFmpegTranscoder shells out to ffmpeg for audio and video and decodes
// images in process.
type FFmpegTranscoder struct {
	binary  string
	timeout time.Duration
}

func NewFFmpegTranscoder(binary string, timeout time.Duration) *FFmpegTranscoder {
	if binary == "" {
		binary = constants.DefaultFFmpegPath
	}
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultTranscodeTimeoutSec) * time.Second
	}
	return &FFmpegTranscoder{binary: binary, timeout: timeout}
}

func (t *FFmpegTranscoder) Transcode(ctx context.Context, in, out string, hint Hint) error {
	if err := security.ValidateFilePath(in); err != nil {
		return err
	}
	if err := security.ValidateFilePath(out); err != nil {
		return err
	}

	switch hint {
	case HintStaticImage:
		return convertToPNG(in, out)
	case HintVoice, HintVideoNote:
		return t.runFFmpeg(ctx, ffmpegArgs(in, out, hint))
	default:
		return fmt.Errorf("unknown transcode hint %q", hint)
	}
}

func ffmpegArgs(in, out string, hint Hint) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", in}
	switch hint {
	case HintVoice:
		args = append(args, "-vn", "-ac", "1", "-ar", "48000", "-c:a", "libopus", "-b:a", "32k", "-f", "ogg")
	case HintVideoNote:
		args = append(args,
			"-vf", "crop='min(iw,ih)':'min(iw,ih)',scale=384:384",
			"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p",
			"-c:a", "aac", "-b:a", "64k",
			"-movflags", "+faststart", "-f", "mp4")
	}
	return append(args, out)
}

func (t *FFmpegTranscoder) runFFmpeg(ctx context.Context, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.binary, args...) // #nosec G204 - binary from config, args built here
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return apperrors.NewTimeoutError("ffmpeg", t.timeout.String())
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 200 {
			msg = msg[len(msg)-200:]
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, msg)
	}
	return nil
}

func convertToPNG(in, out string) error {
	img, err := imaging.Open(in)
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}
	if err := imaging.Save(img, out); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}
