package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"whatstopic/internal/constants"
	apperrors "whatstopic/internal/errors"
	"whatstopic/internal/models"

	"github.com/sirupsen/logrus"
)

// Pipeline fetches, transcodes and publishes media with bounded disk use.
type Pipeline struct {
	router     Router
	cacheDir   string
	transcoder Transcoder
	sources    map[models.Platform]Source
	publishers map[models.Platform]Publisher
	logger     *logrus.Logger
}

func NewPipeline(config models.MediaConfig, transcoder Transcoder, logger *logrus.Logger) (*Pipeline, error) {
	if config.CacheDir == "" {
		return nil, fmt.Errorf("media cache directory is required")
	}
	if err := os.MkdirAll(config.CacheDir, constants.DefaultDirectoryPermissions); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if transcoder == nil {
		transcoder = NewFFmpegTranscoder(config.FFmpegPath, time.Duration(config.TranscodeTimeoutSec)*time.Second)
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Pipeline{
		router:     NewRouter(config),
		cacheDir:   config.CacheDir,
		transcoder: transcoder,
		sources:    make(map[models.Platform]Source),
		publishers: make(map[models.Platform]Publisher),
		logger:     logger,
	}, nil
}

// RegisterSource sets the downloader for media originating on platform.
func (p *Pipeline) RegisterSource(platform models.Platform, source Source) {
	p.sources[platform] = source
}

// RegisterPublisher sets the uploader for media sent to platform.
func (p *Pipeline) RegisterPublisher(platform models.Platform, publisher Publisher) {
	p.publishers[platform] = publisher
}

// Router exposes size limits and type detection.
func (p *Pipeline) Router() Router {
	return p.router
}

// Fetch streams the referenced media into a temp file. It stops reading as
// soon as the body passes the per-kind ceiling and returns ErrMediaTooLarge.
func (p *Pipeline) Fetch(ctx context.Context, ref *models.MediaRef, kind models.Kind) (*Blob, error) {
	if ref == nil {
		return nil, apperrors.NewMediaError("fetch", string(kind), fmt.Errorf("missing media reference")).
			WithClass(apperrors.ClassPermanentContent)
	}
	source, ok := p.sources[ref.Platform]
	if !ok {
		return nil, apperrors.NewConfigError("media.source", fmt.Sprintf("no media source for %s", ref.Platform))
	}

	limit := p.router.MaxSize(kind)
	if ref.Size > limit {
		return nil, apperrors.NewMediaTooLargeError(string(kind), ref.Size, limit)
	}

	body, size, mimeType, err := source.Open(ctx, *ref)
	if err != nil {
		return nil, downloadError(kind, err)
	}
	defer func() { _ = body.Close() }()

	if size > limit {
		return nil, apperrors.NewMediaTooLargeError(string(kind), size, limit)
	}

	if ref.MimeType != "" {
		mimeType = ref.MimeType
	}
	ext := p.router.ExtensionFor(mimeType, ref.FileName)

	tmp, err := os.CreateTemp(p.cacheDir, "fetch-*"+ext)
	if err != nil {
		return nil, apperrors.NewMediaError("store", string(kind), err)
	}
	blob := newBlob(tmp.Name())

	written, err := io.Copy(tmp, io.LimitReader(body, limit+1))
	closeErr := tmp.Close()
	if err != nil {
		blob.Release()
		return nil, downloadError(kind, err)
	}
	if closeErr != nil {
		blob.Release()
		return nil, apperrors.NewMediaError("store", string(kind), closeErr)
	}
	if written > limit {
		blob.Release()
		return nil, apperrors.NewMediaTooLargeError(string(kind), written, limit)
	}

	if mimeType == "" || mimeType == constants.DefaultMimeType {
		mimeType = p.router.DetectMimeType(blob.Path)
	}
	blob.MimeType = mimeType
	blob.FileName = ref.FileName
	blob.Size = written
	blob.Kind = kind
	blob.Animated = ref.Animated
	return blob, nil
}

// downloadError classes a failed fetch. Anything short of a transient fault
// means this media is unavailable, which must not suspend the conversation.
func downloadError(kind models.Kind, err error) *apperrors.AppError {
	mediaErr := apperrors.NewMediaError("download", string(kind), err)
	if apperrors.IsTransient(err) {
		return mediaErr
	}
	return mediaErr.WithClass(apperrors.ClassPermanentContent)
}

// Transcode converts blob according to hint. HintNone returns blob unchanged.
// The result shares cleanup with blob.
func (p *Pipeline) Transcode(ctx context.Context, blob *Blob, hint Hint) (*Blob, error) {
	var (
		ext      string
		mimeType string
		kind     = blob.Kind
	)
	switch hint {
	case HintNone:
		return blob, nil
	case HintVoice:
		if isOggOpus(blob.MimeType) {
			return blob, nil
		}
		ext, mimeType = ".ogg", "audio/ogg"
	case HintVideoNote:
		ext, mimeType = ".mp4", "video/mp4"
	case HintStaticImage:
		ext, mimeType, kind = ".png", "image/png", models.KindImage
	default:
		return nil, fmt.Errorf("unknown transcode hint %q", hint)
	}

	out := strings.TrimSuffix(blob.Path, filepath.Ext(blob.Path)) + "-" + string(hint) + ext
	derived := blob.derive(out, mimeType, kind)
	if err := p.transcoder.Transcode(ctx, blob.Path, out, hint); err != nil {
		if apperrors.IsTransient(err) {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTranscode, fmt.Sprintf("transcode to %s failed", hint)).
			WithContext("media_type", string(blob.Kind))
	}
	if info, err := os.Stat(out); err == nil {
		derived.Size = info.Size()
	}
	return derived, nil
}

// Publish uploads blob to the target platform.
func (p *Pipeline) Publish(ctx context.Context, blob *Blob, target Target, caption string) (models.DeliveryResult, error) {
	publisher, ok := p.publishers[target.Platform]
	if !ok {
		return models.DeliveryResult{}, apperrors.NewConfigError("media.publisher", fmt.Sprintf("no media publisher for %s", target.Platform))
	}
	return publisher.Publish(ctx, blob, target, caption)
}

// Run fetches, transcodes and publishes one media item, removing every temp
// file before returning.
func (p *Pipeline) Run(ctx context.Context, ref *models.MediaRef, kind models.Kind, target Target, caption string, videoNote bool) (models.DeliveryResult, error) {
	blob, err := p.Fetch(ctx, ref, kind)
	if err != nil {
		return models.DeliveryResult{}, err
	}
	defer blob.Release()
	blob.VideoNote = videoNote && kind == models.KindVideo

	if target.Platform == models.PlatformTelegram {
		return p.runToTopic(ctx, blob, target, caption)
	}
	return p.runToChat(ctx, blob, target, caption)
}

func (p *Pipeline) runToTopic(ctx context.Context, blob *Blob, target Target, caption string) (models.DeliveryResult, error) {
	switch {
	case blob.Kind == models.KindVoice:
		converted, err := p.Transcode(ctx, blob, HintVoice)
		if err != nil {
			if apperrors.IsTransient(err) {
				return models.DeliveryResult{}, err
			}
			p.logger.WithError(err).Warn("Voice transcode failed, sending original as audio")
			blob.Kind = models.KindAudio
			return p.Publish(ctx, blob, target, caption)
		}
		return p.Publish(ctx, converted, target, caption)

	case blob.VideoNote:
		converted, err := p.Transcode(ctx, blob, HintVideoNote)
		if err != nil {
			if apperrors.IsTransient(err) {
				return models.DeliveryResult{}, err
			}
			p.logger.WithError(err).Warn("Video note transcode failed, sending as regular video")
			blob.VideoNote = false
			return p.Publish(ctx, blob, target, caption)
		}
		return p.Publish(ctx, converted, target, caption)

	case blob.Kind == models.KindSticker:
		result, err := p.Publish(ctx, blob, target, "")
		if err == nil || apperrors.IsTransient(err) {
			return result, err
		}
		p.logger.WithError(err).Debug("Native sticker rejected, converting to image")
		converted, convErr := p.Transcode(ctx, blob, HintStaticImage)
		if convErr != nil {
			return models.DeliveryResult{}, convErr
		}
		return p.Publish(ctx, converted, target, caption)
	}

	return p.Publish(ctx, blob, target, caption)
}

func (p *Pipeline) runToChat(ctx context.Context, blob *Blob, target Target, caption string) (models.DeliveryResult, error) {
	switch blob.Kind {
	case models.KindSticker:
		if blob.Animated || !strings.HasPrefix(blob.MimeType, "image/") {
			blob.Kind = models.KindDocument
			return p.Publish(ctx, blob, target, caption)
		}
		converted, err := p.Transcode(ctx, blob, HintStaticImage)
		if err != nil {
			return models.DeliveryResult{}, err
		}
		return p.Publish(ctx, converted, target, caption)
	case models.KindAudio:
		blob.Kind = models.KindDocument
	}
	return p.Publish(ctx, blob, target, caption)
}

// CleanupOldFiles removes pipeline temp files older than maxAge and reports
// how many were removed.
func (p *Pipeline) CleanupOldFiles(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(p.cacheDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	now := time.Now()
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		path := filepath.Join(p.cacheDir, info.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove old file: %w", err)
		}
		removed++
	}
	return removed, nil
}

func isOggOpus(mimeType string) bool {
	return strings.HasPrefix(mimeType, "audio/ogg") || strings.HasPrefix(mimeType, "audio/opus")
}
