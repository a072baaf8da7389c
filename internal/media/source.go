package media

import (
	"context"
	"fmt"
	"io"

	"whatstopic/internal/models"
)

// Source opens the remote body behind a media reference. size is -1 when the
// remote side does not announce it.
type Source interface {
	Open(ctx context.Context, ref models.MediaRef) (body io.ReadCloser, size int64, mimeType string, err error)
}

// WhatsAppDownloader is the part of the WAHA client a WhatsAppSource needs.
type WhatsAppDownloader interface {
	DownloadMedia(ctx context.Context, mediaURL string) (io.ReadCloser, int64, string, error)
}

// WhatsAppSource fetches media by URL from WAHA.
type WhatsAppSource struct {
	client WhatsAppDownloader
}

func NewWhatsAppSource(client WhatsAppDownloader) *WhatsAppSource {
	return &WhatsAppSource{client: client}
}

func (s *WhatsAppSource) Open(ctx context.Context, ref models.MediaRef) (io.ReadCloser, int64, string, error) {
	if ref.URL == "" {
		return nil, 0, "", fmt.Errorf("media reference has no url")
	}
	return s.client.DownloadMedia(ctx, ref.URL)
}

// TelegramDownloader is the part of the Bot API client a TelegramSource needs.
type TelegramDownloader interface {
	DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, int64, error)
}

// TelegramSource fetches media by file id from the Bot API.
type TelegramSource struct {
	client TelegramDownloader
}

func NewTelegramSource(client TelegramDownloader) *TelegramSource {
	return &TelegramSource{client: client}
}

func (s *TelegramSource) Open(ctx context.Context, ref models.MediaRef) (io.ReadCloser, int64, string, error) {
	if ref.FileID == "" {
		return nil, 0, "", fmt.Errorf("media reference has no file id")
	}
	body, size, err := s.client.DownloadFile(ctx, ref.FileID)
	if err != nil {
		return nil, 0, "", err
	}
	return body, size, ref.MimeType, nil
}
