package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"whatstopic/internal/constants"
	apperrors "whatstopic/internal/errors"
	"whatstopic/internal/security"
	"whatstopic/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

const maxErrorBodyBytes = 4096

// WhatsAppClient talks to a WAHA server over its REST API.
type WhatsAppClient struct {
	baseURL     string
	apiKey      string
	sessionName string
	client      *http.Client
	logger      *logrus.Logger
}

var _ types.WAClient = (*WhatsAppClient)(nil)

func NewClient(config types.ClientConfig) *WhatsAppClient {
	return NewClientWithLogger(config, nil)
}

func NewClientWithLogger(config types.ClientConfig, logger *logrus.Logger) *WhatsAppClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &WhatsAppClient{
		baseURL:     strings.TrimSuffix(config.BaseURL, "/"),
		apiKey:      config.APIKey,
		sessionName: config.SessionName,
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

func (c *WhatsAppClient) endpoint(path string) string {
	return c.baseURL + types.APIBase + path
}

func (c *WhatsAppClient) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	return req, nil
}

// doJSON sends payload and decodes a successful response into out when out
// is non-nil. Non-2xx answers become classified API errors.
func (c *WhatsAppClient) doJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := c.newRequest(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.NewAPIError("whatsapp", path, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.NewAPIError("whatsapp", path, resp.StatusCode, readErrorBody(resp))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewAPIError("whatsapp", path, 0, fmt.Errorf("failed to read response body: %w", err))
	}
	// WAHA answers some sends with 201 and an empty body.
	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func readErrorBody(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var wahaErr types.WAHAErrorResponse
	if err := json.Unmarshal(raw, &wahaErr); err == nil {
		if wahaErr.Message != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, wahaErr.Message)
		}
		if wahaErr.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, wahaErr.Error)
		}
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}

func (c *WhatsAppClient) send(ctx context.Context, path string, payload interface{}) (*types.SendMessageResponse, error) {
	var wahaResp types.WAHAMessageResponse
	if err := c.doJSON(ctx, http.MethodPost, path, payload, &wahaResp); err != nil {
		return nil, err
	}
	return &types.SendMessageResponse{
		MessageID: wahaResp.MessageID(),
		Status:    "sent",
	}, nil
}

func (c *WhatsAppClient) SendText(ctx context.Context, chatID, text, replyTo string) (*types.SendMessageResponse, error) {
	return c.send(ctx, types.EndpointSendText, types.SendMessageRequest{
		ChatID:  chatID,
		Text:    text,
		Session: c.sessionName,
		ReplyTo: replyTo,
	})
}

func (c *WhatsAppClient) sendFile(ctx context.Context, endpoint, chatID, path, caption, replyTo string, convert *bool) (*types.SendMessageResponse, error) {
	file, err := encodeFile(path)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, endpoint, types.MediaMessageRequest{
		ChatID:  chatID,
		File:    file,
		Caption: caption,
		Session: c.sessionName,
		ReplyTo: replyTo,
		Convert: convert,
	})
}

func (c *WhatsAppClient) SendImage(ctx context.Context, chatID, path, caption, replyTo string) (*types.SendMessageResponse, error) {
	return c.sendFile(ctx, types.EndpointSendImage, chatID, path, caption, replyTo, nil)
}

func (c *WhatsAppClient) SendVideo(ctx context.Context, chatID, path, caption, replyTo string) (*types.SendMessageResponse, error) {
	convert := true
	return c.sendFile(ctx, types.EndpointSendVideo, chatID, path, caption, replyTo, &convert)
}

func (c *WhatsAppClient) SendDocument(ctx context.Context, chatID, path, caption, replyTo string) (*types.SendMessageResponse, error) {
	return c.sendFile(ctx, types.EndpointSendFile, chatID, path, caption, replyTo, nil)
}

func (c *WhatsAppClient) SendVoice(ctx context.Context, chatID, path, replyTo string) (*types.SendMessageResponse, error) {
	convert := true
	return c.sendFile(ctx, types.EndpointSendVoice, chatID, path, "", replyTo, &convert)
}

// SendReaction sets or, with an empty reaction, clears a reaction.
func (c *WhatsAppClient) SendReaction(ctx context.Context, chatID, messageID, reaction string) (*types.SendMessageResponse, error) {
	payload := types.ReactionRequest{
		Session:   c.sessionName,
		MessageID: messageID,
		Reaction:  reaction,
	}
	var resp types.SendMessageResponse
	if err := c.doJSON(ctx, http.MethodPut, types.EndpointReaction, payload, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "" {
		resp.Status = "sent"
	}
	return &resp, nil
}

func (c *WhatsAppClient) GetContact(ctx context.Context, contactID string) (*types.Contact, error) {
	path := fmt.Sprintf("%s?contactId=%s&session=%s", types.EndpointContacts, url.QueryEscape(contactID), url.QueryEscape(c.sessionName))
	var contact types.Contact
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

func (c *WhatsAppClient) GetGroup(ctx context.Context, groupID string) (*types.Group, error) {
	path := fmt.Sprintf("/%s%s/%s", url.PathEscape(c.sessionName), types.EndpointGroups, url.PathEscape(groupID))
	var group types.Group
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &group); err != nil {
		return nil, err
	}
	if group.ID == "" {
		group.ID = groupID
	}
	return &group, nil
}

func (c *WhatsAppClient) GetSessionStatus(ctx context.Context) (*types.Session, error) {
	var session types.Session
	if err := c.doJSON(ctx, http.MethodGet, types.EndpointSessions+"/"+url.PathEscape(c.sessionName), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// WaitForSessionReady polls the session until it reports WORKING.
func (c *WhatsAppClient) WaitForSessionReady(ctx context.Context, maxWaitTime time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, maxWaitTime)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		session, err := c.GetSessionStatus(ctx)
		if err == nil && session.Status == types.SessionStatusWorking {
			return nil
		}
		if err != nil {
			c.logger.WithError(err).Debug("Session status check failed")
		} else {
			c.logger.WithField("status", session.Status).Debug("Waiting for WhatsApp session")
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("session %s not ready after %s: %w", c.sessionName, maxWaitTime, ctx.Err())
		case <-ticker.C:
		}
	}
}

// DownloadMedia opens a WAHA media URL. The caller owns the returned body.
// size is -1 when the server did not announce it.
func (c *WhatsAppClient) DownloadMedia(ctx context.Context, mediaURL string) (io.ReadCloser, int64, string, error) {
	rewritten := rewriteMediaURL(mediaURL, c.baseURL)
	if err := validateDownloadURL(rewritten, c.baseURL); err != nil {
		return nil, 0, "", apperrors.NewMediaError("download", "", err).WithClass(apperrors.ClassPermanentContent)
	}

	req, err := c.newRequest(ctx, http.MethodGet, rewritten, nil)
	if err != nil {
		return nil, 0, "", err
	}
	req.Header.Del("Accept")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, "", apperrors.NewAPIError("whatsapp", "media", 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := apperrors.NewAPIError("whatsapp", "media", resp.StatusCode, readErrorBody(resp))
		_ = resp.Body.Close()
		return nil, 0, "", apiErr
	}

	mimeType := resp.Header.Get("Content-Type")
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = parsed
	}
	return resp.Body, resp.ContentLength, mimeType, nil
}

func encodeFile(path string) (types.FileData, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return types.FileData{}, fmt.Errorf("invalid media path: %w", err)
	}
	data, err := os.ReadFile(path) // #nosec G304 - validated above
	if err != nil {
		return types.FileData{}, fmt.Errorf("failed to read media file: %w", err)
	}

	mimeType, ok := constants.MimeTypes[strings.ToLower(filepath.Ext(path))]
	if !ok {
		mimeType = http.DetectContentType(data)
	}
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = parsed
	}

	return types.FileData{
		Mimetype: mimeType,
		Filename: filepath.Base(path),
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil
}
