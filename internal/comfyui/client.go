package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"github.com/sirupsen/logrus"

	"comfybatch/internal/apperrors"
	"comfybatch/internal/config"
	"comfybatch/internal/interfaces"
	"comfybatch/internal/transport"
	"comfybatch/internal/workflow"
)

// Client ComfyUI API client bound to one server
type Client struct {
	endpoint  string
	transport *transport.Transport
	logger    *logrus.Logger
}

var _ interfaces.ComfyUIClient = (*Client)(nil)

// NewClient creates ComfyUI client
func NewClient(endpoint string, t *transport.Transport) *Client {
	return &Client{
		endpoint:  endpoint,
		transport: t,
		logger:    config.NewLogger(),
	}
}

// buildURL builds complete URL, properly handling endpoint
func buildURL(endpoint, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	endpoint = strings.TrimSuffix(endpoint, "/")

	// If endpoint already contains protocol, use it directly
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint + path
	}

	// If endpoint doesn't contain protocol, add http://
	return "http://" + endpoint + path
}

// UploadImage uploads an image as multipart form data
func (c *Client) UploadImage(ctx context.Context, filename string, content io.Reader, subfolder string, overwrite bool) (string, error) {
	const op = "upload image"

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", apperrors.New(apperrors.KindIO, op, err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", apperrors.New(apperrors.KindIO, op, err)
	}
	if overwrite {
		if err := writer.WriteField("overwrite", "true"); err != nil {
			return "", apperrors.New(apperrors.KindIO, op, err)
		}
	}
	if subfolder != "" {
		if err := writer.WriteField("subfolder", subfolder); err != nil {
			return "", apperrors.New(apperrors.KindIO, op, err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", apperrors.New(apperrors.KindIO, op, err)
	}

	resp, err := c.transport.Post(ctx, buildURL(c.endpoint, "/upload/image"), writer.FormDataContentType(), body.Bytes())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result interfaces.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", apperrors.Errorf(apperrors.KindProtocol, op, "failed to decode response: %v", err)
	}
	if result.Name == "" {
		return "", apperrors.Errorf(apperrors.KindProtocol, op, "response has no name field")
	}

	logrus.Debugf("Image %s uploaded as %s", filename, result.RemotePath())
	return result.RemotePath(), nil
}

// SubmitWorkflow submits workflow to ComfyUI
func (c *Client) SubmitWorkflow(ctx context.Context, descriptor *workflow.Descriptor) (string, error) {
	const op = "submit workflow"

	// Build request body
	requestBody := map[string]interface{}{
		"prompt": descriptor,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", apperrors.Errorf(apperrors.KindValidation, op, "failed to marshal workflow: %v", err)
	}

	url := buildURL(c.endpoint, "/prompt")
	logrus.Debugf("Request URL: %s", url)

	resp, err := c.transport.Post(ctx, url, "application/json", jsonData)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result interfaces.ComfyUIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", apperrors.Errorf(apperrors.KindProtocol, op, "failed to decode response: %v", err)
	}
	if result.PromptID == "" {
		return "", apperrors.Errorf(apperrors.KindProtocol, op, "response has no prompt_id")
	}

	c.logger.WithFields(logrus.Fields{
		"prompt_id": result.PromptID,
		"number":    result.Number,
	}).Debug("Workflow submitted successfully")
	return result.PromptID, nil
}

// GetHistory gets the history of a prompt
func (c *Client) GetHistory(ctx context.Context, promptID string) (interfaces.History, error) {
	resp, err := c.transport.Get(ctx, buildURL(c.endpoint, "/history/"+promptID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var history interfaces.History
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, apperrors.Errorf(apperrors.KindProtocol, "get history", "failed to decode response: %v", err)
	}
	return history, nil
}

// ViewImage downloads one produced image
func (c *Client) ViewImage(ctx context.Context, image interfaces.OutputImage) ([]byte, error) {
	resp, err := c.transport.Get(ctx, buildURL(c.endpoint, "/view")+"?"+image.Query())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.New(apperrors.KindTransport, "view image", fmt.Errorf("failed to read body: %w", err))
	}
	return data, nil
}

// Interrupt interrupts the prompt currently executing on the server
func (c *Client) Interrupt(ctx context.Context) error {
	resp, err := c.transport.Post(ctx, buildURL(c.endpoint, "/interrupt"), "", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// HealthCheck performs health check
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.transport.Get(ctx, buildURL(c.endpoint, "/system_stats"))
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp.Body.Close()
	return nil
}
