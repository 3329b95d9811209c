package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"fronix-gateway/core/adapter"
	"fronix-gateway/models"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// ImageService 通过通用 Provider 生成/编辑图片，复用凭证轮换
type ImageService struct {
	requester *ResilientRequester
	adapter   adapter.ProviderAdapter
	provider  *Provider
	logger    *logrus.Logger
}

func NewImageService(requester *ResilientRequester, ad adapter.ProviderAdapter, provider *Provider, logger *logrus.Logger) *ImageService {
	return &ImageService{
		requester: requester,
		adapter:   ad,
		provider:  provider,
		logger:    logger,
	}
}

// Generate 调用 /images/generations，缺省参数会被填充
func (s *ImageService) Generate(ctx context.Context, req models.ImageGenerationRequest) (*models.ImageGenerationResponse, error) {
	req.ApplyDefaults()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image request: %w", err)
	}
	return s.call(ctx, adapter.OpImageGenerations, body)
}

// Edit 调用 /images/edits
func (s *ImageService) Edit(ctx context.Context, model, imageURL, prompt string) (*models.ImageGenerationResponse, error) {
	body, err := json.Marshal(map[string]interface{}{
		"model":  model,
		"prompt": prompt,
		"image":  imageURL,
		"n":      1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image edit request: %w", err)
	}
	return s.call(ctx, adapter.OpImageEdits, body)
}

func (s *ImageService) call(ctx context.Context, op string, body []byte) (*models.ImageGenerationResponse, error) {
	endpoint, err := s.adapter.EndpointURL(s.provider.Endpoint, op)
	if err != nil {
		return nil, err
	}

	resp, err := s.requester.Execute(ctx, endpoint, body, s.adapter.BaseHeaders(false), s.provider.Pool)
	if err != nil {
		return nil, err
	}

	data, err := readAllLimited(resp, 16<<20)
	if err != nil {
		return nil, err
	}

	var out models.ImageGenerationResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invalid image response: %w", err)
	}
	return &out, nil
}

// UploadResult 图床上传结果
type UploadResult struct {
	URL       string `json:"url"`
	DeleteURL string `json:"deleteUrl"`
}

// ImageHost ImgBB 风格图床 (POST key + base64 image)
type ImageHost struct {
	client   *http.Client
	endpoint string
	apiKey   string
	logger   *logrus.Logger
}

func NewImageHost(client *http.Client, endpoint, apiKey string, logger *logrus.Logger) *ImageHost {
	return &ImageHost{client: client, endpoint: endpoint, apiKey: apiKey, logger: logger}
}

// Configured 是否配置了图床凭证
func (h *ImageHost) Configured() bool {
	return h != nil && h.apiKey != "" && h.endpoint != ""
}

// Upload 上传 data URI 或裸 base64 图片
func (h *ImageHost) Upload(ctx context.Context, image string) (*UploadResult, error) {
	if !h.Configured() {
		return nil, errors.New("image host is not configured")
	}

	encoded := image
	if strings.HasPrefix(image, "data:") {
		idx := strings.Index(image, ",")
		if idx < 0 {
			return nil, errors.New("malformed data URI")
		}
		encoded = image[idx+1:]
	}
	if encoded == "" {
		return nil, errors.New("empty image")
	}

	form := url.Values{}
	form.Set("key", h.apiKey)
	form.Set("image", encoded)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: h.endpoint, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: readErrorBody(resp)}
	}

	data, err := readAllLimited(resp, 1<<20)
	if err != nil {
		return nil, err
	}

	result := &UploadResult{
		URL:       gjson.GetBytes(data, "data.url").String(),
		DeleteURL: gjson.GetBytes(data, "data.delete_url").String(),
	}
	if result.URL == "" {
		return nil, fmt.Errorf("image host returned no url")
	}
	return result, nil
}

// readAllLimited 读取并关闭响应体
func readAllLimited(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	return data, nil
}
