package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fronix-gateway/models"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

var (
	ErrFunctionNotFound = errors.New("function not registered")
)

// FunctionRegistry 可被模型调用的函数注册表
type FunctionRegistry struct {
	handlers map[string]FunctionHandler
	order    []string
	metrics  *Metrics
	logger   *logrus.Logger
}

func NewFunctionRegistry(metrics *Metrics, logger *logrus.Logger) *FunctionRegistry {
	return &FunctionRegistry{
		handlers: make(map[string]FunctionHandler),
		metrics:  metrics,
		logger:   logger,
	}
}

// Register 注册函数，同名覆盖
func (r *FunctionRegistry) Register(h FunctionHandler) {
	name := h.Definition().Name
	if _, exists := r.handlers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.handlers[name] = h
}

// Len 已注册函数数量
func (r *FunctionRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.handlers)
}

// Definitions 按注册顺序返回函数声明
func (r *FunctionRegistry) Definitions() []models.FunctionDefinition {
	if r == nil {
		return nil
	}
	defs := make([]models.FunctionDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.handlers[name].Definition())
	}
	return defs
}

// Execute 执行函数，返回 JSON 字符串形式的结果
func (r *FunctionRegistry) Execute(ctx context.Context, name, arguments string) (string, error) {
	h, ok := r.handlers[name]
	if !ok {
		r.metrics.IncFunctionCall(name, "not_found")
		return "", fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
	}

	if arguments == "" {
		arguments = "{}"
	}
	if !gjson.Valid(arguments) {
		r.metrics.IncFunctionCall(name, "bad_arguments")
		return "", fmt.Errorf("invalid arguments for %s", name)
	}

	start := time.Now()
	out, err := h.Execute(ctx, arguments)
	if err != nil {
		r.metrics.IncFunctionCall(name, "error")
		return "", err
	}

	data, err := json.Marshal(out)
	if err != nil {
		r.metrics.IncFunctionCall(name, "error")
		return "", fmt.Errorf("failed to encode %s result: %w", name, err)
	}

	r.metrics.IncFunctionCall(name, "success")
	r.logger.Infof("🔧 Function %s executed in %dms", name, time.Since(start).Milliseconds())
	return string(data), nil
}

// ImageGenerationFunction generate_image
type ImageGenerationFunction struct {
	images *ImageService
	model  string
}

func NewImageGenerationFunction(images *ImageService, model string) *ImageGenerationFunction {
	return &ImageGenerationFunction{images: images, model: model}
}

func (f *ImageGenerationFunction) Definition() models.FunctionDefinition {
	return models.FunctionDefinition{
		Name:        "generate_image",
		Description: "Generate an image from a text description",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"prompt": map[string]interface{}{"type": "string", "description": "Detailed description of the image"},
				"size":   map[string]interface{}{"type": "string", "enum": []string{"1024x1024", "1792x1024", "1024x1792"}},
			},
			"required": []string{"prompt"},
		},
	}
}

func (f *ImageGenerationFunction) Execute(ctx context.Context, arguments string) (interface{}, error) {
	prompt := gjson.Get(arguments, "prompt").String()
	if prompt == "" {
		return nil, errors.New("prompt is required")
	}

	req := models.ImageGenerationRequest{
		Model:  f.model,
		Prompt: prompt,
		Size:   gjson.Get(arguments, "size").String(),
	}
	resp, err := f.images.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no image returned")
	}
	return map[string]string{
		"url":            resp.Data[0].URL,
		"revised_prompt": resp.Data[0].RevisedPrompt,
	}, nil
}

// ImageEditFunction edit_image
type ImageEditFunction struct {
	images *ImageService
	model  string
}

func NewImageEditFunction(images *ImageService, model string) *ImageEditFunction {
	return &ImageEditFunction{images: images, model: model}
}

func (f *ImageEditFunction) Definition() models.FunctionDefinition {
	return models.FunctionDefinition{
		Name:        "edit_image",
		Description: "Edit an existing image according to an instruction",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"image_url": map[string]interface{}{"type": "string", "description": "URL of the image to edit"},
				"prompt":    map[string]interface{}{"type": "string", "description": "What to change"},
			},
			"required": []string{"image_url", "prompt"},
		},
	}
}

func (f *ImageEditFunction) Execute(ctx context.Context, arguments string) (interface{}, error) {
	imageURL := gjson.Get(arguments, "image_url").String()
	prompt := gjson.Get(arguments, "prompt").String()
	if imageURL == "" || prompt == "" {
		return nil, errors.New("image_url and prompt are required")
	}

	resp, err := f.images.Edit(ctx, f.model, imageURL, prompt)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no image returned")
	}
	return map[string]string{"url": resp.Data[0].URL}, nil
}

// SearchResult 单条搜索结果
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearchFunction web_search
type WebSearchFunction struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

func NewWebSearchFunction(client *http.Client, endpoint, apiKey string) *WebSearchFunction {
	return &WebSearchFunction{client: client, endpoint: endpoint, apiKey: apiKey}
}

func (f *WebSearchFunction) Definition() models.FunctionDefinition {
	return models.FunctionDefinition{
		Name:        "web_search",
		Description: "Search the web for up-to-date information",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query":       map[string]interface{}{"type": "string"},
				"max_results": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 10},
			},
			"required": []string{"query"},
		},
	}
}

func (f *WebSearchFunction) Execute(ctx context.Context, arguments string) (interface{}, error) {
	query := strings.TrimSpace(gjson.Get(arguments, "query").String())
	if query == "" {
		return nil, errors.New("query is required")
	}
	limit := int(gjson.Get(arguments, "max_results").Int())
	if limit <= 0 || limit > 10 {
		limit = 5
	}

	u, err := url.Parse(f.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: f.endpoint, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: readErrorBody(resp)}
	}
	body, err := readAllLimited(resp, 1<<20)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{"results": parseSearchResults(body, limit)}, nil
}

// parseSearchResults 兼容常见搜索 API 的返回结构
func parseSearchResults(body []byte, limit int) []SearchResult {
	var items gjson.Result
	for _, path := range []string{"results", "web.results", "items", "organic_results", "organic"} {
		if r := gjson.GetBytes(body, path); r.IsArray() {
			items = r
			break
		}
	}

	results := make([]SearchResult, 0, limit)
	items.ForEach(func(_, item gjson.Result) bool {
		results = append(results, SearchResult{
			Title:   item.Get("title").String(),
			URL:     firstString(item, "url", "link"),
			Snippet: firstString(item, "snippet", "description", "content"),
		})
		return len(results) < limit
	})
	return results
}

func firstString(item gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := item.Get(p).String(); v != "" {
			return v
		}
	}
	return ""
}
