package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RoutingTable 声明式路由表，按 Pro -> Beta -> Direct -> Default 的顺序匹配
type RoutingTable struct {
	Pro          ProTier      `yaml:"pro"`
	Beta         DirectTier   `yaml:"beta"`
	Direct       []DirectTier `yaml:"direct"`
	Default      DefaultTier  `yaml:"default"`
	PublicModels []string     `yaml:"public_models"`
	TitleModel   string       `yaml:"title_model"`
}

// ProTier pro 档位：两个等价 Provider 之间做亲和分流，Pinned 中的模型固定到单一 Provider
type ProTier struct {
	Primary   string            `yaml:"primary"`
	Secondary string            `yaml:"secondary"`
	Models    []string          `yaml:"models"`
	Pinned    map[string]string `yaml:"pinned"`
	// ModelMap provider -> requested -> upstream，未映射的模型原样透传
	ModelMap map[string]map[string]string `yaml:"model_map"`
}

// DirectTier 静态映射档位，Models 为 requested -> upstream，值为空表示原样透传
type DirectTier struct {
	Name     string            `yaml:"name"`
	Provider string            `yaml:"provider"`
	Models   map[string]string `yaml:"models"`
}

// DefaultTier 兜底档位：带前缀透传到通用 Provider
type DefaultTier struct {
	Provider string `yaml:"provider"`
	Prefix   string `yaml:"prefix"`
}

// HasModel 检查 pro 档位是否包含模型
func (t ProTier) HasModel(model string) bool {
	if _, ok := t.Pinned[model]; ok {
		return true
	}
	for _, m := range t.Models {
		if m == model {
			return true
		}
	}
	return false
}

// UpstreamModel 返回 provider 对应的上游模型名
func (t ProTier) UpstreamModel(provider, model string) string {
	if m, ok := t.ModelMap[provider][model]; ok && m != "" {
		return m
	}
	return model
}

// Lookup 查找静态映射，ok=false 表示不在该档位
func (t DirectTier) Lookup(model string) (string, bool) {
	upstream, ok := t.Models[model]
	if !ok {
		return "", false
	}
	if upstream == "" {
		upstream = model
	}
	return upstream, true
}

// IsPublicModel 检查模型是否允许匿名访问
func (t *RoutingTable) IsPublicModel(model string) bool {
	for _, m := range t.PublicModels {
		if m == model {
			return true
		}
	}
	return false
}

// Validate 校验路由表引用的 Provider 均已配置
func (t *RoutingTable) Validate(providers map[string]ProviderConfig) error {
	check := func(tier, name string) error {
		if name == "" {
			return nil
		}
		if _, ok := providers[name]; !ok {
			return fmt.Errorf("tier %s references unknown provider %q", tier, name)
		}
		return nil
	}

	if err := check("pro.primary", t.Pro.Primary); err != nil {
		return err
	}
	if err := check("pro.secondary", t.Pro.Secondary); err != nil {
		return err
	}
	for model, p := range t.Pro.Pinned {
		if err := check("pro.pinned."+model, p); err != nil {
			return err
		}
	}
	if err := check("beta", t.Beta.Provider); err != nil {
		return err
	}
	for _, d := range t.Direct {
		if err := check(d.Name, d.Provider); err != nil {
			return err
		}
	}
	if t.Default.Provider == "" {
		return fmt.Errorf("default tier has no provider")
	}
	return check("default", t.Default.Provider)
}

// LoadRoutingTable 读取 YAML 路由表，path 为空时返回内置默认表
func LoadRoutingTable(path string) (*RoutingTable, error) {
	if path == "" {
		return DefaultRoutingTable(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing table: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse routing table %s: %w", path, err)
	}

	// 合并规则：文件中出现的键整体替换默认值 (map 也不做合并)，未出现的键保留默认值
	table := DefaultRoutingTable()
	if len(doc.Content) == 0 {
		return table, nil
	}
	root := doc.Content[0]
	clearOverriddenMaps(root, table)
	if err := root.Decode(table); err != nil {
		return nil, fmt.Errorf("failed to parse routing table %s: %w", path, err)
	}
	return table, nil
}

// clearOverriddenMaps yaml.v3 会把文件内容合并进已有的 map，先清空文件中出现的 map 字段
func clearOverriddenMaps(root *yaml.Node, t *RoutingTable) {
	if pro := mappingValue(root, "pro"); pro != nil {
		if mappingValue(pro, "pinned") != nil {
			t.Pro.Pinned = nil
		}
		if mappingValue(pro, "model_map") != nil {
			t.Pro.ModelMap = nil
		}
	}
	if beta := mappingValue(root, "beta"); beta != nil && mappingValue(beta, "models") != nil {
		t.Beta.Models = nil
	}
}

// mappingValue 返回 mapping 节点中 key 对应的值节点
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// DefaultRoutingTable 内置路由表
func DefaultRoutingTable() *RoutingTable {
	return &RoutingTable{
		Pro: ProTier{
			Primary:   ProviderProA,
			Secondary: ProviderProB,
			Models: []string{
				"gpt-4.1",
				"gpt-4o",
				"o3",
				"claude-sonnet-4",
				"gemini-2.5-pro",
			},
			Pinned: map[string]string{
				"claude-opus-4": ProviderProB,
			},
			ModelMap: map[string]map[string]string{
				ProviderProA: {
					"claude-sonnet-4": "claude-sonnet-4-20250514",
					"gemini-2.5-pro":  "gemini-2.5-pro-preview-06-05",
				},
				ProviderProB: {
					"claude-sonnet-4": "anthropic/claude-sonnet-4",
					"claude-opus-4":   "anthropic/claude-opus-4",
					"gemini-2.5-pro":  "google/gemini-2.5-pro",
					"gpt-4.1":         "openai/gpt-4.1",
					"gpt-4o":          "openai/gpt-4o",
					"o3":              "openai/o3",
				},
			},
		},
		Beta: DirectTier{
			Name:     "beta",
			Provider: ProviderBeta,
			Models: map[string]string{
				"grok-4":           "",
				"qwen3-coder":      "qwen/qwen3-coder",
				"kimi-k2":          "moonshotai/kimi-k2",
				"deepseek-r1-0528": "deepseek/deepseek-r1-0528",
			},
		},
		Direct: []DirectTier{
			{
				Name:     "v2",
				Provider: ProviderGeneric,
				Models: map[string]string{
					"o4-mini-high":      "provider-6/o4-mini-high",
					"o3-mini":           "provider-6/o3-mini",
					"gpt-4.1-nano":      "provider-6/gpt-4.1-nano",
					"qwen3-235b-a22b":   "provider-6/qwen3-235b-a22b",
					"llama-4-maverick":  "provider-6/llama-4-maverick",
					"deepseek-v3":       "provider-6/deepseek-v3",
					"gemini-2.5-flash":  "provider-6/gemini-2.5-flash",
					"flux-schnell":      "provider-6/flux-schnell",
					"sonar-pro":         "provider-6/sonar-pro",
					"mistral-small-3.1": "provider-6/mistral-small-3.1-24b",
				},
			},
			{
				Name:     "public",
				Provider: ProviderPublic,
				Models: map[string]string{
					"openai":      "",
					"openai-fast": "",
					"mistral":     "",
					"searchgpt":   "",
				},
			},
		},
		Default: DefaultTier{
			Provider: ProviderGeneric,
			Prefix:   "provider-3/",
		},
		PublicModels: []string{"openai", "openai-fast", "mistral", "searchgpt"},
		TitleModel:   "mistral",
	}
}
