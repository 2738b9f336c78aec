package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Query(topic string) []Snippet
}

// Snippet 描述一段可直接呈现给用户的协议知识。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
}

// StaticProvider 基于内存条目提供关键词检索，作为研究阶段的确定性兜底数据源。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{items: items, maxResults: maxResults}
}

// LoadStaticProvider 从 JSON 文件加载知识条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Default 返回内置的协议知识库，覆盖 Base 链上的主流借贷协议。
// 行情数据源与推理后端全部不可用时，研究阶段会退化为这些条目。
func Default() *StaticProvider {
	return NewStaticProvider([]Snippet{
		{
			Title:    "Morpho",
			Content:  "Morpho 是 Base 链上 TVL 领先的借贷协议，多轮审计，USDC 存款策略风险评分 3/10。",
			Keywords: []string{"morpho", "lend", "usdc", "yield"},
		},
		{
			Title:    "Aave V3",
			Content:  "Aave V3 拥有跨链数百亿美元 TVL，运营超过三年，USDC 借贷属于最低风险的 DeFi 策略之一。",
			Keywords: []string{"aave", "lend", "usdc", "safe"},
		},
		{
			Title:    "Compound",
			Content:  "Compound 是最早的算法借贷市场之一，Base 部署较新但合约经过长期实战检验。",
			Keywords: []string{"compound", "lend"},
		},
		{
			Title:    "Moonwell",
			Content:  "Moonwell 是 Base 原生借贷协议，TVL 规模中等，收益率高于蓝筹协议但风险评分相应上调。",
			Keywords: []string{"moonwell", "yield", "base"},
		},
	}, 4)
}

// Query 根据主题进行关键词匹配，未命中关键词的条目视为通用条目一并返回。
func (p *StaticProvider) Query(topic string) []Snippet {
	if p == nil {
		return nil
	}

	topic = strings.ToLower(strings.TrimSpace(topic))

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, topic) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	// 主题过窄时退回全量条目，保证兜底响应不为空。
	if len(results) == 0 {
		for _, item := range p.items {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

func matches(snippet Snippet, topic string) bool {
	if len(snippet.Keywords) == 0 {
		return true
	}
	if topic == "" {
		return true
	}
	for _, keyword := range snippet.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(topic, normalized) {
			return true
		}
	}
	return false
}

var _ Provider = (*StaticProvider)(nil)
