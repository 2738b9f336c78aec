package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// Action 表示用户希望执行的链上动作。
type Action string

const (
	ActionNone     Action = ""
	ActionDeposit  Action = "deposit"
	ActionWithdraw Action = "withdraw"
)

// Kind 表示一次查询被归类后的流水线形态。
type Kind string

const (
	// KindResearchOnly 仅执行研究阶段，不产生交易，也不需要审批。
	KindResearchOnly Kind = "research_only"
	// KindDirectBuild 跳过研究阶段，直接生成策略与交易参数。
	KindDirectBuild Kind = "direct_build"
	// KindResearchBuild 完整流水线：研究、策略、交易参数与审批。
	KindResearchBuild Kind = "research_build"
)

// Result 是分类器对一条用户查询的归一化结论。
type Result struct {
	Kind       Kind
	Action     Action
	Amount     string
	Protocol   string
	Strategy   string
	PositionID *int64
}

// RequiresApproval 判断该分类结果是否需要用户审批。
func (r Result) RequiresApproval() bool {
	return r.Kind == KindDirectBuild || r.Kind == KindResearchBuild
}

// NeedsResearch 判断该分类结果是否包含研究阶段。
func (r Result) NeedsResearch() bool {
	return r.Kind == KindResearchOnly || r.Kind == KindResearchBuild
}

// Classifier 将原始查询文本归类为流水线形态，可替换为模型实现。
type Classifier interface {
	Classify(query string) Result
}

var (
	depositVerbs  = []string{"deposit", "invest", "stake"}
	withdrawVerbs = []string{"withdraw"}
	researchVerbs = []string{"research", "compare", "analyze", "analyse", "find", "best", "top", "safest"}

	positionPattern = regexp.MustCompile(`(?i)position\s*#?\s*(\d+)|#(\d+)`)
	amountPattern   = regexp.MustCompile(`\d+(?:\.\d+)?`)
	strategyKinds   = []string{"lending", "staking", "liquidity"}
)

// KeywordClassifier 基于关键词与正则实现确定性的意图分类。
type KeywordClassifier struct {
	protocols []string
}

// NewKeywordClassifier 创建关键词分类器。protocols 为可识别的协议展示名。
func NewKeywordClassifier(protocols []string) *KeywordClassifier {
	if len(protocols) == 0 {
		protocols = []string{"Morpho", "Aave", "Compound", "Moonwell", "Seamless", "Spark"}
	}
	return &KeywordClassifier{protocols: protocols}
}

// Classify 按照固定优先级归类查询：
//  1. 动作 + 数额 + 研究意图 -> 完整流水线；
//  2. 动作 + 数额 -> 直接构建；
//  3. 其余情况 -> 仅研究。
//
// 动作存在但缺少数额时按仅研究处理，绝不静默猜测数额。
func (c *KeywordClassifier) Classify(query string) Result {
	lowered := strings.ToLower(query)

	result := Result{
		Kind:     KindResearchOnly,
		Action:   detectAction(lowered),
		Protocol: c.detectProtocol(lowered),
		Strategy: detectStrategy(lowered),
	}

	// 提仓位编号时要先于数额剥离，避免把编号误判为金额。
	remainder := lowered
	if match := positionPattern.FindStringSubmatchIndex(lowered); match != nil {
		raw := positionPattern.FindStringSubmatch(lowered)
		digits := raw[1]
		if digits == "" {
			digits = raw[2]
		}
		if id, err := strconv.ParseInt(digits, 10, 64); err == nil {
			result.PositionID = &id
		}
		remainder = lowered[:match[0]] + lowered[match[1]:]
	}
	result.Amount = amountPattern.FindString(remainder)

	hasResearch := containsAny(lowered, researchVerbs)
	switch result.Action {
	case ActionDeposit:
		if result.Amount == "" {
			// 数额缺失时不允许进入交易构建。
			result.Kind = KindResearchOnly
		} else if hasResearch {
			result.Kind = KindResearchBuild
		} else {
			result.Kind = KindDirectBuild
		}
	case ActionWithdraw:
		if result.PositionID == nil {
			result.Kind = KindResearchOnly
		} else if hasResearch {
			result.Kind = KindResearchBuild
		} else {
			result.Kind = KindDirectBuild
		}
	default:
		result.Kind = KindResearchOnly
	}
	return result
}

func (c *KeywordClassifier) detectProtocol(lowered string) string {
	for _, name := range c.protocols {
		if strings.Contains(lowered, strings.ToLower(name)) {
			return name
		}
	}
	return ""
}

func detectAction(lowered string) Action {
	if containsAny(lowered, withdrawVerbs) {
		return ActionWithdraw
	}
	if containsAny(lowered, depositVerbs) {
		return ActionDeposit
	}
	return ActionNone
}

func detectStrategy(lowered string) string {
	for _, kind := range strategyKinds {
		if strings.Contains(lowered, kind) {
			return strings.ToUpper(kind[:1]) + kind[1:]
		}
	}
	return "Lending"
}

func containsAny(text string, words []string) bool {
	for _, word := range words {
		if strings.Contains(text, word) {
			return true
		}
	}
	return false
}

var _ Classifier = (*KeywordClassifier)(nil)
