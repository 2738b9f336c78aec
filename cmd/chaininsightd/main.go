package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Shreshtthh/ChainInsight/internal/api"
	"github.com/Shreshtthh/ChainInsight/internal/config"
	"github.com/Shreshtthh/ChainInsight/internal/defi"
	"github.com/Shreshtthh/ChainInsight/internal/defi/defillama"
	"github.com/Shreshtthh/ChainInsight/internal/intent"
	"github.com/Shreshtthh/ChainInsight/internal/knowledge"
	"github.com/Shreshtthh/ChainInsight/internal/llm"
	"github.com/Shreshtthh/ChainInsight/internal/llm/openai"
	"github.com/Shreshtthh/ChainInsight/internal/observability/metrics"
	"github.com/Shreshtthh/ChainInsight/internal/orchestrator"
	"github.com/Shreshtthh/ChainInsight/internal/outbox"
	"github.com/Shreshtthh/ChainInsight/internal/session"
	"github.com/Shreshtthh/ChainInsight/internal/stage"
	"github.com/Shreshtthh/ChainInsight/internal/web3"
	"github.com/Shreshtthh/ChainInsight/internal/web3/ethereum"
	"github.com/Shreshtthh/ChainInsight/pkg/logger"
)

// main 是 ChainInsight 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("chaininsightd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("CHAININSIGHT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "chaininsight.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	// 合约注册表决定交易构建的目标地址与默认协议。
	registry, err := web3.LoadContractRegistry(cfg.Web3.ContractsPath)
	if err != nil {
		return err
	}

	// 初始化大模型客户端。失败时保持 nil，交易类查询会收到 NOT_READY，
	// 研究类查询则由知识库兜底。
	llmClient, llmErr := createLLMClient(cfg)
	if llmErr != nil {
		logger.L().Warn("大模型客户端初始化失败，推理后端降级", "error", llmErr)
	}

	// 会话存储。
	sessionStore, err := createSessionStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = sessionStore.Close()
	}()

	// 审批批次的执行通道。
	publisher, err := createPublisher(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = publisher.Close()
	}()

	// 知识库，既服务研究阶段也服务回退路径。
	knowledgeProvider, err := createKnowledgeProvider(cfg)
	if err != nil {
		return err
	}

	// 行情数据源。
	var market defi.Provider = defillama.NewClient(defillama.Config{
		APIBase:    cfg.Market.APIBase,
		YieldsBase: cfg.Market.YieldsBase,
		Timeout:    cfg.Market.Timeout(),
	})

	// 只读链上客户端，仅用于模拟阶段的 gas 估算。
	var chainClient web3.Client
	if strings.TrimSpace(cfg.Web3.RPCURL) != "" {
		client, err := ethereum.Dial(ctx, ethereum.Config{RPCURL: cfg.Web3.RPCURL})
		if err != nil {
			logger.L().Warn("链上客户端初始化失败，跳过 gas 估算", "error", err)
		} else {
			chainClient = client
			defer client.Close()
		}
	}

	var researchStage, strategyStage stage.Stage
	if llmClient != nil {
		researchStage = stage.NewResearch(llmClient, market, knowledgeProvider, stage.ResearchConfig{
			Chain: cfg.Market.Chain,
			Limit: cfg.Market.Limit,
		})
		strategyStage = stage.NewStrategy(llmClient)
	}

	classifier := intent.NewKeywordClassifier(knownProtocols(registry))

	orch := orchestrator.New(
		classifier,
		researchStage,
		strategyStage,
		web3.NewBuilder(registry),
		registry,
		sessionStore,
		publisher,
		orchestrator.Config{StageTimeout: cfg.Pipeline.StageTimeout()},
		orchestrator.WithSimulation(stage.NewSimulation(chainClient, cfg.Web3.FromAddress)),
		orchestrator.WithKnowledgeProvider(knowledgeProvider),
	)

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, orch)

	logger.L().Info("chaininsightd 启动",
		"address", cfg.Server.Address,
		"session_driver", cfg.Session.Driver,
		"outbox_driver", cfg.Outbox.Driver,
		"ready", orch.Ready(),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" && cfg.LLM.OpenAI.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.LLM.OpenAI.APIKeyEnv))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func createSessionStore(cfg *config.Config) (session.Store, error) {
	switch cfg.Session.Driver {
	case "", "memory":
		return session.NewMemoryStore(), nil
	case "mysql":
		return session.NewMySQLStore(cfg.Session.DSN)
	case "redis":
		return session.NewRedisStore(session.RedisStoreConfig{
			Address:  cfg.Session.Redis.Address,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
			TTL:      cfg.Session.Redis.TTL(),
		})
	default:
		return nil, fmt.Errorf("未知的会话存储驱动: %s", cfg.Session.Driver)
	}
}

func createPublisher(cfg *config.Config) (outbox.Publisher, error) {
	switch cfg.Outbox.Driver {
	case "", "memory":
		return outbox.NewMemoryPublisher(cfg.Outbox.Buffer), nil
	case "redis":
		return outbox.NewRedisPublisher(outbox.RedisConfig{
			Address:  cfg.Outbox.Redis.Address,
			Password: cfg.Outbox.Redis.Password,
			DB:       cfg.Outbox.Redis.DB,
			Queue:    cfg.Outbox.Redis.Queue,
		})
	case "rabbitmq":
		return outbox.NewRabbitMQPublisher(outbox.RabbitMQConfig{
			URL:        cfg.Outbox.RabbitMQ.URL,
			Queue:      cfg.Outbox.RabbitMQ.Queue,
			Durable:    cfg.Outbox.RabbitMQ.Durable,
			AutoDelete: cfg.Outbox.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的执行通道驱动: %s", cfg.Outbox.Driver)
	}
}

func createKnowledgeProvider(cfg *config.Config) (knowledge.Provider, error) {
	if cfg.Knowledge.Source == "" {
		return knowledge.Default(), nil
	}
	return knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
}

// knownProtocols 把注册表中的默认协议并入分类器的协议词表。
func knownProtocols(registry web3.ContractRegistry) []string {
	protocols := []string{"Morpho", "Aave", "Compound", "Moonwell"}
	for _, known := range protocols {
		if strings.EqualFold(known, registry.DefaultProtocol) {
			return protocols
		}
	}
	if registry.DefaultProtocol != "" {
		protocols = append(protocols, registry.DefaultProtocol)
	}
	return protocols
}
