package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ethereum/go-ethereum/common"
)

// ContractRegistry models the structure of configs/contracts.yaml: the
// addresses a built strategy targets and the defaults applied when the user
// query leaves protocol or strategy unspecified.
type ContractRegistry struct {
	Chain           string          `yaml:"chain"`
	Vault           string          `yaml:"vault"`
	FundingAsset    AssetDefinition `yaml:"funding_asset"`
	DefaultProtocol string          `yaml:"default_protocol"`
	DefaultStrategy string          `yaml:"default_strategy"`
}

// AssetDefinition describes the ERC20 asset that funds deposits.
type AssetDefinition struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals int    `yaml:"decimals"`
}

// DefaultRegistry returns the Base Sepolia testnet registry used when no
// contracts file is configured.
func DefaultRegistry() ContractRegistry {
	return ContractRegistry{
		Chain: "Base",
		Vault: "0x8aE125d43E27e8A68D7E0D2BD27eD3a838C0dbc1",
		FundingAsset: AssetDefinition{
			Symbol:   "USDC",
			Address:  "0x5dEaC602762362FE5f135FA5904351916053cF70",
			Decimals: 6,
		},
		DefaultProtocol: "Morpho",
		DefaultStrategy: "Lending",
	}
}

// LoadContractRegistry parses the YAML file containing contract metadata.
// An empty path yields the built-in default registry.
func LoadContractRegistry(path string) (ContractRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRegistry(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ContractRegistry{}, fmt.Errorf("读取合约配置失败: %w", err)
	}

	reg := DefaultRegistry()
	if err := yaml.Unmarshal(content, &reg); err != nil {
		return ContractRegistry{}, fmt.Errorf("解析合约配置失败: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return ContractRegistry{}, err
	}
	return reg, nil
}

// Validate checks that every configured address is a well-formed EVM address.
func (r ContractRegistry) Validate() error {
	if !common.IsHexAddress(r.Vault) {
		return fmt.Errorf("vault 地址非法: %q", r.Vault)
	}
	if !common.IsHexAddress(r.FundingAsset.Address) {
		return fmt.Errorf("funding asset 地址非法: %q", r.FundingAsset.Address)
	}
	if r.FundingAsset.Decimals < 0 || r.FundingAsset.Decimals > 36 {
		return fmt.Errorf("funding asset 精度非法: %d", r.FundingAsset.Decimals)
	}
	return nil
}
