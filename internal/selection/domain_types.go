package selection

import (
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Domain types used for diversity bucketing. Classification never feeds the
// composite score directly; it only caps how many selected citations may share
// a bucket.
const (
	TypeGovernment = "government"
	TypeAcademic   = "academic"
	TypeNonprofit  = "nonprofit"
	TypeCommunity  = "community"
	TypeNews       = "news"
	TypeCommercial = "commercial"
	TypeOther      = "other"
)

// DomainTypeConfig holds the known-domain lists for diversity classification.
type DomainTypeConfig struct {
	CommunityDomains []string `yaml:"community_domains"`
	NewsDomains      []string `yaml:"news_domains"`
}

var (
	domainTypeConfig     *DomainTypeConfig
	domainTypeConfigOnce sync.Once
)

// GetDomainTypeConfigPath returns the config path, checking env var first.
func GetDomainTypeConfigPath() string {
	if envPath := os.Getenv("CITEPIPE_DOMAIN_TYPES_CONFIG"); envPath != "" {
		return envPath
	}
	return "/app/config/domain_types.yaml"
}

// LoadDomainTypeConfig loads the known-domain lists, falling back to built-in
// defaults when the file is unavailable.
func LoadDomainTypeConfig() *DomainTypeConfig {
	domainTypeConfigOnce.Do(func() {
		data, err := os.ReadFile(GetDomainTypeConfigPath())
		if err != nil {
			domainTypeConfig = defaultDomainTypeConfig()
			return
		}
		var cfg DomainTypeConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			domainTypeConfig = defaultDomainTypeConfig()
			return
		}
		if len(cfg.CommunityDomains) == 0 {
			cfg.CommunityDomains = defaultDomainTypeConfig().CommunityDomains
		}
		if len(cfg.NewsDomains) == 0 {
			cfg.NewsDomains = defaultDomainTypeConfig().NewsDomains
		}
		domainTypeConfig = &cfg
	})
	return domainTypeConfig
}

// ResetDomainTypeConfigForTest resets the singleton; test code only.
func ResetDomainTypeConfigForTest() {
	domainTypeConfigOnce = sync.Once{}
	domainTypeConfig = nil
}

func defaultDomainTypeConfig() *DomainTypeConfig {
	return &DomainTypeConfig{
		CommunityDomains: []string{"reddit", "stackoverflow", "quora", "github"},
		NewsDomains:      []string{"reuters", "bloomberg", "cnn", "bbc", "techcrunch", "wired", "verge"},
	}
}

// DomainType classifies a domain into a diversity bucket.
func DomainType(domain string) string {
	domain = strings.ToLower(domain)
	cfg := LoadDomainTypeConfig()

	switch {
	case strings.HasSuffix(domain, ".gov") || strings.HasSuffix(domain, ".int"):
		return TypeGovernment
	case strings.HasSuffix(domain, ".edu"):
		return TypeAcademic
	case strings.HasSuffix(domain, ".org"):
		return TypeNonprofit
	case containsAny(domain, cfg.CommunityDomains):
		return TypeCommunity
	case containsAny(domain, cfg.NewsDomains):
		return TypeNews
	case strings.HasSuffix(domain, ".com") || strings.HasSuffix(domain, ".io"):
		return TypeCommercial
	default:
		return TypeOther
	}
}

func containsAny(domain string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(domain, n) {
			return true
		}
	}
	return false
}
