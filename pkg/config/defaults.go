// Package config defines default configuration, risk parameters, and
// condition-key classification tables.
package config

// RiskConfig defines how findings are scored. The tables here are a starting
// policy, not a fixed ruleset; both are overridable from the config file.
type RiskConfig struct {
	// SeverityByCategory maps a risk category to its base severity hint.
	SeverityByCategory map[string]string `mapstructure:"severity_by_category"`
	// RestrictiveConditionKeys are condition keys known to narrow a
	// statement's scope materially. A statement guarded only by these keys
	// has its findings downgraded one severity level, never suppressed.
	RestrictiveConditionKeys []string `mapstructure:"restrictive_condition_keys"`
	// RestrictiveConditionKeyPrefixes match key families like aws:ResourceTag/<key>.
	RestrictiveConditionKeyPrefixes []string `mapstructure:"restrictive_condition_key_prefixes"`
}

// ScanConfig defines settings for a scan run.
type ScanConfig struct {
	// CatalogPath overrides the embedded action dataset when set.
	CatalogPath string `mapstructure:"catalog_path"`
	// ExclusionsPath points to the YAML exclusions file.
	ExclusionsPath string `mapstructure:"exclusions_path"`
	// RulesPath points to the YAML custom-rules file.
	RulesPath string `mapstructure:"rules_path"`
	// MaxConcurrency bounds parallel policy evaluation.
	MaxConcurrency int        `mapstructure:"max_concurrency"`
	Risk           RiskConfig `mapstructure:"risk"`
}

// Defaults.
const (
	DefaultRegion = "us-east-1"
)

// DefaultRiskConfig returns the baseline scoring tables.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		SeverityByCategory: map[string]string{
			"privilege-escalation":        "critical",
			"credentials-exposure":        "high",
			"data-exfiltration":           "high",
			"resource-exposure":           "high",
			"infrastructure-modification": "medium",
		},
		RestrictiveConditionKeys: []string{
			"aws:SourceIp",
			"aws:SourceVpc",
			"aws:SourceVpce",
			"aws:PrincipalOrgID",
			"aws:PrincipalArn",
			"aws:SourceArn",
			"aws:MultiFactorAuthPresent",
			"kms:ViaService",
		},
		RestrictiveConditionKeyPrefixes: []string{
			"aws:ResourceTag/",
			"aws:PrincipalTag/",
			"aws:RequestTag/",
		},
	}
}

// OrDefaults fills unset tables from DefaultRiskConfig, so a config file can
// override one table without restating the others. An explicitly empty list
// stays empty.
func (r RiskConfig) OrDefaults() RiskConfig {
	d := DefaultRiskConfig()
	if r.SeverityByCategory == nil {
		r.SeverityByCategory = d.SeverityByCategory
	}
	if r.RestrictiveConditionKeys == nil {
		r.RestrictiveConditionKeys = d.RestrictiveConditionKeys
	}
	if r.RestrictiveConditionKeyPrefixes == nil {
		r.RestrictiveConditionKeyPrefixes = d.RestrictiveConditionKeyPrefixes
	}
	return r
}

// DefaultScanConfig returns a configuration with sensible default values.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		MaxConcurrency: 8,
		Risk:           DefaultRiskConfig(),
	}
}
