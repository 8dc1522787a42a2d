package models

import "time"

// Tier identifies a model tier for task execution.
type Tier string

const (
	// TierNone is the zero value for tasks no tier has answered yet.
	TierNone Tier = "none"
	// TierRouter is the lightweight, always-available model. Every task is
	// classified by it first.
	TierRouter Tier = "router"
	// TierSpecialist is the heavier, higher-capability model invoked only
	// on escalation.
	TierSpecialist Tier = "specialist"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierNone, TierRouter, TierSpecialist:
		return true
	default:
		return false
	}
}

// ProviderKind identifies how a model tier is reached.
type ProviderKind string

const (
	// ProviderLocal is a local inference server (Ollama HTTP API).
	ProviderLocal ProviderKind = "local"
	// ProviderRemoteAPI is a cloud-hosted model API requiring credentials.
	ProviderRemoteAPI ProviderKind = "remote_api"
)

// Valid returns true if the provider kind is a known value.
func (k ProviderKind) Valid() bool {
	return k == ProviderLocal || k == ProviderRemoteAPI
}

// ProviderConfig holds the resolved invocation parameters for one model
// tier. It is immutable once resolved for an orchestrator run; changing
// configuration requires an explicit reload.
type ProviderConfig struct {
	// Kind selects the invocation path.
	Kind ProviderKind `mapstructure:"kind"`
	// ModelID is the model identifier understood by the provider.
	ModelID string `mapstructure:"model_id"`
	// Endpoint is the resolved network address. Defaulted per kind.
	Endpoint string `mapstructure:"endpoint"`
	// CredentialRef names the vault entry holding the provider credential.
	// Resolved at call time for remote_api providers, never cached.
	CredentialRef string `mapstructure:"credential_ref"`
	// Timeout bounds a single invocation of this tier.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries bounds transient-failure retries per invocation.
	MaxRetries int `mapstructure:"max_retries"`
	// MaxTokens caps the response size requested from the provider.
	MaxTokens int `mapstructure:"max_tokens"`
	// UseBedrock routes remote_api calls through AWS Bedrock instead of
	// the direct API.
	UseBedrock bool `mapstructure:"use_bedrock"`
	// AWSRegion is the Bedrock region, when UseBedrock is set.
	AWSRegion string `mapstructure:"aws_region"`
}
