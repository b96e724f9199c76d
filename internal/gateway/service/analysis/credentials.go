package analysis

import "sort"

// bedrockDefaults is applied to every session. Server-side values for the same
// keys take precedence.
var bedrockDefaults = map[string]string{
	"AWS_REGION":                                   "us-east-1",
	"ANTHROPIC_SMALL_FAST_MODEL_AWS_REGION":        "us-east-1",
	"ANTHROPIC_MODEL":                              "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
	"ANTHROPIC_SMALL_FAST_MODEL":                   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	"ANTHROPIC_BEDROCK_USE_CROSS_REGION_INFERENCE": "true",
	"CLAUDE_CODE_USE_BEDROCK":                      "1",
	"CLAUDE_CODE_MAX_OUTPUT_TOKENS":                "64000",
	"CLAUDE_CODE_SUBAGENT_MODEL":                   "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
}

const (
	anthropicKey = "ANTHROPIC_API_KEY"
	bedrockToken = "AWS_BEARER_TOKEN_BEDROCK"
)

// CredentialKeys lists every server variable that is forwarded into sessions.
func CredentialKeys() []string {
	keys := []string{anthropicKey, bedrockToken}
	for k := range bedrockDefaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BedrockEnv merges server overrides into the Bedrock defaults. The bearer
// token is only included when the server has one.
func BedrockEnv(server map[string]string) map[string]string {
	out := make(map[string]string, len(bedrockDefaults)+1)
	for k, v := range bedrockDefaults {
		out[k] = v
		if sv := server[k]; sv != "" {
			out[k] = sv
		}
	}
	if tok := server[bedrockToken]; tok != "" {
		out[bedrockToken] = tok
	}
	return out
}
