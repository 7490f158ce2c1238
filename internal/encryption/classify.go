package encryption

import "strings"

// sensitiveKeyNames is the maintained table of key names that always
// require encryption regardless of value shape: provider API-key
// settings and chat-history records.
var sensitiveKeyNames = []string{
	"openai_api_key",
	"anthropic_api_key",
	"azure_api_key",
	"google_api_key",
	"openrouter_api_key",
	"cohere_api_key",
	"huggingface_api_key",
	"chat_history",
	"chat_history_",
	"conversation_",
}

// sensitiveValuePrefixes are known API-key prefixes; a value beginning
// with one of these is sensitive no matter what key it's stored under.
var sensitiveValuePrefixes = []string{
	"sk-",
	"sk-or-v1-",
	"sk-ant-",
	"AIzaSy",
}

// ShouldEncrypt reports whether keyName or value classifies the record as
// sensitive. Classification has no failure path: it only matches keyName
// against sensitiveKeyNames and value against sensitiveValuePrefixes.
func ShouldEncrypt(keyName, value string) bool {
	lowerKey := strings.ToLower(keyName)
	for _, pattern := range sensitiveKeyNames {
		if strings.Contains(lowerKey, pattern) {
			return true
		}
	}

	for _, prefix := range sensitiveValuePrefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}

	return false
}
