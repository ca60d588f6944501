package authn

// Origin describes the network origin of a login or validation request
type Origin struct {
	Address string
	Agent   string
}

// Identity is the provider-agnostic result of a completed authentication.
// Roles holds the raw role names from the provider; MapRoles converts them
// to the internal enumeration.
type Identity struct {
	Subject     string
	Email       string
	DisplayName string
	Groups      []string
	Roles       []string
	Attributes  map[string]string

	// Raw provider tokens, stored only in encrypted form by the caller
	AccessToken  string
	RefreshToken string
}

// getStringValue extracts a string claim, returning "" for anything else
func getStringValue(data map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	if v, ok := data[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return ""
}

// getArrayValue extracts a string array claim, dropping non-string entries
func getArrayValue(data map[string]interface{}, key string) []string {
	if key == "" {
		return nil
	}
	v, ok := data[key]
	if !ok {
		return nil
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if str, ok := item.(string); ok {
			out = append(out, str)
		}
	}
	return out
}
