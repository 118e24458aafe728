package media

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
)

// sign implements the store's request signature: sha1 over the sorted
// "key=value" pairs joined by "&", followed by the API secret.
func sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for key, value := range params {
		if value == "" {
			continue
		}
		switch key {
		case "file", "api_key", "resource_type", "signature":
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+params[key])
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "&") + secret))
	return hex.EncodeToString(sum[:])
}
