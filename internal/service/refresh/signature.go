package refresh

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/mrz1836/balancewatch/internal/config"
)

// Signature hashes the provider fields that change what a balance reading
// means. Cosmetic changes such as the name leave it unchanged.
func Signature(p config.ProviderConfig) string {
	payload := struct {
		Type    string                `json:"type"`
		BaseURL string                `json:"baseUrl"`
		Auth    config.AuthConfig     `json:"auth"`
		Balance *config.BalanceConfig `json:"balanceProvider"`
	}{
		Type:    p.Type,
		BaseURL: p.BaseURL,
		Auth:    p.Auth,
		Balance: p.Balance,
	}

	// Map keys in Options marshal sorted, so the encoding is stable.
	data, _ := json.Marshal(payload) //nolint:errchkjson // plain strings and maps cannot fail
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
