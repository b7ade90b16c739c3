package secrets

import (
	"os"
	"strings"
)

// PrefixLoader returns a Loader that reads every environment variable
// carrying the given prefix. Keys are stored with the prefix stripped, so
// POOLGATE_CRED_ACME_RW becomes ACME_RW. Empty values are omitted.
func PrefixLoader(prefix string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string)
		for _, kv := range os.Environ() {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || v == "" {
				continue
			}
			if name, found := strings.CutPrefix(k, prefix); found && name != "" {
				vals[name] = v
			}
		}
		return vals, nil
	}
}
