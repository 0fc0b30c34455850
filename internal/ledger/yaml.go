package ledger

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ledgerFile is the on-disk shape of a doctrine override.
type ledgerFile struct {
	Steps []Step `yaml:"steps"`
}

// LoadFile builds a ledger from a YAML doctrine file, replacing the
// built-in tables wholesale. Validation is identical to New; a bad file
// aborts init rather than degrading at runtime.
func LoadFile(path string) (*Ledger, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: read %s", path)
	}
	var f ledgerFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrapf(err, "ledger: parse %s", path)
	}
	return build(f.Steps)
}
