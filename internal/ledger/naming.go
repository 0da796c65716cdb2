package ledger

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cjeanneret/AzEl/internal/config"
)

// Naming describes the log file family: <Base><Ext> is index 0 and
// <Base>_<N><Ext> is index N.
type Naming struct {
	Dir  string
	Base string
	Ext  string
}

// NamingFrom returns the naming configured for the position log.
func NamingFrom(cfg *config.Config) Naming {
	return Naming{Dir: cfg.Log.Dir, Base: cfg.Log.Base, Ext: ".txt"}
}

// Name returns the file name of index.
func (n Naming) Name(index int) string {
	if index <= 0 {
		return n.Base + n.Ext
	}
	return n.Base + "_" + strconv.Itoa(index) + n.Ext
}

// Path returns the full path of index.
func (n Naming) Path(index int) string {
	return filepath.Join(n.Dir, n.Name(index))
}

// Index parses a file name of the family. "<Base>_0<Ext>" is accepted as
// index 0.
func (n Naming) Index(name string) (int, bool) {
	if name == n.Base+n.Ext {
		return 0, true
	}
	rest, ok := strings.CutPrefix(name, n.Base+"_")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, n.Ext)
	if !ok || rest == "" {
		return 0, false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	idx, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return idx, true
}
