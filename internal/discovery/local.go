package discovery

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pingcap/errors"

	"github.com/whacked/patflow/internal/pattern"
)

// LocalLister lists files below Root. Relative patterns are resolved
// against Root and results are reported relative to it, with forward
// slashes, so they can be fed back into task patterns.
type LocalLister struct {
	Root string
}

// List walks the deepest directory that the literal prefix of p pins down
// and returns the files matching p. Directories below the depth of p are
// not entered.
func (l LocalLister) List(ctx context.Context, p string) ([]string, error) {
	abs := path.IsAbs(p)
	lead := ""
	if strings.HasPrefix(p, "./") {
		lead = "./"
	}
	base := l.Root
	switch {
	case abs:
		base = "/"
	case base == "":
		base = "."
	}
	walkRoot := filepath.Join(base, filepath.FromSlash(path.Dir(staticPrefix(p)+"x")))
	maxDepth := depth(pattern.Normalize(p))

	var candidates []string
	err := filepath.WalkDir(walkRoot, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && file == walkRoot {
				return filepath.SkipDir
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, err := filepath.Rel(base, file)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		switch {
		case abs:
			rel = "/" + rel
		case lead != "":
			rel = lead + rel
		}
		if d.IsDir() {
			if file != walkRoot && depth(rel) >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		candidates = append(candidates, rel)
		return nil
	})
	if err != nil {
		return nil, errors.Annotatef(err, "list %s", p)
	}
	return matching(candidates, p), nil
}
