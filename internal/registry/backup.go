package registry

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const backupStamp = "20060102_150405"

// Backup copies each existing source file into dir as <name>_<stamp><ext> and prunes older copies
// beyond keep per source. keep <= 0 disables pruning.
func Backup(dir string, at time.Time, keep int, sources ...string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	written := make([]string, 0, len(sources))
	for _, src := range sources {
		if src == "" {
			continue
		}
		base := filepath.Base(src)
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		dst := filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, at.UTC().Format(backupStamp), ext))

		ok, err := copyFile(src, dst)
		if err != nil {
			return written, err
		}
		if !ok {
			continue
		}
		written = append(written, dst)

		if keep > 0 {
			if err := prune(dir, stem, ext, keep); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func copyFile(src, dst string) (bool, error) {
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return false, fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return false, fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", dst, err)
	}
	return true, nil
}

func prune(dir, stem, ext string, keep int) error {
	matches, err := filepath.Glob(filepath.Join(dir, stem+"_*"+ext))
	if err != nil {
		return err
	}
	if len(matches) <= keep {
		return nil
	}
	// Stamps sort lexically in time order.
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-keep] {
		if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", old, err)
		}
	}
	return nil
}
