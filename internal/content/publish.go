package content

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// publish performs the rename-over publish described in spec §4.4 step
// 7: if next.<kind> already exists, first rename it to last_good.<kind>
// (replacing any prior last_good), then rename the freshly mixed file
// to next.<kind>. Both renames are within the breaks directory, so each
// is atomic on the target filesystem; no reader ever observes a partial
// file.
func (g *Generator) publish(kind, mixedPath string) (string, error) {
	dir := g.paths.BreaksDir
	nextPath := filepath.Join(dir, "next."+kind)
	lastGoodPath := filepath.Join(dir, "last_good."+kind)

	if _, err := os.Stat(nextPath); err == nil {
		if err := os.Rename(nextPath, lastGoodPath); err != nil {
			return "", fmt.Errorf("content: demote prior next.%s to last_good: %w", kind, err)
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("content: stat next.%s: %w", kind, err)
	}

	if err := copyIntoDir(mixedPath, dir); err != nil {
		return "", fmt.Errorf("content: stage mixed file: %w", err)
	}
	staged := filepath.Join(dir, filepath.Base(mixedPath))

	if err := os.Rename(staged, nextPath); err != nil {
		return "", fmt.Errorf("content: publish next.%s: %w", kind, err)
	}
	return nextPath, nil
}

// copyIntoDir copies src into dir under its own basename so the
// subsequent rename is same-filesystem (the mix command may have
// written its output under a different temp mount than the breaks
// directory).
func copyIntoDir(src, dir string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "staged-*"+filepath.Ext(src))
	if err != nil {
		return err
	}
	defer func() {
		if _, statErr := os.Stat(tmp.Name()); statErr == nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	dst := filepath.Join(dir, filepath.Base(src))
	return os.Rename(tmp.Name(), dst)
}
