package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DesktopChannel drops a small notification file into a watched directory
// for a local desktop-notification agent (out of scope here) to pick up.
type DesktopChannel struct {
	dropDir string
}

// NewDesktopChannel builds a DesktopChannel writing into dropDir.
func NewDesktopChannel(dropDir string) *DesktopChannel {
	return &DesktopChannel{dropDir: dropDir}
}

func (d *DesktopChannel) Name() string { return "desktop" }

func (d *DesktopChannel) Deliver(ctx context.Context, runType, digestDate, htmlBody string) error {
	if err := os.MkdirAll(d.dropDir, 0o755); err != nil {
		return fmt.Errorf("notify: create drop dir: %w", err)
	}
	path := filepath.Join(d.dropDir, fmt.Sprintf("%s-%s.notify", runType, digestDate))
	body := fmt.Sprintf("%s promo digest for %s is ready.\n", runType, digestDate)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("notify: write drop file: %w", err)
	}
	return nil
}
