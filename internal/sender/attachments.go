package sender

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/busybox42/postbox/internal/mail"
)

// DiskSource resolves attachments from the local filesystem. An attachment's
// Disk names a subdirectory under the configured root; paths must stay
// inside it.
type DiskSource struct {
	root string
}

// NewDiskSource creates a source rooted at dir. An empty root resolves
// absolute paths as-is.
func NewDiskSource(root string) *DiskSource {
	return &DiskSource{root: root}
}

// Resolve loads the attachment content. A missing file is a send-time
// failure: the attempt is consumed and the error recorded.
func (d *DiskSource) Resolve(att mail.Attachment) ([]byte, error) {
	path := att.Path
	if d.root != "" {
		path = filepath.Join(d.root, att.Disk, att.Path)

		absRoot, err := filepath.Abs(d.root)
		if err != nil {
			return nil, err
		}
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
			return nil, fmt.Errorf("attachment path %q escapes attachment root", att.Path)
		}
		path = absPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading attachment: %w", err)
	}
	return content, nil
}
