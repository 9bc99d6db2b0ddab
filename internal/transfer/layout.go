package transfer

import (
	"fmt"
	"path"
	"path/filepath"
	"time"
)

// TimestampLayout is the compact timestamp embedded in scratch and remote
// names.
const TimestampLayout = "20060102150405"

// Layout builds request-scoped remote paths under BaseDir.
type Layout struct {
	BaseDir string
}

// RequestDir returns {base}/{institutionId}_{requestId}_{timestamp}.
func (l Layout) RequestDir(institutionID, requestID string, ts time.Time) string {
	return path.Join("/", l.BaseDir, fmt.Sprintf("%s_%s_%s", institutionID, requestID, ts.Format(TimestampLayout)))
}

// RawPath is the remote path of the raw artifact retrieved from the bank.
func (l Layout) RawPath(institutionID, requestID string, ts time.Time, localPath string) string {
	name := fmt.Sprintf("%s_API_%s%s", requestID, ts.Format(TimestampLayout), filepath.Ext(localPath))
	return path.Join(l.RequestDir(institutionID, requestID, ts), name)
}

// UploadPath is the remote path of the normalized upload artifact.
func (l Layout) UploadPath(institutionID, requestID string, ts time.Time, localPath string) string {
	name := fmt.Sprintf("%s_%s%s", requestID, ts.Format(TimestampLayout), filepath.Ext(localPath))
	return path.Join(l.RequestDir(institutionID, requestID, ts), name)
}
