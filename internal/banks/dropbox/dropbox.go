// Package dropbox implements a bank adapter backed by a shared directory
// into which statements are exported by hand or by an external tool.
//
// Layout: {root}/{bankCode}/{account}/*.{xlsx,xls,csv}. A file whose name
// carries a YYYYMMDD-YYYYMMDD range is a candidate only when that range covers
// the requested period. A file without one is a candidate when it was
// modified on or after the period start. The newest candidate is taken as the
// raw statement for the requested account.
package dropbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/statement-relay/internal/banks"
)

var statementExts = map[string]bool{".xlsx": true, ".xls": true, ".csv": true}

var nameRange = regexp.MustCompile(`(\d{8})[-_~](\d{8})`)

// Adapter serves statements for a single bank code out of a drop directory.
type Adapter struct {
	root     string
	bankCode string
	loc      *time.Location
	now      func() time.Time
}

// New creates an adapter reading from {root}/{bankCode}. Period dates are
// compared with modification times in loc; nil means time.Local.
func New(root, bankCode string, loc *time.Location) *Adapter {
	if loc == nil {
		loc = time.Local
	}
	return &Adapter{root: root, bankCode: bankCode, loc: loc, now: time.Now}
}

// Retrieve copies the newest statement for in.Account covering the requested
// period into in.WorkDir. ErrNoData is returned when no file qualifies.
// The drop-box format carries no upload artifact, so UploadPath is empty.
func (a *Adapter) Retrieve(ctx context.Context, in banks.RetrievalInput) (banks.Artifacts, error) {
	if err := ctx.Err(); err != nil {
		return banks.Artifacts{}, err
	}

	dir := filepath.Join(a.root, a.bankCode, in.Account)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return banks.Artifacts{}, banks.ErrNoData
		}
		return banks.Artifacts{}, fmt.Errorf("dropbox: reading %s: %w", a.bankCode, err)
	}

	var newest os.DirEntry
	var newestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !statementExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !a.covers(e.Name(), info.ModTime(), in.PeriodStart, in.PeriodEnd) {
			continue
		}
		if newest == nil || info.ModTime().After(newestMod) {
			newest, newestMod = e, info.ModTime()
		}
	}
	if newest == nil {
		return banks.Artifacts{}, banks.ErrNoData
	}

	ext := strings.ToLower(filepath.Ext(newest.Name()))
	dst := filepath.Join(in.WorkDir, fmt.Sprintf("%s_Transactions_%s%s", a.bankCode, a.now().Format("20060102150405"), ext))
	if err := copyFile(filepath.Join(dir, newest.Name()), dst); err != nil {
		return banks.Artifacts{}, fmt.Errorf("dropbox: staging statement: %w", err)
	}

	return banks.Artifacts{RawPath: dst}, nil
}

func (a *Adapter) covers(name string, mod time.Time, start, end civil.Date) bool {
	if m := nameRange.FindStringSubmatch(name); m != nil {
		from, err1 := time.Parse("20060102", m[1])
		to, err2 := time.Parse("20060102", m[2])
		if err1 == nil && err2 == nil {
			return !civil.DateOf(from).After(start) && !civil.DateOf(to).Before(end)
		}
	}
	return !civil.DateOf(mod.In(a.loc)).Before(start)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

var _ banks.Adapter = (*Adapter)(nil)
