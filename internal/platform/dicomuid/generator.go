// Package dicomuid mints DICOM UIDs under an organization root.
//
// A UID is a dot separated list of numeric components, each either "0" or a
// digit string without a leading zero, at most 64 characters in total.
package dicomuid

import (
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ehr/radiology/internal/platform/apperr"
)

// MaxLength is the DICOM upper bound for a UI value.
const MaxLength = 64

var uidPattern = regexp.MustCompile(`^(0|[1-9][0-9]*)(\.(0|[1-9][0-9]*))*$`)

// Valid reports whether uid satisfies the DICOM UID grammar and length.
func Valid(uid string) bool {
	return len(uid) <= MaxLength && uidPattern.MatchString(uid)
}

// OrgRootSource supplies the organization root. It is consulted on every
// call so that a corrected value takes effect without a restart.
type OrgRootSource interface {
	DicomUIDOrgRoot() string
}

// StaticOrgRoot is an OrgRootSource that never changes.
type StaticOrgRoot string

func (s StaticOrgRoot) DicomUIDOrgRoot() string { return string(s) }

// Generator mints fresh UIDs. It is safe for concurrent use.
type Generator struct {
	src     OrgRootSource
	counter atomic.Uint64
	now     func() time.Time
}

// NewGenerator creates a generator reading its root from src.
func NewGenerator(src OrgRootSource) *Generator {
	return &Generator{src: src, now: time.Now}
}

// NewUID returns root + "." + suffix, where suffix is
// <unix millis>.<process counter>.<random uint32>.
func (g *Generator) NewUID() (string, error) {
	var root string
	if g.src != nil {
		root = strings.TrimSpace(g.src.DicomUIDOrgRoot())
	}
	if root == "" {
		return "", apperr.Configuration("dicom uid org root is not configured")
	}
	if !uidPattern.MatchString(root) {
		return "", apperr.Configuration("dicom uid org root " + strconv.Quote(root) + " is not a valid DICOM UID")
	}

	suffix := g.suffix()
	if len(root) > MaxLength-(len(suffix)+1) {
		return "", apperr.Configuration("dicom uid org root " + strconv.Quote(root) + " is too long to append a suffix")
	}
	return root + "." + suffix, nil
}

func (g *Generator) suffix() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(g.now().UnixMilli(), 10))
	b.WriteByte('.')
	b.WriteString(strconv.FormatUint(g.counter.Add(1), 10))
	b.WriteByte('.')
	b.WriteString(strconv.FormatUint(uint64(rand.Uint32()), 10))
	return b.String()
}
