package roles

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/rendis/orgimpact/internal/normalize"
	"github.com/rendis/orgimpact/pkg/schema"
)

var (
	codePattern   = regexp.MustCompile(`^\d{2}-\d{4}\.\d{2}$`)
	prefixPattern = regexp.MustCompile(`^\d{2}-\d{4}$`)
)

// Source looks roles up by code, code prefix or normalized title.
// A miss is reported as (nil, nil) or a NOT_FOUND error.
type Source interface {
	RoleByCode(ctx context.Context, code string) (*schema.Role, error)
	RolesByCodePrefix(ctx context.Context, prefix string) ([]*schema.Role, error)
	RoleByNormalizedTitle(ctx context.Context, title string) (*schema.Role, error)
}

// Resolver maps role identifiers onto roles from a Source.
type Resolver struct {
	src    Source
	logger *slog.Logger
}

// NewResolver creates a resolver over src.
func NewResolver(src Source, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{src: src, logger: logger}
}

// Resolve looks identifier up as a full code, then as a code prefix, then as a
// normalized title, and finally as a code after canonicalizing dashes and
// whitespace. Lookup failures are logged and reported as a miss.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (*schema.Role, bool) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return nil, false
	}

	switch {
	case codePattern.MatchString(id):
		return r.byCode(ctx, id)
	case prefixPattern.MatchString(id):
		return r.byPrefix(ctx, id)
	}

	key := normalize.Title(id)
	if role, ok := r.byTitle(ctx, key); ok {
		return role, true
	}
	if lower := strings.ToLower(id); lower != key {
		if role, ok := r.byTitle(ctx, lower); ok {
			return role, true
		}
	}

	canon := canonicalCode(id)
	switch {
	case codePattern.MatchString(canon):
		return r.byCode(ctx, canon)
	case prefixPattern.MatchString(canon):
		return r.byPrefix(ctx, canon)
	}
	return nil, false
}

func (r *Resolver) byCode(ctx context.Context, code string) (*schema.Role, bool) {
	role, err := r.src.RoleByCode(ctx, code)
	if r.failed(err, "code", code) || role == nil {
		return nil, false
	}
	return role, true
}

func (r *Resolver) byPrefix(ctx context.Context, prefix string) (*schema.Role, bool) {
	matches, err := r.src.RolesByCodePrefix(ctx, prefix)
	if r.failed(err, "prefix", prefix) || len(matches) == 0 {
		return nil, false
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return strings.ToLower(matches[i].Title) < strings.ToLower(matches[j].Title)
	})
	return matches[0], true
}

func (r *Resolver) byTitle(ctx context.Context, title string) (*schema.Role, bool) {
	if title == "" {
		return nil, false
	}
	role, err := r.src.RoleByNormalizedTitle(ctx, title)
	if r.failed(err, "title", title) || role == nil {
		return nil, false
	}
	return role, true
}

func (r *Resolver) failed(err error, by, key string) bool {
	if err == nil {
		return false
	}
	if schema.ErrorCode(err) != schema.ErrCodeNotFound {
		r.logger.Warn("role lookup failed", "by", by, "key", key, "error", err)
	}
	return true
}

// canonicalCode rewrites unicode dashes to '-' and drops whitespace.
func canonicalCode(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
		case unicode.Is(unicode.Pd, r):
			b.WriteByte('-')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
