package service

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/b24gate/internal/gateway/domain"
	"github.com/aussiebroadwan/b24gate/internal/gateway/store"
	"github.com/aussiebroadwan/b24gate/pkg/jwtx"
	"github.com/aussiebroadwan/b24gate/pkg/slogx"
)

// Mode is the path a request was authenticated through.
type Mode string

const (
	ModeBearer  Mode = "bearer"
	ModeInstall Mode = "install"
)

// TokenVerifier checks a session token and returns the account id it
// names. *jwtx.Codec implements it.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Exchanger validates a placement payload with the platform.
// *upstream.Client implements it.
type Exchanger interface {
	Exchange(ctx context.Context, p domain.PlacementPayload) (domain.TenantInfo, error)
}

// ResolveInput is the part of a request the resolver looks at.
type ResolveInput struct {
	// HasBearer is set when the Authorization header uses the Bearer
	// scheme, even if the token after it is empty.
	HasBearer bool
	Bearer    string

	// Fields is the flattened placement payload, by field name.
	Fields map[string]string
}

// Principal is an authenticated caller.
type Principal struct {
	Account domain.Account
	Mode    Mode

	// Set on the install path only.
	Created bool
	Tenant  *domain.TenantInfo
	Payload *domain.PlacementPayload
}

// AuthResolver decides how a request authenticates and produces its
// account. It holds no per-request state.
type AuthResolver struct {
	Tokens   TokenVerifier
	Store    store.Store
	Upstream Exchanger

	// Now overrides time.Now when converting relative expiries.
	Now func() time.Time
}

// Resolve authenticates one request. A request carrying a Bearer header is
// never considered for the install path, even if its token is bad.
func (r *AuthResolver) Resolve(ctx context.Context, in ResolveInput) (Principal, error) {
	if in.HasBearer {
		return r.resolveBearer(ctx, in.Bearer)
	}
	return r.resolveInstall(ctx, in.Fields)
}

func (r *AuthResolver) resolveBearer(ctx context.Context, token string) (Principal, error) {
	id, err := r.Tokens.Verify(token)
	switch {
	case err == nil:
	case errors.Is(err, jwtx.ErrExpired):
		return Principal{}, newError(ErrExpiredToken, MsgExpiredToken, err)
	case errors.Is(err, jwtx.ErrInvalidClaims):
		return Principal{}, newError(ErrInvalidClaims, MsgInvalidToken, err)
	default:
		return Principal{}, newError(ErrMalformedToken, MsgInvalidToken, err)
	}

	acc, err := r.Store.Accounts().GetAccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Principal{}, newError(ErrAccountNotFound, MsgInvalidToken, err)
		}
		return Principal{}, newError(ErrPersistence, MsgInternal, err)
	}

	return Principal{Account: acc, Mode: ModeBearer}, nil
}

func (r *AuthResolver) resolveInstall(ctx context.Context, fields map[string]string) (Principal, error) {
	p, err := domain.ParsePlacement(fields, r.now())
	if err != nil {
		return Principal{}, newError(ErrInvalidPayload, err.Error(), err)
	}

	log := slogx.FromContext(ctx).With("domain", p.Domain, "member_id", p.MemberID)

	info, err := r.Upstream.Exchange(ctx, p)
	if err != nil {
		return Principal{}, upstreamError(err)
	}

	if p.UserID != 0 && p.UserID != info.UserID {
		log.Warn("placement user id disagrees with platform",
			"claimed_user_id", p.UserID,
			"b24_user_id", info.UserID,
		)
	}

	domainURL := p.Domain
	if info.Domain != "" {
		d, err := domain.NormalizeDomain(info.Domain)
		if err != nil {
			log.Warn("platform reported an unusable domain", "reported_domain", info.Domain, "error", err)
		} else {
			domainURL = d
		}
	}

	acc, created, err := r.Store.Accounts().UpsertByNaturalKey(ctx, domain.AccountUpsert{
		DomainURL:          domainURL,
		MemberID:           p.MemberID,
		B24UserID:          info.UserID,
		IsB24UserAdmin:     info.IsAdmin,
		Status:             info.Status,
		ApplicationToken:   optional(p.ApplicationToken),
		ApplicationVersion: info.InstallVersion,
		Credentials:        info.Credentials,
		CurrentScope:       info.Scope,
	})
	if err != nil {
		return Principal{}, newError(ErrPersistence, MsgInternal, err)
	}

	log.Info("account provisioned",
		"account_id", acc.ID,
		"b24_user_id", acc.B24UserID,
		"created", created,
	)

	return Principal{
		Account: acc,
		Mode:    ModeInstall,
		Created: created,
		Tenant:  &info,
		Payload: &p,
	}, nil
}

func (r *AuthResolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
