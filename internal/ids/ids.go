// Package ids is the UUID translation layer sitting in front of the
// team_ids and member_ids tables. Every other package resolves names to
// UUIDs (via the Resolve* functions) before touching a table that stores
// team_uuid/member_uuid columns, and translates back to names (via the
// Lookup* functions) before handing data to a caller. The translation is
// meant to be transparent: callers work in names, storage works in UUIDs.
//
// Resolution results are cached in-process since the same few names are
// resolved on every message send and task mutation; registration and
// soft-delete invalidate the whole cache rather than tracking per-key
// dependents, matching the original implementation's coarse invalidation.
package ids

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/delegate-run/delegate/internal/log"
)

// MemberKind distinguishes an autonomous agent identity from a human one.
type MemberKind string

const (
	KindAgent MemberKind = "agent"
	KindHuman MemberKind = "human"
)

// ErrNotFound is returned by Resolve*/Lookup* when no active row matches.
var ErrNotFound = errors.New("ids: not found")

const (
	cacheExpiration = 10 * time.Minute
	cacheCleanup    = 30 * time.Minute
)

// Resolver resolves names to UUIDs and back, backed by the team_ids and
// member_ids tables. It is safe for concurrent use.
type Resolver struct {
	db    Queryer
	cache *gocache.Cache
}

// Queryer is the subset of *sql.DB / *sql.Tx that Resolver needs, so callers
// can resolve within an existing transaction as well as against the pool.
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// NewResolver builds a Resolver over db.
func NewResolver(db Queryer) *Resolver {
	return &Resolver{
		db:    db,
		cache: gocache.New(cacheExpiration, cacheCleanup),
	}
}

func teamCacheKey(name string) string {
	return "team:" + name
}

func memberCacheKey(kind MemberKind, teamUUID *string, name string) string {
	team := "-"
	if teamUUID != nil {
		team = *teamUUID
	}
	return fmt.Sprintf("member:%s:%s:%s", kind, team, name)
}

// ResolveTeam maps a team name to its UUID, considering only active
// (non-deleted) teams.
func (r *Resolver) ResolveTeam(ctx context.Context, name string) (string, error) {
	key := teamCacheKey(name)
	if cached, ok := r.cache.Get(key); ok {
		return cached.(string), nil
	}

	var teamUUID string
	err := r.db.QueryRowContext(ctx,
		"SELECT uuid FROM team_ids WHERE name = ? AND deleted = 0", name,
	).Scan(&teamUUID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: team %q", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("resolving team %q: %w", name, err)
	}

	r.cache.Set(key, teamUUID, cacheExpiration)
	return teamUUID, nil
}

// ResolveMember maps a (kind, team, name) triple to the member's UUID.
// teamUUID is nil for humans, which are global rather than team-scoped.
func (r *Resolver) ResolveMember(ctx context.Context, kind MemberKind, teamUUID *string, name string) (string, error) {
	key := memberCacheKey(kind, teamUUID, name)
	if cached, ok := r.cache.Get(key); ok {
		return cached.(string), nil
	}

	var memberUUID string
	var err error
	if teamUUID == nil {
		err = r.db.QueryRowContext(ctx,
			"SELECT uuid FROM member_ids WHERE kind = ? AND team_uuid IS NULL AND name = ? AND deleted = 0",
			kind, name,
		).Scan(&memberUUID)
	} else {
		err = r.db.QueryRowContext(ctx,
			"SELECT uuid FROM member_ids WHERE kind = ? AND team_uuid = ? AND name = ? AND deleted = 0",
			kind, *teamUUID, name,
		).Scan(&memberUUID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s %q", ErrNotFound, kind, name)
	}
	if err != nil {
		return "", fmt.Errorf("resolving member %q: %w", name, err)
	}

	r.cache.Set(key, memberUUID, cacheExpiration)
	return memberUUID, nil
}

// ResolveMemberFlexible resolves a name that could be either an agent on
// teamUUID or a human, without the caller needing to know which. It tries
// agent first, then falls back to human. This is the common path for
// message sender/recipient and task assignee/DRI fields.
func (r *Resolver) ResolveMemberFlexible(ctx context.Context, teamUUID, name string) (string, error) {
	if agentUUID, err := r.ResolveMember(ctx, KindAgent, &teamUUID, name); err == nil {
		return agentUUID, nil
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	humanUUID, err := r.ResolveMember(ctx, KindHuman, nil, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("%w: agent or human %q (team=%s)", ErrNotFound, name, teamUUID)
		}
		return "", err
	}
	return humanUUID, nil
}

// LookupTeam maps a team UUID back to its name.
func (r *Resolver) LookupTeam(ctx context.Context, teamUUID string) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx, "SELECT name FROM team_ids WHERE uuid = ?", teamUUID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: team uuid %q", ErrNotFound, teamUUID)
	}
	if err != nil {
		return "", fmt.Errorf("looking up team %q: %w", teamUUID, err)
	}
	return name, nil
}

// Member is the result of a reverse member lookup.
type Member struct {
	Kind     MemberKind
	TeamUUID *string
	Name     string
}

// LookupMember maps a member UUID back to (kind, team UUID, name).
func (r *Resolver) LookupMember(ctx context.Context, memberUUID string) (Member, error) {
	var m Member
	var kind string
	var teamUUID sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT kind, team_uuid, name FROM member_ids WHERE uuid = ?", memberUUID,
	).Scan(&kind, &teamUUID, &m.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, fmt.Errorf("%w: member uuid %q", ErrNotFound, memberUUID)
	}
	if err != nil {
		return Member{}, fmt.Errorf("looking up member %q: %w", memberUUID, err)
	}
	m.Kind = MemberKind(kind)
	if teamUUID.Valid {
		m.TeamUUID = &teamUUID.String
	}
	return m, nil
}

// RegisterTeam inserts a new team, generating a UUID unless one is supplied
// (bootstrapping a well-known ID is the only caller that passes one).
func (r *Resolver) RegisterTeam(ctx context.Context, name string, teamUUID string) (string, error) {
	if teamUUID == "" {
		teamUUID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO team_ids (uuid, name, created_at) VALUES (?, ?, ?)",
		teamUUID, name, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("registering team %q: %w", name, err)
	}
	r.cache.Flush()
	log.Debug(log.CatDB, "registered team", "name", name, "uuid", teamUUID)
	return teamUUID, nil
}

// RegisterMember inserts a new agent or human identity.
func (r *Resolver) RegisterMember(ctx context.Context, kind MemberKind, teamUUID *string, name string) (string, error) {
	memberUUID := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO member_ids (uuid, kind, team_uuid, name, created_at) VALUES (?, ?, ?, ?, ?)",
		memberUUID, kind, teamUUID, name, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("registering %s %q: %w", kind, name, err)
	}
	r.cache.Flush()
	log.Debug(log.CatDB, "registered member", "kind", kind, "name", name, "uuid", memberUUID)
	return memberUUID, nil
}

// SoftDeleteTeam marks a team and every member scoped to it as deleted,
// without removing rows (tasks/messages keep referencing the UUID).
func (r *Resolver) SoftDeleteTeam(ctx context.Context, teamUUID string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE team_ids SET deleted = 1 WHERE uuid = ?", teamUUID); err != nil {
		return fmt.Errorf("soft-deleting team %q: %w", teamUUID, err)
	}
	if _, err := r.db.ExecContext(ctx, "UPDATE member_ids SET deleted = 1 WHERE team_uuid = ?", teamUUID); err != nil {
		return fmt.Errorf("soft-deleting members of team %q: %w", teamUUID, err)
	}
	r.cache.Flush()
	return nil
}

// EnsureTeam resolves name, registering it if it doesn't exist yet. Used by
// ingestion paths that see a team name for the first time.
func (r *Resolver) EnsureTeam(ctx context.Context, name string) (string, error) {
	teamUUID, err := r.ResolveTeam(ctx, name)
	if err == nil {
		return teamUUID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	return r.RegisterTeam(ctx, name, "")
}

// EnsureMember resolves a (kind, team, name) triple, registering it if it
// doesn't exist yet.
func (r *Resolver) EnsureMember(ctx context.Context, kind MemberKind, teamUUID *string, name string) (string, error) {
	memberUUID, err := r.ResolveMember(ctx, kind, teamUUID, name)
	if err == nil {
		return memberUUID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	return r.RegisterMember(ctx, kind, teamUUID, name)
}
