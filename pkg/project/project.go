// Package project resolves the CSC projects a user belongs to. Membership
// is authoritative in the CSC LDAP directory and cached per user for an
// hour.
package project

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"golang.org/x/sync/singleflight"

	"github.com/CSCfi/sd-submit/pkg/config"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/storage"
)

// membershipTTL is how long one user's project list is served from memory.
const membershipTTL = time.Hour

// Service resolves project memberships for a user.
type Service interface {
	GetProjects(ctx context.Context, userID string) ([]storage.Project, error)
}

// baseDN is the subtree holding CSC project entries.
const baseDN = "ou=idm,dc=csc,dc=fi"

// LDAPService looks memberships up from the CSC LDAP directory.
type LDAPService struct {
	cfg config.LDAPConfig
}

// NewLDAP creates the directory-backed service.
func NewLDAP(cfg config.LDAPConfig) *LDAPService {
	return &LDAPService{cfg: cfg}
}

// GetProjects searches the directory for projects listing the user as a
// member.
func (s *LDAPService) GetProjects(ctx context.Context, userID string) ([]storage.Project, error) {
	if s.cfg.Host == "" {
		return nil, apperrors.NewConfigError("LDAP is not configured", nil)
	}

	conn, err := ldap.DialURL(s.cfg.Host)
	if err != nil {
		return nil, apperrors.NewUpstreamServerError("connecting to LDAP", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetTimeout(time.Until(deadline))
	}
	if err := conn.Bind(s.cfg.User, s.cfg.Password); err != nil {
		return nil, apperrors.NewUpstreamServerError("binding to LDAP", err)
	}

	filter := fmt.Sprintf("(&(objectClass=CSCProject)(memberUid=%s))",
		ldap.EscapeFilter(userID))
	request := ldap.NewSearchRequest(
		baseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter, []string{"cn"}, nil,
	)

	result, err := conn.Search(request)
	if err != nil {
		return nil, apperrors.NewUpstreamServerError("searching LDAP", err)
	}

	projects := make([]storage.Project, 0, len(result.Entries))
	for _, entry := range result.Entries {
		name := entry.GetAttributeValue("cn")
		if name == "" {
			continue
		}
		projects = append(projects, storage.Project{
			ProjectID: strings.TrimPrefix(name, "project_"),
		})
	}
	return projects, nil
}

// CachedService wraps a Service with a per-user TTL cache. Concurrent
// misses for the same user collapse into one directory search.
type CachedService struct {
	inner Service

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	projects []storage.Project
	fetched  time.Time
}

// NewCached wraps inner with the membership cache.
func NewCached(inner Service) *CachedService {
	return &CachedService{inner: inner, cache: make(map[string]cacheEntry)}
}

// GetProjects serves the user's memberships from cache when fresh.
func (s *CachedService) GetProjects(ctx context.Context, userID string) ([]storage.Project, error) {
	s.mu.Lock()
	if entry, ok := s.cache[userID]; ok && time.Since(entry.fetched) < membershipTTL {
		s.mu.Unlock()
		return entry.projects, nil
	}
	s.mu.Unlock()

	result, err, _ := s.group.Do(userID, func() (any, error) {
		projects, err := s.inner.GetProjects(ctx, userID)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.cache[userID] = cacheEntry{projects: projects, fetched: time.Now()}
		s.mu.Unlock()
		return projects, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]storage.Project), nil
}
