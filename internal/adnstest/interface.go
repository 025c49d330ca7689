package adnstest

import (
	"context"
	"time"

	"github.com/AdguardTeam/golibs/service"
	"github.com/amberdns/amberdns/internal/adns"
	"github.com/amberdns/amberdns/internal/errcoll"
	"github.com/amberdns/amberdns/internal/filter"
	"github.com/amberdns/amberdns/internal/remotekv"
)

// Interface Mocks
//
// Keep entities within a module/package in alphabetic order.

// Package errcoll

// type check
var _ errcoll.Interface = (*ErrorCollector)(nil)

// ErrorCollector is an [errcoll.Interface] for tests.
type ErrorCollector struct {
	OnCollect func(ctx context.Context, err error)
}

// Collect implements the [errcoll.Interface] interface for *ErrorCollector.
func (c *ErrorCollector) Collect(ctx context.Context, err error) {
	c.OnCollect(ctx, err)
}

// Package filter

// type check
var _ filter.Store = (*FilterStore)(nil)

// FilterStore is a [filter.Store] for tests.
type FilterStore struct {
	OnAdlists         func(ctx context.Context) (lists []*adns.Adlist, err error)
	OnDomainRules     func(ctx context.Context) (rules []*adns.DomainRule, err error)
	OnSetAdlistStatus func(
		ctx context.Context,
		id adns.AdlistID,
		updatedAt time.Time,
		entryCount int,
	) (err error)
}

// Adlists implements the [filter.Store] interface for *FilterStore.
func (s *FilterStore) Adlists(ctx context.Context) (lists []*adns.Adlist, err error) {
	return s.OnAdlists(ctx)
}

// DomainRules implements the [filter.Store] interface for *FilterStore.
func (s *FilterStore) DomainRules(ctx context.Context) (rules []*adns.DomainRule, err error) {
	return s.OnDomainRules(ctx)
}

// SetAdlistStatus implements the [filter.Store] interface for *FilterStore.
func (s *FilterStore) SetAdlistStatus(
	ctx context.Context,
	id adns.AdlistID,
	updatedAt time.Time,
	entryCount int,
) (err error) {
	return s.OnSetAdlistStatus(ctx, id, updatedAt, entryCount)
}

// Package remotekv

// type check
var _ remotekv.Interface = (*RemoteKV)(nil)

// RemoteKV is a [remotekv.Interface] for tests.
type RemoteKV struct {
	OnGet func(ctx context.Context, key string) (val []byte, ok bool, err error)
	OnSet func(ctx context.Context, key string, val []byte) (err error)
}

// Get implements the [remotekv.Interface] interface for *RemoteKV.
func (kv *RemoteKV) Get(ctx context.Context, key string) (val []byte, ok bool, err error) {
	return kv.OnGet(ctx, key)
}

// Set implements the [remotekv.Interface] interface for *RemoteKV.
func (kv *RemoteKV) Set(ctx context.Context, key string, val []byte) (err error) {
	return kv.OnSet(ctx, key, val)
}

// Package service

// type check
var _ service.Refresher = (*Refresher)(nil)

// Refresher is a [service.Refresher] for tests.
type Refresher struct {
	OnRefresh func(ctx context.Context) (err error)
}

// Refresh implements the [service.Refresher] interface for *Refresher.
func (r *Refresher) Refresh(ctx context.Context) (err error) {
	return r.OnRefresh(ctx)
}
