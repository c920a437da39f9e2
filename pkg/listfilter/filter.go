package listfilter

import (
	"context"
	"errors"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/observability"
	"github.com/platinummonkey/assetvault/pkg/storage"
	"github.com/platinummonkey/assetvault/pkg/visibility"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ListOptions narrows a listing beyond visibility
type ListOptions struct {
	UploadType *assets.UploadType
	Status     *assets.Status
	CompanyID  *string
	Limit      int
	Offset     int
}

// Page is one page of visible assets
type Page struct {
	Assets     []*assets.Asset `json:"assets"`
	Limit      int             `json:"limit"`
	Offset     int             `json:"offset"`
	NextOffset int             `json:"next_offset"`
	HasMore    bool            `json:"has_more"`
}

// Filter lists assets a user can see. The storage predicate narrows the
// candidate set and a row-level pass through the evaluator confirms each row.
type Filter struct {
	evaluator *visibility.Evaluator
	store     storage.AssetReader
	metrics   *observability.Metrics
}

// NewFilter creates a list filter. metrics may be nil.
func NewFilter(evaluator *visibility.Evaluator, store storage.AssetReader, metrics *observability.Metrics) *Filter {
	return &Filter{
		evaluator: evaluator,
		store:     store,
		metrics:   metrics,
	}
}

// Includes reports whether a single asset belongs in user's listing.
// Assets with an unrecognised visibility mode are excluded rather than failing.
func (f *Filter) Includes(ctx context.Context, user *assets.User, asset *assets.Asset) (bool, error) {
	ok, err := f.evaluator.CanSee(ctx, user, asset)
	if errors.Is(err, visibility.ErrUnknownVisibility) {
		observability.FromContext(ctx).
			WithAsset(asset).
			WithError(err).
			Warn("excluding asset with unknown visibility from listing")
		return false, nil
	}
	return ok, err
}

// Apply filters an in-memory collection, preserving order
func (f *Filter) Apply(ctx context.Context, user *assets.User, candidates []*assets.Asset) ([]*assets.Asset, error) {
	out := make([]*assets.Asset, 0, len(candidates))
	for _, a := range candidates {
		ok, err := f.Includes(ctx, user, a)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// List returns one page of assets visible to user, newest first. Every row is
// evaluated once: rows the store already passed through RowFilter are not
// checked again. Rows dropped by the row pass do not shorten the page; more rows
// are read until the page is full or the store runs out. NextOffset is the
// store offset to continue from.
func (f *Filter) List(ctx context.Context, user *assets.User, opts ListOptions) (*Page, error) {
	if user == nil {
		return nil, assets.Validationf("user is required")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	confirmed := make(map[*assets.Asset]bool)
	query := storage.ListQuery{
		Where: Predicate(user),
		RowFilter: func(ctx context.Context, a *assets.Asset) (bool, error) {
			ok, err := f.Includes(ctx, user, a)
			if ok {
				confirmed[a] = true
			}
			return ok, err
		},
		UploadType: opts.UploadType,
		Status:     opts.Status,
		CompanyID:  opts.CompanyID,
	}

	page := &Page{Limit: limit, Offset: offset, NextOffset: offset}
	visible := make([]*assets.Asset, 0, limit+1)
	cursor, dropped := offset, 0

	// one row past the page tells whether another page exists
	for len(visible) <= limit {
		query.Limit = limit + 1 - len(visible)
		query.Offset = cursor
		rows, err := f.store.ListAssets(ctx, query)
		if err != nil {
			return nil, err
		}

		for _, a := range rows {
			cursor++
			ok := confirmed[a]
			if !ok {
				if ok, err = f.Includes(ctx, user, a); err != nil {
					return nil, err
				}
			}
			if !ok {
				dropped++
				continue
			}
			visible = append(visible, a)
			if len(visible) <= limit {
				page.NextOffset = cursor
			}
		}
		if len(rows) < query.Limit {
			break
		}
	}

	f.metrics.RecordRowsDropped(dropped)
	if len(visible) > limit {
		page.HasMore = true
		visible = visible[:limit]
	}
	if !page.HasMore {
		page.NextOffset = cursor
	}
	page.Assets = visible
	return page, nil
}
