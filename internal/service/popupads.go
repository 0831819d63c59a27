package service

import (
	"context"
	"sort"

	"github.com/and161185/toursync/internal/collection"
	"github.com/and161185/toursync/internal/model"
	"github.com/and161185/toursync/internal/status"
	"github.com/and161185/toursync/internal/store"
)

// PopupAdSchema describes records under popupAds.
var PopupAdSchema = collection.Schema{
	Path:          model.PathPopupAds,
	Required:      []string{"title"},
	DefaultStatus: model.AdInactive,
	Transitions:   status.PopupAds,
}

// PopupAds manages promotional popups.
type PopupAds struct {
	records[model.PopupAd]
}

// NewPopupAds binds the popupAds collection to st.
func NewPopupAds(st store.Store, opts ...collection.Option) *PopupAds {
	return &PopupAds{records[model.PopupAd]{c: collection.New[model.PopupAd](st, PopupAdSchema, opts...)}}
}

// Active returns live ads, highest priority first.
func (p *PopupAds) Active(ctx context.Context) []model.PopupAd {
	out := p.ByStatus(ctx, model.AdActive)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// SetActive switches an ad on or off.
func (p *PopupAds) SetActive(ctx context.Context, id string, active bool) bool {
	s := model.AdInactive
	if active {
		s = model.AdActive
	}
	return p.setStatus(ctx, id, s, nil)
}
