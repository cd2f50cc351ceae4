package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/kilnworks/kiln/cache"
	"github.com/kilnworks/kiln/models"
	"github.com/kilnworks/kiln/stores"
	"github.com/kilnworks/kiln/utils"
)

// CollectionHandler serves the read-side listing view. Responses may come
// from the short-TTL cache; the mint path never reads from here.
type CollectionHandler struct {
	collections *stores.CollectionStore
	cache       *cache.RedisCache
}

func CreateCollectionHandler(collections *stores.CollectionStore, redisCache *cache.RedisCache) *CollectionHandler {
	return &CollectionHandler{
		collections: collections,
		cache:       redisCache,
	}
}

func (h *CollectionHandler) HandleGetCollection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, utils.ErrInvalidRequest, "")
		return
	}

	cacheKey := "collection:view:" + id
	if h.cache != nil {
		var cached models.CollectionView
		if hit, err := h.cache.GetJSON(r.Context(), cacheKey, &cached); err == nil && hit {
			writeJSON(w, http.StatusOK, &cached)
			return
		}
	}

	collection, err := h.collections.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err, "")
		return
	}

	view := &models.CollectionView{
		ID:          collection.ID,
		Name:        collection.Name,
		Creator:     collection.Creator,
		Price:       collection.Price,
		TotalSupply: collection.TotalSupply,
		MintedCount: collection.MintedCount,
	}
	if phase, err := h.collections.ActivePhase(r.Context(), id, time.Now()); err == nil {
		view.ActivePhase = phase
	}

	if h.cache != nil {
		// Best effort; a cache miss is never an error here.
		_ = h.cache.SetJSON(r.Context(), cacheKey, view)
	}
	writeJSON(w, http.StatusOK, view)
}
