package replay

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/Sternrassler/costaverde-offline/pkg/queue"
	"github.com/Sternrassler/costaverde-offline/pkg/worker"
)

// Background sync tags.
const (
	TagBookings  = "sync-bookings"
	TagFavorites = "sync-favorites"
)

// Family is a resource family replayed under one sync tag.
type Family struct {
	Tag        string
	Kind       queue.Kind
	PathPrefix string
	Methods    []string
}

// DefaultFamilies returns the bookings and favorites families.
func DefaultFamilies() []Family {
	return []Family{
		{
			Tag:        TagBookings,
			Kind:       queue.KindBooking,
			PathPrefix: queue.BookingsPath,
			Methods:    []string{http.MethodPost},
		},
		{
			Tag:        TagFavorites,
			Kind:       queue.KindFavorite,
			PathPrefix: queue.FavoritesPath,
			Methods:    []string{http.MethodPost, http.MethodDelete},
		},
	}
}

// Matches reports whether a write of method to path belongs to the
// family. Paths match on segment boundaries, so "/api/bookingsummary"
// is not part of "/api/bookings".
func (f Family) Matches(method, path string) bool {
	if !slices.Contains(f.Methods, strings.ToUpper(method)) {
		return false
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return worker.HasPathPrefix(path, f.PathPrefix)
}

// Scheduler delivers replay triggers: the online transition and explicit
// background-sync signals per tag.
type Scheduler interface {
	OnReconnect(fn func(ctx context.Context))
	OnExplicitTrigger(tag string, fn func(ctx context.Context))
}
