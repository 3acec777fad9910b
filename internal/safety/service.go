// Package safety fronts the personal-safety backend features: SOS
// alerts, trusted contacts, safe places, location reporting, and
// emergency media. Read endpoints that matter offline (contacts,
// profile) fall back to a locally cached copy when the backend is
// unreachable.
package safety

import (
	"context"
	"time"

	"github.com/sahasi-app/sahasi/internal/api"
	"github.com/sahasi-app/sahasi/internal/auth"
	"github.com/sahasi-app/sahasi/internal/bus"
	"github.com/sahasi-app/sahasi/internal/metrics"
	"github.com/sahasi-app/sahasi/internal/store"
	"go.uber.org/zap"
)

const keyContactsCache = "trusted_contacts_cache"

// Backend is the slice of the API client the service needs.
type Backend interface {
	SendSOS(ctx context.Context, message string) api.Result
	TrustedContacts(ctx context.Context) api.Result
	CreateTrustedContact(ctx context.Context, contact api.TrustedContact) api.Result
	UpdateTrustedContact(ctx context.Context, id int64, contact api.TrustedContact) api.Result
	DeleteTrustedContact(ctx context.Context, id int64) api.Result
	SafePlaces(ctx context.Context, lat, lng float64) api.Result
	CurrentLocation(ctx context.Context) api.Result
	UpdateLocation(ctx context.Context, lat, lng float64) api.Result
	EmergencyMedia(ctx context.Context) api.Result
	Me(ctx context.Context) api.Result
	UpdateProfile(ctx context.Context, payload any) api.Result
}

// Service coordinates safety features against the backend.
type Service struct {
	backend Backend
	db      *store.DB
	auth    *auth.Manager
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService creates a safety service.
func NewService(backend Backend, db *store.DB, am *auth.Manager, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{backend: backend, db: db, auth: am, bus: b, metrics: m, logger: logger}
}

// SendSOS raises an alert. The outcome is published on the bus so the
// control API's event stream can surface it.
func (s *Service) SendSOS(ctx context.Context, message string) api.Result {
	res := s.backend.SendSOS(ctx, message)
	if res.OK {
		if s.metrics != nil {
			s.metrics.SOSAlerts.Inc()
		}
		s.publish("sos.sent", message)
		s.logger.Info("sos alert sent")
	} else {
		s.publish("sos.failed", res.Detail())
		s.logger.Error("sos alert failed", zap.String("detail", res.Detail()))
	}
	return res
}

// TrustedContacts lists the trusted contacts. A successful fetch
// refreshes the local cache; a failed one is answered from the cache
// when a copy exists, so the panic path works without connectivity.
func (s *Service) TrustedContacts(ctx context.Context) api.Result {
	res := s.backend.TrustedContacts(ctx)
	if res.OK {
		if err := s.db.SetCredential(keyContactsCache, string(res.Data)); err != nil {
			s.logger.Warn("cache trusted contacts", zap.Error(err))
		}
		return res
	}
	cached, err := s.db.Credential(keyContactsCache)
	if err != nil || cached == "" {
		return res
	}
	s.logger.Warn("serving trusted contacts from cache", zap.String("detail", res.Detail()))
	return api.Result{OK: true, Status: res.Status, Data: []byte(cached)}
}

// CreateTrustedContact adds a contact and drops the stale cache.
func (s *Service) CreateTrustedContact(ctx context.Context, contact api.TrustedContact) api.Result {
	res := s.backend.CreateTrustedContact(ctx, contact)
	if res.OK {
		s.dropContactsCache()
	}
	return res
}

// UpdateTrustedContact replaces a contact and drops the stale cache.
func (s *Service) UpdateTrustedContact(ctx context.Context, id int64, contact api.TrustedContact) api.Result {
	res := s.backend.UpdateTrustedContact(ctx, id, contact)
	if res.OK {
		s.dropContactsCache()
	}
	return res
}

// DeleteTrustedContact removes a contact and drops the stale cache.
func (s *Service) DeleteTrustedContact(ctx context.Context, id int64) api.Result {
	res := s.backend.DeleteTrustedContact(ctx, id)
	if res.OK {
		s.dropContactsCache()
	}
	return res
}

// SafePlaces returns merged nearby safe places for the coordinates.
func (s *Service) SafePlaces(ctx context.Context, lat, lng float64) api.Result {
	return s.backend.SafePlaces(ctx, lat, lng)
}

// CurrentLocation returns the last reported location.
func (s *Service) CurrentLocation(ctx context.Context) api.Result {
	return s.backend.CurrentLocation(ctx)
}

// UpdateLocation reports the device location.
func (s *Service) UpdateLocation(ctx context.Context, lat, lng float64) api.Result {
	return s.backend.UpdateLocation(ctx, lat, lng)
}

// EmergencyMedia lists recorded emergency media.
func (s *Service) EmergencyMedia(ctx context.Context) api.Result {
	return s.backend.EmergencyMedia(ctx)
}

// Profile fetches the signed-in profile, refreshing the offline cache
// on success and serving the cached copy when the fetch fails.
func (s *Service) Profile(ctx context.Context) api.Result {
	res := s.backend.Me(ctx)
	if res.OK {
		if err := s.auth.CacheProfile(res.Data); err != nil {
			s.logger.Warn("cache profile", zap.Error(err))
		}
		return res
	}
	cached := s.auth.CachedProfile()
	if cached == nil {
		return res
	}
	s.logger.Warn("serving profile from cache", zap.String("detail", res.Detail()))
	return api.Result{OK: true, Status: res.Status, Data: cached}
}

// UpdateProfile replaces profile fields and refreshes the cache.
func (s *Service) UpdateProfile(ctx context.Context, payload any) api.Result {
	res := s.backend.UpdateProfile(ctx, payload)
	if res.OK && len(res.Data) > 0 {
		if err := s.auth.CacheProfile(res.Data); err != nil {
			s.logger.Warn("cache profile", zap.Error(err))
		}
	}
	return res
}

func (s *Service) dropContactsCache() {
	if err := s.db.DeleteCredential(keyContactsCache); err != nil {
		s.logger.Warn("drop contacts cache", zap.Error(err))
	}
}

func (s *Service) publish(kind, detail string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   map[string]string{"detail": detail},
	})
}
