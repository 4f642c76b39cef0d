package breaker

// Service ids of the external dependencies guarded by the portal.
const (
	ServiceDatabase     = "database"
	ServiceCache        = "cache"
	ServiceMessageBus   = "message-bus"
	ServiceClever       = "clever"
	ServiceClassLink    = "classlink"
	ServiceGoogleSSO    = "google-sso"
	ServiceMicrosoftSSO = "microsoft-sso"
)

// Service describes one guarded dependency. A critical service being
// unavailable makes the whole portal unhealthy.
type Service struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Critical bool     `json:"critical"`
	Settings Settings `json:"-"`
}

// Catalog is the fixed set of services the registry knows about.
type Catalog struct {
	services []Service
	byID     map[string]Service
}

// NewCatalog builds a catalog, filling zero thresholds from DefaultSettings.
// Later duplicates of an id replace earlier ones.
func NewCatalog(services ...Service) *Catalog {
	c := &Catalog{byID: make(map[string]Service, len(services))}
	for _, svc := range services {
		svc.Settings = svc.Settings.withDefaults()
		if _, dup := c.byID[svc.ID]; dup {
			for i := range c.services {
				if c.services[i].ID == svc.ID {
					c.services[i] = svc
				}
			}
		} else {
			c.services = append(c.services, svc)
		}
		c.byID[svc.ID] = svc
	}
	return c
}

// DefaultCatalog returns the portal's dependencies, all sharing settings.
func DefaultCatalog(settings Settings) *Catalog {
	return NewCatalog(
		Service{ID: ServiceDatabase, Name: "Primary database", Critical: true, Settings: settings},
		Service{ID: ServiceCache, Name: "Redis cache", Settings: settings},
		Service{ID: ServiceMessageBus, Name: "NATS message bus", Settings: settings},
		Service{ID: ServiceClever, Name: "Clever rostering", Settings: settings},
		Service{ID: ServiceClassLink, Name: "ClassLink rostering", Settings: settings},
		Service{ID: ServiceGoogleSSO, Name: "Google SSO", Settings: settings},
		Service{ID: ServiceMicrosoftSSO, Name: "Microsoft SSO", Settings: settings},
	)
}

// Lookup returns the service registered under id.
func (c *Catalog) Lookup(id string) (Service, bool) {
	svc, ok := c.byID[id]
	return svc, ok
}

// Services returns the catalog in registration order.
func (c *Catalog) Services() []Service {
	out := make([]Service, len(c.services))
	copy(out, c.services)
	return out
}
