package apiserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/apiary/apiary/internal/apierrors"
	"github.com/apiary/apiary/internal/auth"
	"github.com/apiary/apiary/internal/config"
	"github.com/apiary/apiary/internal/service"
)

// DynamicRouter turns endpoint declarations into live routes bound to
// registered services. Declarations are resolved once at load time; the
// synthesized handlers do parameter extraction, optional authentication,
// service invocation and guaranteed cleanup per request.
type DynamicRouter struct {
	router        chi.Router
	registry      *service.Registry
	authenticator *auth.Authenticator
	client        *http.Client
	log           logrus.FieldLogger

	registered []string
}

func NewDynamicRouter(router chi.Router, registry *service.Registry, authenticator *auth.Authenticator, client *http.Client, log logrus.FieldLogger) *DynamicRouter {
	return &DynamicRouter{
		router:        router,
		registry:      registry,
		authenticator: authenticator,
		client:        client,
		log:           log,
	}
}

// Registered returns the "<METHOD> <path>" ids of live dynamic routes.
func (d *DynamicRouter) Registered() []string {
	return d.registered
}

// LoadAndRegister registers every enabled declaration. One bad endpoint
// must not prevent the others from serving: registration failures are
// logged and the remaining declarations still mount. Duplicate detection
// already happened at document load.
func (d *DynamicRouter) LoadAndRegister(doc *config.EndpointsDocument) {
	for i := range doc.Endpoints {
		if err := d.RegisterEndpoint(&doc.Endpoints[i]); err != nil {
			d.log.Warnf("Skipping endpoint %s: %v", doc.Endpoints[i].Path, err)
		}
	}
}

// RegisterEndpoint synthesizes and mounts the handler for one declaration.
func (d *DynamicRouter) RegisterEndpoint(decl *config.EndpointDeclaration) error {
	if !decl.IsEnabled() {
		d.log.Debugf("Skipping disabled endpoint: %s", decl.Path)
		return nil
	}

	factory, ok := d.registry.Get(decl.Service)
	if !ok {
		return fmt.Errorf("%w: %q", apierrors.ErrUnknownService, decl.Service)
	}

	handler := d.serviceHandler(decl, factory)
	if decl.RequiresAuth {
		authenticator := d.authenticator
		if decl.ApiKeys != "" {
			authenticator = authenticator.WithOverride(decl.ApiKeys)
			d.log.Infof("Endpoint %s using endpoint-specific API keys", decl.Path)
		}
		handler = requireAuth(authenticator, handler, d.log)
	}

	method := decl.NormalizedMethod()
	d.router.Method(method, decl.Path, handler)
	id := method + " " + decl.Path
	d.registered = append(d.registered, id)
	d.log.Infof("Registered configurable endpoint: %s -> %s", id, decl.Service)
	return nil
}

// requireAuth runs the credential check before parameter extraction; a
// failure short-circuits with 401 and the service is never invoked.
func requireAuth(authenticator *auth.Authenticator, next http.Handler, log logrus.FieldLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := authenticator.Required(r); err != nil {
			apierrors.WriteError(w, r, log, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (d *DynamicRouter) serviceHandler(decl *config.EndpointDeclaration, factory service.Factory) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params := extractParameters(r, decl)

		svc := factory(d.client)
		result, err := func() (map[string]any, error) {
			defer func() {
				if cleanupErr := svc.Cleanup(); cleanupErr != nil {
					d.log.Errorf("Service %q cleanup failed: %v", decl.Service, cleanupErr)
				}
			}()
			return svc.Call(r.Context(), params)
		}()
		if err != nil {
			// Service-level errors pass through unreinterpreted.
			apierrors.WriteError(w, r, d.log, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			d.log.Errorf("Failed to encode response for %s: %v", decl.Path, err)
		}
	})
}

// extractParameters resolves the declaration's parameter map, or falls
// back to the whole query string as a flat bag when no map is declared.
// Map entries are either {source, key} specs or literal constants passed
// through verbatim.
func extractParameters(r *http.Request, decl *config.EndpointDeclaration) map[string]any {
	params := map[string]any{}

	if len(decl.Parameters) == 0 {
		for name, values := range r.URL.Query() {
			if len(values) > 0 {
				params[name] = values[0]
			}
		}
		return params
	}

	for name, raw := range decl.Parameters {
		spec, isSpec := config.ParameterSpecOf(raw)
		if !isSpec {
			params[name] = raw
			continue
		}
		key := spec.Key
		if key == "" {
			key = name
		}
		switch spec.Source {
		case "path":
			params[name] = chi.URLParam(r, key)
		default:
			params[name] = r.URL.Query().Get(key)
		}
	}
	return params
}
