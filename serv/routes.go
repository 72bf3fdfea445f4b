package serv

import (
	"net/http"
)

const (
	routeCatalog         = "/api/v1/data-catalog"
	routeParameters      = "/api/v1/parameters"
	routeDataset         = "/api/v1/dataset/{name}"
	routeDatasetParams   = "/api/v1/dataset/{name}/parameters"
	routeDashboard       = "/api/v1/dashboard/{name}"
	routeDashboardParams = "/api/v1/dashboard/{name}/parameters"
	healthRoute          = "/health"
)

type Mux interface {
	Handle(string, http.Handler)
	ServeHTTP(http.ResponseWriter, *http.Request)
}

// routesHandler is the main handler for all routes
func routesHandler(s1 *HttpService, mux Mux) (http.Handler, error) {
	s := s1.Load().(*squirrelsService)

	// Healthcheck API
	mux.Handle(healthRoute, healthCheckHandler(s1))

	// Data API
	mux.Handle(routeCatalog, dataCatalogHandler(s1))
	mux.Handle(routeParameters, parametersHandler(s1, ""))
	mux.Handle(routeDatasetParams, parametersHandler(s1, "dataset"))
	mux.Handle(routeDataset, datasetHandler(s1))
	mux.Handle(routeDashboardParams, parametersHandler(s1, "dashboard"))
	mux.Handle(routeDashboard, dashboardHandler(s1))

	var h http.Handler = mux

	if s.conf.rateLimiterEnable() {
		h = rateLimiterHandler(s1, h)
	}
	if len(s.conf.AllowedOrigins) != 0 {
		h = corsHandler(s.conf, h)
	}
	h = requestIDHandler(h)

	return setServerHeader(h), nil
}
