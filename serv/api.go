package serv

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-http-utils/headers"

	"github.com/squirrels-analytics/squirrels-sub000/auth"
	"github.com/squirrels-analytics/squirrels-sub000/core"
	"github.com/squirrels-analytics/squirrels-sub000/core/cerr"
)

const (
	headerAPIKey       = "x-api-key"
	headerOrientation  = "x-orientation"
	headerFeatureFlags = "x-feature-flags"
	headerConfigPrefix = "x-config-"
	bearerPrefix       = "Bearer "
)

// reserved request keys, accepted as query parameters or JSON body fields
const (
	keyVerifyParams = "x_verify_params"
	keyParentParam  = "x_parent_param"
	keyOrientation  = "x_orientation"
	keyOffset       = "x_offset"
	keyLimit        = "x_limit"
	keySQLQuery     = "x_sql_query"
	keySelect       = "x_select"
)

// requestInputs is one parsed request: selections plus the reserved keys.
type requestInputs struct {
	selections   map[string]string
	verifyParams bool
	parentParam  string
	shape        core.ResultShape
	featureFlags []string
}

// parseRequestInputs merges query parameters with an optional JSON body
// (body wins) and splits out the reserved x_ keys. An explicit x_limit above
// maxLimit is rejected; the default limit clamps to it.
func parseRequestInputs(r *http.Request, defaultLimit, maxLimit int) (*requestInputs, error) {
	raw := map[string]string{}
	for k, vs := range r.URL.Query() {
		if len(vs) == 0 {
			continue
		}
		if k == keySelect && len(vs) > 1 {
			raw[k] = strings.Join(vs, ",")
			continue
		}
		raw[k] = vs[0]
	}

	if r.Method == http.MethodPost && r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		var body map[string]any
		if err := dec.Decode(&body); err != nil {
			return nil, cerr.InvalidInput(fmt.Errorf("invalid json body: %w", err))
		}
		for k, v := range body {
			raw[k] = bodyValueString(v)
		}
	}

	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	in := &requestInputs{
		selections: make(map[string]string),
		shape:      core.ResultShape{Limit: defaultLimit},
	}

	var err error
	for k, v := range raw {
		switch k {
		case keyVerifyParams:
			if in.verifyParams, err = strconv.ParseBool(v); err != nil {
				return nil, cerr.InvalidInput(fmt.Errorf("%s must be a boolean", keyVerifyParams))
			}
		case keyParentParam:
			in.parentParam = v
		case keyOrientation:
			in.shape.Orientation = v
		case keyOffset:
			if in.shape.Offset, err = strconv.Atoi(v); err != nil {
				return nil, cerr.InvalidInput(fmt.Errorf("%s must be an integer", keyOffset))
			}
		case keyLimit:
			if in.shape.Limit, err = strconv.Atoi(v); err != nil {
				return nil, cerr.InvalidInput(fmt.Errorf("%s must be an integer", keyLimit))
			}
			if in.shape.Limit > maxLimit {
				return nil, cerr.InvalidInput(fmt.Errorf(
					"%s exceeds the project row cap of %d", keyLimit, maxLimit))
			}
		case keySQLQuery:
			in.shape.PostSQL = v
		case keySelect:
			in.shape.Select = parseSelectList(v)
		default:
			in.selections[k] = v
		}
	}

	// header overrides and extras
	if v := r.Header.Get(headerOrientation); v != "" {
		in.shape.Orientation = v
	}
	if v := r.Header.Get(headerFeatureFlags); v != "" {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				in.featureFlags = append(in.featureFlags, f)
			}
		}
	}
	return in, nil
}

// bodyValueString renders a JSON body value into the string form the
// selection grammar expects. Arrays stay JSON so multi-select parsing sees
// them as such.
func bodyValueString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// parseSelectList accepts a JSON array of column names or a comma list.
func parseSelectList(v string) []string {
	if strings.HasPrefix(strings.TrimSpace(v), "[") {
		var cols []string
		if err := json.Unmarshal([]byte(v), &cols); err == nil {
			return cols
		}
	}
	var cols []string
	for _, c := range strings.Split(v, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

// currentUser authenticates the request: x-api-key first, then a bearer
// token. No credential means a guest.
func currentUser(s *squirrelsService, r *http.Request) (*auth.User, error) {
	if key := r.Header.Get(headerAPIKey); key != "" {
		u, err := s.authn.UserFromAPIKey(r.Context(), key)
		if err != nil {
			return nil, cerr.Unauthorized(err)
		}
		return u, nil
	}

	if v := r.Header.Get(headers.Authorization); v != "" {
		if !strings.HasPrefix(v, bearerPrefix) {
			return nil, cerr.Unauthorized(fmt.Errorf("authorization header must use a bearer token"))
		}
		u, err := s.authn.UserFromToken(r.Context(), strings.TrimPrefix(v, bearerPrefix))
		if err != nil {
			return nil, cerr.Unauthorized(err)
		}
		return u, nil
	}
	return nil, nil
}

// configurablesFrom collects x-config-<name> headers. Header names normalize
// to lowercase with dashes turned into underscores; two spellings of the same
// configurable are a client error. Elevated configurables need an internal
// user.
func configurablesFrom(s *squirrelsService, r *http.Request, user *auth.User) (map[string]string, error) {
	var out map[string]string

	for key, vals := range r.Header {
		lower := strings.ToLower(key)
		if !strings.HasPrefix(lower, headerConfigPrefix) {
			continue
		}
		name := strings.ReplaceAll(strings.TrimPrefix(lower, headerConfigPrefix), "-", "_")

		if out == nil {
			out = make(map[string]string)
		}
		if _, dup := out[name]; dup || len(vals) > 1 {
			return nil, cerr.DuplicateConfigurable(name)
		}

		if elevated, declared := s.sq.Elevated(name); declared && elevated && !user.Admin() {
			return nil, cerr.Forbidden(fmt.Errorf("configurable %q requires admin access", name))
		}
		out[name] = vals[0]
	}
	return out, nil
}

// writeJSON encodes data as JSON and writes to response, handling errors
func writeJSON(w http.ResponseWriter, data any) {
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}

// renderError writes the wire-level error shape. Server-side faults get
// logged; the client still only sees the code and message.
func renderError(s *squirrelsService, w http.ResponseWriter, r *http.Request, err error) {
	code := cerr.CodeOf(err)
	status := cerr.StatusOf(err)

	if status >= http.StatusInternalServerError {
		s.log.Errorw("request failed",
			"path", r.URL.Path,
			"error", err,
			"request-id", r.Header.Get(requestIDHeader))
	}

	w.Header().Set(headers.ContentType, "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": code, "message": err.Error()})
}

func methodAllowed(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

// healthCheckHandler reports service liveness
// GET /health
func healthCheckHandler(s1 *HttpService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodGet) {
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK")) //nolint:errcheck
	})
}

// dataCatalogHandler lists the datasets and dashboards visible to the user
// GET /api/v1/data-catalog
func dataCatalogHandler(s1 *HttpService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodGet) {
			return
		}
		s := s1.Load().(*squirrelsService)

		user, err := currentUser(s, r)
		if err != nil {
			renderError(s, w, r, err)
			return
		}

		w.Header().Set(headers.ContentType, "application/json")
		writeJSON(w, s.sq.DataCatalog(user))
	})
}

// parametersHandler resolves parameters for the project or a named entity.
// An empty entityType serves the project-level endpoint.
// GET|POST /api/v1/parameters
// GET|POST /api/v1/dataset/{name}/parameters
// GET|POST /api/v1/dashboard/{name}/parameters
func parametersHandler(s1 *HttpService, entityType string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodGet, http.MethodPost) {
			return
		}
		s := s1.Load().(*squirrelsService)
		name := chi.URLParam(r, "name")

		in, err := parseRequestInputs(r, s.sq.DefaultLimit(), s.sq.MaxRows())
		if err != nil {
			renderError(s, w, r, err)
			return
		}

		user, err := currentUser(s, r)
		if err != nil {
			renderError(s, w, r, err)
			return
		}

		// updates mode reacts to exactly one widget change unless the
		// parent is named explicitly
		if in.parentParam == "" && len(in.selections) > 1 {
			renderError(s, w, r, cerr.InvalidInput(
				fmt.Errorf("more than one selection requires %s", keyParentParam)))
			return
		}

		if in.verifyParams {
			if err := s.sq.VerifyParams(entityType, name, selectionNames(in.selections)); err != nil {
				renderError(s, w, r, err)
				return
			}
		}

		out, err := s.sq.GetParameters(r.Context(), entityType, name, in.selections, user, in.parentParam)
		if err != nil {
			renderError(s, w, r, err)
			return
		}

		w.Header().Set(headers.ContentType, "application/json")
		writeJSON(w, out)
	})
}

// datasetHandler resolves, executes, and shapes a dataset
// GET|POST /api/v1/dataset/{name}
func datasetHandler(s1 *HttpService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodGet, http.MethodPost) {
			return
		}
		s := s1.Load().(*squirrelsService)

		req, err := datasetRequest(s, r, "dataset")
		if err != nil {
			renderError(s, w, r, err)
			return
		}

		out, err := s.sq.GetDataset(r.Context(), *req)
		if err != nil {
			renderError(s, w, r, err)
			return
		}

		w.Header().Set(headers.ContentType, "application/json")
		writeJSON(w, out)
	})
}

// dashboardHandler returns rendered dashboard bytes
// GET|POST /api/v1/dashboard/{name}
func dashboardHandler(s1 *HttpService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodGet, http.MethodPost) {
			return
		}
		s := s1.Load().(*squirrelsService)

		req, err := datasetRequest(s, r, "dashboard")
		if err != nil {
			renderError(s, w, r, err)
			return
		}

		body, contentType, err := s.sq.GetDashboard(r.Context(), *req)
		if err != nil {
			renderError(s, w, r, err)
			return
		}

		w.Header().Set(headers.ContentType, contentType)
		w.Write(body) //nolint:errcheck
	})
}

// datasetRequest assembles the core request shared by the dataset and
// dashboard handlers.
func datasetRequest(s *squirrelsService, r *http.Request, entityType string) (*core.DatasetRequest, error) {
	name := chi.URLParam(r, "name")

	in, err := parseRequestInputs(r, s.sq.DefaultLimit(), s.sq.MaxRows())
	if err != nil {
		return nil, err
	}

	user, err := currentUser(s, r)
	if err != nil {
		return nil, err
	}

	configurables, err := configurablesFrom(s, r, user)
	if err != nil {
		return nil, err
	}

	if in.verifyParams {
		if err := s.sq.VerifyParams(entityType, name, selectionNames(in.selections)); err != nil {
			return nil, err
		}
	}

	return &core.DatasetRequest{
		Name:          name,
		User:          user,
		Selections:    in.selections,
		Configurables: configurables,
		Shape:         in.shape,
	}, nil
}

func selectionNames(selections map[string]string) []string {
	names := make([]string, 0, len(selections))
	for k := range selections {
		names = append(names, k)
	}
	return names
}
