package httptransport

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"propmock/internal/domain/auth"
	"propmock/internal/domain/docstore"
	"propmock/internal/domain/query"
)

// Route is one entry of the interception table.
type Route struct {
	Method    string
	Pattern   string
	Resolver  gin.HandlerFunc
	Protected bool
}

// Routes builds the registration list for the /api surface. Patterns are
// relative to /api.
func Routes(deps Deps) []Route {
	a := authResolvers{svc: deps.Auth}
	routes := []Route{
		{Method: http.MethodPost, Pattern: "/auth/login", Resolver: a.login},
		{Method: http.MethodPost, Pattern: "/auth/refresh", Resolver: a.refresh},
		{Method: http.MethodPost, Pattern: "/auth/logout", Resolver: a.logout},
		{Method: http.MethodPost, Pattern: "/auth/switch", Resolver: a.switchIdentity},
		{Method: http.MethodPost, Pattern: "/auth/auto-login", Resolver: a.autoLogin},
		{Method: http.MethodGet, Pattern: "/users/me", Resolver: a.me, Protected: true},
	}

	for _, name := range deps.Resources {
		r := resourceResolvers{store: deps.Store, collection: name}
		base := "/" + name
		routes = append(routes,
			Route{Method: http.MethodGet, Pattern: base, Resolver: r.list, Protected: deps.RequireToken},
			Route{Method: http.MethodPost, Pattern: base + "/query", Resolver: r.query, Protected: deps.RequireToken},
			Route{Method: http.MethodGet, Pattern: base + "/:id", Resolver: r.get, Protected: deps.RequireToken},
			Route{Method: http.MethodPost, Pattern: base, Resolver: r.create, Protected: deps.RequireToken},
			Route{Method: http.MethodPatch, Pattern: base + "/:id", Resolver: r.update, Protected: deps.RequireToken},
			Route{Method: http.MethodPut, Pattern: base + "/:id", Resolver: r.update, Protected: deps.RequireToken},
			Route{Method: http.MethodDelete, Pattern: base + "/:id", Resolver: r.remove, Protected: deps.RequireToken},
		)
	}
	return routes
}

type authResolvers struct {
	svc *auth.Service
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type roleRequest struct {
	Role string `json:"role"`
}

func (a authResolvers) login(c *gin.Context) {
	var creds auth.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		respondError(c, http.StatusBadRequest, "invalid login body")
		return
	}
	grant, err := a.svc.Login(c.Request.Context(), creds)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

func (a authResolvers) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		respondError(c, http.StatusUnauthorized, "missing refresh token")
		return
	}
	grant, err := a.svc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

func (a authResolvers) logout(c *gin.Context) {
	var req refreshRequest
	// the body is optional
	_ = c.ShouldBindJSON(&req)
	if err := a.svc.Logout(c.Request.Context(), BearerToken(c.Request), req.RefreshToken); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a authResolvers) switchIdentity(c *gin.Context) {
	a.byRole(c, a.svc.SwitchIdentity)
}

func (a authResolvers) autoLogin(c *gin.Context) {
	a.byRole(c, a.svc.AutoLogin)
}

func (a authResolvers) byRole(c *gin.Context, mint func(ctx context.Context, role string) (auth.Grant, error)) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid role body")
		return
	}
	grant, err := mint(c.Request.Context(), req.Role)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

func (a authResolvers) me(c *gin.Context) {
	p, err := principal(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, p.User)
}

type resourceResolvers struct {
	store      *docstore.Store
	collection string
}

// visible strips secrets from records leaving the mock backend.
func (r resourceResolvers) visible(rec docstore.Record) docstore.Record {
	if r.collection == auth.UsersCollection {
		return auth.Sanitize(rec)
	}
	return rec
}

func (r resourceResolvers) visibleAll(coll docstore.Collection) docstore.Collection {
	if r.collection != auth.UsersCollection {
		return coll
	}
	for i, rec := range coll {
		coll[i] = auth.Sanitize(rec)
	}
	return coll
}

func (r resourceResolvers) respondList(c *gin.Context, coll docstore.Collection) {
	order := query.ParseOrder(c.Request.URL.Query())
	c.Header("X-Total-Count", strconv.Itoa(len(coll)))
	page := docstore.Collection(order.Apply(coll))
	c.JSON(http.StatusOK, r.visibleAll(page))
}

func (r resourceResolvers) list(c *gin.Context) {
	filter := query.ParseValues(c.Request.URL.Query())
	r.respondList(c, r.store.Query(c.Request.Context(), r.collection, filter))
}

func (r resourceResolvers) query(c *gin.Context) {
	var body map[string]any
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, http.StatusBadRequest, "filter must be a JSON object")
			return
		}
	}
	r.respondList(c, r.store.Query(c.Request.Context(), r.collection, query.Parse(body)))
}

func (r resourceResolvers) get(c *gin.Context) {
	rec, err := r.store.Get(c.Request.Context(), r.collection, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, r.visible(rec))
}

func (r resourceResolvers) create(c *gin.Context) {
	var body docstore.Record
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "record must be a JSON object")
		return
	}
	m, err := r.store.Add(c.Request.Context(), r.collection, body)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, r.visible(m.Record))
}

func (r resourceResolvers) update(c *gin.Context) {
	var patch docstore.Record
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, http.StatusBadRequest, "patch must be a JSON object")
		return
	}
	m, err := r.store.Update(c.Request.Context(), r.collection, c.Param("id"), patch)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, r.visible(m.Record))
}

func (r resourceResolvers) remove(c *gin.Context) {
	m, err := r.store.Remove(c.Request.Context(), r.collection, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, r.visible(m.Record))
}
