package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestNewRouter(t *testing.T) {
	r := NewRouter(gin.New())
	assert.Equal(t, "v1", r.apiVersion)
	assert.Equal(t, "/api/v1", r.BasePath())
	assert.Empty(t, r.registrars)

	r = NewRouter(gin.New(), WithAPIVersion("v2"))
	assert.Equal(t, "/api/v2", r.BasePath())
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine, WithMiddleware(func(c *gin.Context) {
		c.Header("X-API", "1")
		c.Next()
	}))

	queues := NewDomainGroup("queues", "/queues").
		GET("/retry", func(c *gin.Context) { c.String(http.StatusOK, "retry") }).
		POST("/dead-letter/retry-all", func(c *gin.Context) { c.String(http.StatusOK, "requeued") })
	slos := NewDomainGroup("slos", "/slos").
		GET("", func(c *gin.Context) { c.String(http.StatusOK, "list") })

	r.Register(queues).Register(slos)
	r.Setup()

	w := serve(engine, "GET", "/api/v1/queues/retry")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "retry", w.Body.String())
	assert.Equal(t, "1", w.Header().Get("X-API"))

	w = serve(engine, "POST", "/api/v1/queues/dead-letter/retry-all")
	assert.Equal(t, "requeued", w.Body.String())

	w = serve(engine, "GET", "/api/v1/slos")
	assert.Equal(t, "list", w.Body.String())

	w = serve(engine, "GET", "/queues/retry")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDomainGroup(t *testing.T) {
	t.Run("name and prefix", func(t *testing.T) {
		g := NewDomainGroup("messages", "/messages")
		assert.Equal(t, "messages", g.Name())
		assert.Equal(t, "/messages", g.Prefix())
	})

	t.Run("group middleware only wraps its routes", func(t *testing.T) {
		engine := gin.New()
		api := engine.Group("/api/v1")

		guarded := NewDomainGroup("guarded", "/guarded").
			Use(func(c *gin.Context) { c.AbortWithStatus(http.StatusForbidden) }).
			GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
		open := NewDomainGroup("open", "/open").
			GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
		guarded.RegisterRoutes(api)
		open.RegisterRoutes(api)

		assert.Equal(t, http.StatusForbidden, serve(engine, "GET", "/api/v1/guarded/x").Code)
		assert.Equal(t, http.StatusOK, serve(engine, "GET", "/api/v1/open/x").Code)
	})

	t.Run("subgroups nest under the parent prefix", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("queues", "/queues")
		g.Group("dead-letter", "/dead-letter").
			GET("", func(c *gin.Context) { c.String(http.StatusOK, "dlq") })
		g.RegisterRoutes(engine.Group("/api/v1"))

		w := serve(engine, "GET", "/api/v1/queues/dead-letter")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "dlq", w.Body.String())
	})

	t.Run("static segments coexist with parameters", func(t *testing.T) {
		engine := gin.New()
		NewDomainGroup("slos", "/slos").
			GET("/report", func(c *gin.Context) { c.String(http.StatusOK, "report") }).
			GET("/:id", func(c *gin.Context) { c.String(http.StatusOK, c.Param("id")) }).
			RegisterRoutes(engine.Group("/api/v1"))

		assert.Equal(t, "report", serve(engine, "GET", "/api/v1/slos/report").Body.String())
		assert.Equal(t, "abc", serve(engine, "GET", "/api/v1/slos/abc").Body.String())
	})
}
