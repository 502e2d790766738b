package server

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/computersciencehouse/quickpoll/auth"
	"github.com/computersciencehouse/quickpoll/database"
	"github.com/computersciencehouse/quickpoll/logging"
	"github.com/computersciencehouse/quickpoll/polls"
	"github.com/computersciencehouse/quickpoll/sse"
	"github.com/gin-gonic/gin"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

type Server struct {
	engine *polls.Engine
	store  database.Store
	auth   auth.Authenticator
	broker *sse.Broker
	router *gin.Engine
}

func New(engine *polls.Engine, store database.Store, authn auth.Authenticator, broker *sse.Broker) (*Server, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(logging.Middleware(), gin.Recovery())
	r.SetHTMLTemplate(tmpl)

	s := &Server{
		engine: engine,
		store:  store,
		auth:   authn,
		broker: broker,
		router: r,
	}

	authn.Register(r)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	r.GET("/", authn.Wrap(s.index))
	r.GET("/create", authn.Wrap(s.createForm))
	r.POST("/create", authn.Wrap(s.createPoll))
	r.POST("/vote", authn.Wrap(s.submitVote))
	r.GET("/results/:id", authn.Wrap(s.results))
	r.GET("/stream/:topic", authn.Wrap(broker.ServeHTTP))

	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}
