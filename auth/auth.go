package auth

import (
	csh_auth "github.com/computersciencehouse/csh-auth"
	"github.com/computersciencehouse/quickpoll/config"
	"github.com/gin-gonic/gin"
)

// Identity is the stable user identity resolved from a request.
type Identity struct {
	Id    string
	Name  string
	Email string
	Image string
}

// Authenticator is the identity provider as seen by the rest of the app.
//
// Register mounts the provider's login flow, Wrap gates a handler behind a
// session, and Identity reports who the current request belongs to.
type Authenticator interface {
	Register(r gin.IRouter)
	Wrap(h gin.HandlerFunc) gin.HandlerFunc
	Identity(c *gin.Context) (Identity, bool)
}

// CSH authenticates against the CSH OIDC provider and keeps the session in a
// signed cookie issued by csh-auth.
type CSH struct {
	csh csh_auth.CSHAuth
}

func NewCSH(cfg config.OIDC) *CSH {
	a := &CSH{}
	a.csh.Init(
		cfg.ClientID,
		cfg.ClientSecret,
		cfg.JWTSecret,
		cfg.State,
		cfg.Host,
		cfg.Host+"/auth/callback",
		cfg.Host+"/auth/login",
		[]string{"profile", "email"},
	)
	return a
}

func (a *CSH) Register(r gin.IRouter) {
	r.GET("/auth/login", a.csh.AuthRequest)
	r.GET("/auth/callback", a.csh.AuthCallback)
	r.GET("/auth/logout", a.csh.AuthLogout)
}

func (a *CSH) Wrap(h gin.HandlerFunc) gin.HandlerFunc {
	return a.csh.AuthWrapper(h)
}

func (a *CSH) Identity(c *gin.Context) (Identity, bool) {
	cl, ok := c.Get("cshauth")
	if !ok {
		return Identity{}, false
	}
	claims, ok := cl.(csh_auth.CSHClaims)
	if !ok || claims.UserInfo.Username == "" {
		return Identity{}, false
	}
	return Identity{
		Id:   claims.UserInfo.Username,
		Name: claims.UserInfo.FullName,
	}, true
}
