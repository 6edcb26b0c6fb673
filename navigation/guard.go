package navigation

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// RedirectParam is the query parameter carrying the post-login destination.
const RedirectParam = "redirect"

// Authenticator reports whether a usable session exists.
// *goSession.SessionStore satisfies it.
type Authenticator interface {
	IsAuthenticated() bool
}

// Route describes one navigable view.
type Route struct {
	Name          string
	Path          string
	RequiresAuth  bool
	RequiresGuest bool
}

// Decision is the outcome of resolving a navigation.
type Decision struct {
	Allow bool
	// Redirect is the local URL to navigate to when Allow is false.
	Redirect string
}

// Guard resolves navigations against a fixed route table.
type Guard struct {
	auth   Authenticator
	routes map[string]Route
	login  string
	home   string
}

// NewGuard builds a guard. loginPath and homePath are the redirect targets for
// protected and guest-only routes.
func NewGuard(auth Authenticator, loginPath, homePath string, routes ...Route) (*Guard, error) {
	if auth == nil {
		return nil, errors.New("navigation: authenticator is required")
	}
	if !isLocalPath(loginPath) || !isLocalPath(homePath) {
		return nil, errors.New("navigation: login and home paths must be local absolute paths")
	}

	g := &Guard{
		auth:   auth,
		routes: make(map[string]Route, len(routes)),
		login:  loginPath,
		home:   homePath,
	}
	for _, r := range routes {
		if r.RequiresAuth && r.RequiresGuest {
			return nil, errors.New("navigation: route " + r.Name + " cannot require both auth and guest")
		}
		if !isLocalPath(r.Path) {
			return nil, errors.New("navigation: route " + r.Name + " has an invalid path")
		}
		g.routes[cleanPath(r.Path)] = r
	}

	return g, nil
}

// Route returns the route registered for path.
func (g *Guard) Route(path string) (Route, bool) {
	r, ok := g.routes[cleanPath(path)]
	return r, ok
}

// Resolve decides whether target (a local URL, path plus optional query) may
// be entered. Unknown routes are allowed.
func (g *Guard) Resolve(target string) Decision {
	u, err := url.Parse(target)
	if err != nil || u.IsAbs() || u.Host != "" {
		return Decision{Redirect: g.home}
	}

	route, ok := g.Route(u.Path)
	if !ok {
		return Decision{Allow: true}
	}

	authenticated := g.auth.IsAuthenticated()
	switch {
	case route.RequiresAuth && !authenticated:
		q := url.Values{}
		q.Set(RedirectParam, u.RequestURI())
		return Decision{Redirect: g.login + "?" + q.Encode()}
	case route.RequiresGuest && authenticated:
		if dest := u.Query().Get(RedirectParam); isLocalPath(dest) {
			if _, guest := g.guestOnly(dest); !guest {
				return Decision{Redirect: dest}
			}
		}
		return Decision{Redirect: g.home}
	}

	return Decision{Allow: true}
}

// AfterLogin returns the destination preserved in target's redirect parameter,
// or the home route.
func (g *Guard) AfterLogin(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return g.home
	}
	dest := u.Query().Get(RedirectParam)
	if !isLocalPath(dest) {
		return g.home
	}
	if _, guest := g.guestOnly(dest); guest {
		return g.home
	}
	return dest
}

// Middleware enforces Resolve on incoming requests.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Resolve(r.URL.RequestURI())
		if !d.Allow {
			http.Redirect(w, r, d.Redirect, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) guestOnly(dest string) (Route, bool) {
	u, err := url.Parse(dest)
	if err != nil {
		return Route{}, false
	}
	r, ok := g.Route(u.Path)
	return r, ok && r.RequiresGuest
}

// isLocalPath rejects absolute and protocol-relative URLs so the redirect
// parameter cannot send the caller off-site.
func isLocalPath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return false
	}
	u, err := url.Parse(p)
	return err == nil && !u.IsAbs() && u.Host == ""
}

func cleanPath(p string) string {
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
