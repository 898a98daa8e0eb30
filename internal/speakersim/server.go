package speakersim

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
)

// Server runs a Speaker on an httptest TLS listener.
type Server struct {
	*Speaker
	srv *httptest.Server
}

// Start serves a new Speaker over TLS on a loopback port.
func Start(cfg Config) *Server {
	sp := New(cfg)
	return &Server{Speaker: sp, srv: httptest.NewTLSServer(sp)}
}

// URL returns the https base URL, usable as the token service base.
func (s *Server) URL() string {
	return s.srv.URL
}

// Client returns an HTTP client that trusts the server certificate.
func (s *Server) Client() *http.Client {
	return s.srv.Client()
}

// HostPort returns the listener host and port.
func (s *Server) HostPort() (string, int) {
	host, p, _ := net.SplitHostPort(s.srv.Listener.Addr().String())
	port, _ := strconv.Atoi(p)
	return host, port
}

// Close drops controller connections and shuts the listener down.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}
