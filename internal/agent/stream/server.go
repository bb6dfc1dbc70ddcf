package stream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Channel names, also used as the hub's log field.
const (
	ChannelMain    = "main"
	ChannelStats   = "stats"
	ChannelFiles   = "files"
	ChannelDesktop = "desktop"
)

// Ports is the bound TCP port for each of the four channels, reported back
// to the discovery responder so the controller can dial all four in one
// round trip.
type Ports struct {
	Main    int
	Stats   int
	Files   int
	Desktop int
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server owns the four channel hubs and their HTTP listeners. It implements
// both task.Broadcaster (BroadcastMain) and metrics.StatsBroadcaster
// (BroadcastMain + BroadcastStats) so the task manager and sampler can
// depend on narrow interfaces instead of this concrete type.
type Server struct {
	log *logrus.Entry

	Main    *Hub
	Stats   *Hub
	Files   *Hub
	Desktop *Hub

	done     chan struct{}
	httpSrvs []*http.Server
}

// NewServer constructs the four hubs; call Start to bind listeners and Run
// their dispatch loops.
func NewServer(log *logrus.Entry) *Server {
	return &Server{
		log:     log.WithField("component", "stream"),
		Main:    NewHub(ChannelMain, log),
		Stats:   NewHub(ChannelStats, log),
		Files:   NewHub(ChannelFiles, log),
		Desktop: NewHub(ChannelDesktop, log),
		done:    make(chan struct{}),
	}
}

func (s *Server) BroadcastMain(event interface{})    { s.Main.BroadcastEvent(event) }
func (s *Server) BroadcastStats(event interface{})   { s.Stats.BroadcastEvent(event) }
func (s *Server) BroadcastFiles(event interface{})   { s.Files.BroadcastEvent(event) }
func (s *Server) BroadcastDesktop(event interface{}) { s.Desktop.BroadcastEvent(event) }

// Start starts each hub's dispatch loop and one HTTP listener per channel at
// host:port. Each listener binds in its own goroutine, so a bind failure is
// logged there and not returned; the returned error is always nil.
func (s *Server) Start(host string, ports Ports) error {
	go s.Main.Run(s.done)
	go s.Stats.Run(s.done)
	go s.Files.Run(s.done)
	go s.Desktop.Run(s.done)

	binds := []struct {
		hub  *Hub
		port int
	}{
		{s.Main, ports.Main},
		{s.Stats, ports.Stats},
		{s.Files, ports.Files},
		{s.Desktop, ports.Desktop},
	}

	for _, b := range binds {
		mux := http.NewServeMux()
		hub := b.hub
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			hub.Accept(conn)
		})

		addr := fmt.Sprintf("%s:%d", host, b.port)
		srv := &http.Server{Addr: addr, Handler: mux}
		s.httpSrvs = append(s.httpSrvs, srv)

		s.log.WithField("addr", addr).WithField("channel", hub.name).Info("stream channel listening")

		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.WithError(err).Error("stream listener error")
			}
		}()
	}

	return nil
}

// Stop shuts down all four listeners and their dispatch loops.
func (s *Server) Stop(ctx context.Context) {
	close(s.done)
	for _, srv := range s.httpSrvs {
		_ = srv.Shutdown(ctx)
	}
}
