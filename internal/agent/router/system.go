package router

import "github.com/otusfleet/fleetctl/internal/protocol"

func (s *Server) handleSystemInfo(req *protocol.Request) (interface{}, error) {
	return s.deps.System.Info()
}

func (s *Server) handleSystemNetwork(req *protocol.Request) (interface{}, error) {
	return s.deps.System.NetworkInterfaces()
}

// handleSystemReboot and handleSystemShutdown are fire-and-forget: the
// caller gets {accepted:true} without waiting for the underlying command to
// run to completion, since a successful reboot/shutdown never returns.
func (s *Server) handleSystemReboot(req *protocol.Request) (interface{}, error) {
	if err := s.deps.System.Reboot(); err != nil {
		return nil, err
	}
	return map[string]interface{}{"accepted": true}, nil
}

func (s *Server) handleSystemShutdown(req *protocol.Request) (interface{}, error) {
	if err := s.deps.System.Shutdown(); err != nil {
		return nil, err
	}
	return map[string]interface{}{"accepted": true}, nil
}
