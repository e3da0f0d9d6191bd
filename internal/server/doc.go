// Package server is a small RFC 6455 WebSocket server built on raw TCP.
//
// Each accepted connection becomes a session that runs on a fixed-size
// worker pool for its whole lifetime. A session performs the opening
// handshake, then feeds everything it reads into an incremental frame
// parser. Pings are answered, close frames are echoed, and every data
// message is relayed to all open sessions through the Hub.
//
// Usage:
//
//	srv, err := server.New(server.DefaultConfig(), logger, m)
//	if err != nil {
//	    return err
//	}
//	err = srv.ListenAndServe(ctx)
package server
