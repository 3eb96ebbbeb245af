// Package coedit exposes the Go APIs behind the single-binary collaborative
// editing server. Multiple users edit a shared tree of text files, chat, see
// each other's presence, and run short programs in a sandboxed subprocess;
// every state change is fanned out to connected editors over WebSockets. The
// server runs cleanly as PID 1, and the package also makes it easy to embed
// the server or mount its handler inside a larger HTTP surface.
//
// # Running a server
//
// The server listens on the TCP address in Config.Listen and stores the
// shared tree under Config.StorageRoot.
//
//	cfg := coedit.Config{
//	    Listen:      ":8341",
//	    StorageRoot: "/var/lib/coedit",
//	}
//	srv, err := coedit.NewServer(cfg)
//	if err != nil { log.Fatal(err) }
//	go func() {
//	    if err := srv.Start(); err != nil {
//	        log.Fatalf("coedit: %v", err)
//	    }
//	}()
//	defer func() {
//	    if err := srv.Shutdown(context.Background()); err != nil {
//	        log.Printf("coedit shutdown: %v", err)
//	    }
//	}()
//
// The top-level directory named by Config.ReservedNamespace (default "admin")
// is only readable and writable by callers with the ADMIN role; everything
// else is shared. Edits take a per-file lock for the duration of one edit
// request, so concurrent writers never interleave partial content.
//
// # Identity
//
// The server does not authenticate. It trusts the session layer in front of
// it to supply a user name and role, via the X-Coedit-User and X-Coedit-Role
// headers on REST calls and via explicit fields on WebSocket payloads.
//
// # Observability
//
// Setting Config.MetricsListen exposes Prometheus metrics, including Go
// runtime instrumentation. Setting Config.OTLPEndpoint exports traces over
// OTLP; the scheme picks the transport (grpc://, grpcs://, http://, https://,
// or a bare host:port for insecure gRPC). Config.PprofListen serves
// net/http/pprof. All three are off by default.
package coedit
