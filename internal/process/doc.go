// Package process supervises the local hub-mediation service.
//
// Child cameras behind a hub are reached through a helper HTTP service on
// the same host. When reolinkd is configured with the command that runs it,
// a Supervisor launches the service, waits until it answers, restarts it
// with backoff when it dies or stops answering, and terminates its process
// group on shutdown.
//
//	sup, err := process.NewSupervisor(process.Config{
//	    Name:    "aio-api",
//	    Command: []string{"/opt/reolink/aio_api", "--port", "44011"},
//	    Ready:   mediated.Ping,
//	})
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package process
