package api

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	fluxhealth "github.com/cuemby/flux/pkg/health"
	"github.com/cuemby/flux/pkg/log"
)

// AdminServer is the one gRPC surface this repository owns directly: health
// checking and reflection for operational tooling. The query/mutation wire
// protocol a real deployment would expose atop Database is an external
// collaborator and is not implemented here.
type AdminServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener

	db      *Database
	checker *fluxhealth.LeaseChecker
	status  *fluxhealth.Status
	stopCh  chan struct{}
}

// NewAdminServer binds addr and registers the standard gRPC health and
// reflection services, driving the reported status from db's commit lease:
// once db loses its lease to a concurrent writer, the admin surface flips
// to NOT_SERVING rather than keep claiming health it no longer has.
func NewAdminServer(db *Database, addr string) (*AdminServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	srv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	reflection.Register(srv)

	healthSrv.SetServingStatus("flux", healthpb.HealthCheckResponse_SERVING)

	a := &AdminServer{
		grpcServer: srv,
		health:     healthSrv,
		listener:   lis,
		db:         db,
		checker:    fluxhealth.NewLeaseChecker(db.Lease()),
		status:     fluxhealth.NewStatus(),
		stopCh:     make(chan struct{}),
	}
	go a.watchLease()
	return a, nil
}

// watchLease polls db's commit lease every health-check interval and feeds
// each result through Status, so the reported gRPC health turns NOT_SERVING
// once Retries consecutive checks have failed and operators stop routing to
// a fenced writer.
func (a *AdminServer) watchLease() {
	cfg := fluxhealth.DefaultConfig()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			result := a.checker.Check(context.Background())
			a.status.Update(result, cfg)
			a.SetServing(a.status.Healthy)
		}
	}
}

// Addr returns the bound listen address, useful when addr was "host:0".
func (a *AdminServer) Addr() string {
	return a.listener.Addr().String()
}

// Serve blocks, accepting connections until Stop is called.
func (a *AdminServer) Serve() error {
	log.Info("admin server listening on " + a.listener.Addr().String())
	return a.grpcServer.Serve(a.listener)
}

// SetServing updates the reported health status, e.g. NOT_SERVING while the
// lease is being fenced out during shutdown.
func (a *AdminServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	a.health.SetServingStatus("flux", status)
}

// Stop gracefully stops the gRPC server and the lease watcher.
func (a *AdminServer) Stop() {
	close(a.stopCh)
	a.grpcServer.GracefulStop()
}
